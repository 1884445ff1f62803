package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pecadmissions/admissions/admission"
)

// =============================================================================
// ACCOUNT STORE
// =============================================================================

// Role is a staff account role.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleCoordinator Role = "coordinator"
)

// Account is a staff account. Coordinators own the applications they reserve.
type Account struct {
	ID           string
	Role         Role
	FirstName    string
	LastName     string
	Email        string
	Phone        string
	PasswordHash string
	Work         string
	CreatedAt    time.Time
}

// FullName is the name recorded as application owner.
func (a Account) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

const accountColumns = "id, role, first_name, last_name, email, phone, password_hash, work, created_at"

// CreateAccount inserts acc, assigning an ID when empty. Emails are stored
// lowercased; a duplicate email is admission.ErrIntegrityConflict.
func (s *Store) CreateAccount(ctx context.Context, acc Account) (*Account, error) {
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now().UTC()
	}
	acc.Email = strings.ToLower(strings.TrimSpace(acc.Email))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acc.ID, string(acc.Role), acc.FirstName, acc.LastName, acc.Email,
		nullString(acc.Phone), acc.PasswordHash, acc.Work, formatTime(acc.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create account %s: %w", acc.Email, classify(err))
	}
	return &acc, nil
}

// GetAccount retrieves an account by ID. Returns nil if not found.
func (s *Store) GetAccount(ctx context.Context, id string) (*Account, error) {
	return s.getAccount(ctx, "id = ?", id)
}

// GetAccountByEmail retrieves an account by email. Returns nil if not found.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	return s.getAccount(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) getAccount(ctx context.Context, where string, arg any) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE `+where, arg)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return &acc, nil
}

// ListAccounts returns accounts with the role, ordered by name.
// An empty role lists every account.
func (s *Store) ListAccounts(ctx context.Context, role Role) ([]Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	var args []any
	if role != "" {
		query += ` WHERE role = ?`
		args = append(args, string(role))
	}
	query += ` ORDER BY first_name, last_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// UpdateWork replaces the account's work notes.
func (s *Store) UpdateWork(ctx context.Context, id, work string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET work = ? WHERE id = ?`, work, id)
	if err != nil {
		return fmt.Errorf("failed to update work: %w", classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return admission.ErrNotFound
	}
	return nil
}

// EnsureAccount creates acc unless an account with its email exists.
// created reports whether a new row was written.
func (s *Store) EnsureAccount(ctx context.Context, acc Account) (created bool, err error) {
	existing, err := s.GetAccountByEmail(ctx, acc.Email)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	if _, err := s.CreateAccount(ctx, acc); err != nil {
		if errors.Is(err, admission.ErrIntegrityConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// legacyStaffTables are the per-role staff tables of database files written
// before the accounts table existed.
var legacyStaffTables = []struct {
	Table string
	Role  Role
}{
	{"admins", RoleAdmin},
	{"coordinators", RoleCoordinator},
}

// ImportLegacyStaff copies staff from the legacy admins and coordinators
// tables into accounts. Legacy passwords are plain text; hash turns them into
// stored hashes. Rows without an email or password, and emails that already
// have an account, are skipped, so running it again imports nothing new.
// Returns the number of accounts created.
func (s *Store) ImportLegacyStaff(ctx context.Context, hash func(string) (string, error)) (int, error) {
	imported := 0
	for _, legacy := range legacyStaffTables {
		present, err := probeColumns(ctx, s.db, legacy.Table)
		if err != nil {
			return imported, err
		}
		if !present["email"] || !present["password"] {
			continue
		}

		staff, err := s.readLegacyStaff(ctx, legacy.Table, legacy.Role, present)
		if err != nil {
			return imported, err
		}
		for _, st := range staff {
			if st.Email == "" || st.PasswordHash == "" {
				continue
			}
			if st.PasswordHash, err = hash(st.PasswordHash); err != nil {
				return imported, fmt.Errorf("failed to hash password for %s: %w", st.Email, err)
			}
			created, err := s.EnsureAccount(ctx, st)
			if err != nil {
				return imported, err
			}
			if created {
				imported++
			}
		}
	}
	if imported > 0 {
		log.Printf("[Accounts] Imported %d legacy staff accounts", imported)
	}
	return imported, nil
}

func (s *Store) readLegacyStaff(ctx context.Context, table string, role Role, present map[string]bool) ([]Account, error) {
	col := func(name string) string {
		if present[name] {
			return name
		}
		return "NULL"
	}
	query := fmt.Sprintf(`SELECT %s, %s, email, %s, password, %s FROM %s ORDER BY rowid`,
		col("first_name"), col("last_name"), col("phone"), col("work"), table)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer rows.Close()

	var staff []Account
	for rows.Next() {
		var first, last, email, phone, password, work sql.NullString
		if err := rows.Scan(&first, &last, &email, &phone, &password, &work); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		staff = append(staff, Account{
			Role:         role,
			FirstName:    strings.TrimSpace(first.String),
			LastName:     strings.TrimSpace(last.String),
			Email:        email.String,
			Phone:        phone.String,
			PasswordHash: password.String,
			Work:         work.String,
		})
	}
	return staff, rows.Err()
}

func scanAccount(row rowScanner) (Account, error) {
	var (
		acc       Account
		role      string
		phone     sql.NullString
		createdAt sql.NullString
	)
	err := row.Scan(&acc.ID, &role, &acc.FirstName, &acc.LastName, &acc.Email,
		&phone, &acc.PasswordHash, &acc.Work, &createdAt)
	if err != nil {
		return acc, err
	}
	acc.Role = Role(role)
	acc.Phone = phone.String
	if t := parseTime(createdAt); t != nil {
		acc.CreatedAt = *t
	}
	return acc, nil
}
