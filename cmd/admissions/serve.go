package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pecadmissions/admissions/api"
	"github.com/pecadmissions/admissions/auth"
	"github.com/pecadmissions/admissions/store/sqlite"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Port int
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the admissions HTTP API.

On SIGINT/SIGTERM the server stops accepting connections, waits up to 30s
for active requests, stops the reservation sweeper and closes the database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				opts.Config.Port = opts.Port
			}
			return runServe(opts)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", 8080, "HTTP server port (env PORT)")

	return cmd
}

func runServe(opts *ServeOptions) error {
	cfg := opts.Config
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required to serve")
	}

	// Initialize store
	store, err := opts.openStore()
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	if missing := store.Capabilities().Missing(); len(missing) > 0 {
		log.Printf("Warning: running against a legacy schema, missing columns %v", missing)
	}

	if err := ensureAdmin(context.Background(), store, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		return err
	}

	// Initialize handler
	handler := api.NewHandler(store, auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL))
	router := api.NewRouter(handler, cfg.CORSOrigins)

	sweeper := api.NewReservationSweeper(store, cfg.ReservationTTL)
	sweeper.CheckInterval = cfg.SweepInterval
	sweeper.Start()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Server starting on http://localhost:%d", cfg.Port)
		log.Printf("API available at http://localhost:%d/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-quit:
	}

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// ensureAdmin creates the bootstrap admin account on first start.
// Nothing happens without a password.
func ensureAdmin(ctx context.Context, store *sqlite.Store, email, password string) error {
	if password == "" {
		return nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	created, err := store.EnsureAccount(ctx, sqlite.Account{
		Role:         sqlite.RoleAdmin,
		FirstName:    "Admin",
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}
	if created {
		log.Printf("Created admin account %s", email)
	}
	return nil
}
