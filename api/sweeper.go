/*
sweeper.go - Stale reservation sweeper

PURPOSE:
  A form that is opened and then abandoned without an explicit release
  leaves a reserved record behind. The sweeper periodically deletes
  reserved records older than a TTL. Submitted records are never touched,
  and numbers are never reissued: the counter only moves forward.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - One conditional DELETE per run (status = 'reserved' AND date_opened < cutoff)
  - Disabled when TTL is zero

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - TTL:           Minimum age of a reservation before it is swept

USAGE:
  sweeper := NewReservationSweeper(store, 48*time.Hour)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: ReleaseReservation endpoint (explicit release)
  - store/sqlite/applications.go: DeleteStaleReservations
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"
)

// StaleReservationStore deletes reservations opened before a cutoff.
type StaleReservationStore interface {
	DeleteStaleReservations(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReservationSweeper releases abandoned reservations.
type ReservationSweeper struct {
	Store         StaleReservationStore
	TTL           time.Duration
	CheckInterval time.Duration
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReservationSweeper creates a sweeper. A zero ttl disables it.
func NewReservationSweeper(store StaleReservationStore, ttl time.Duration) *ReservationSweeper {
	return &ReservationSweeper{
		Store:         store,
		TTL:           ttl,
		CheckInterval: 1 * time.Hour,
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether the sweeper will run.
func (s *ReservationSweeper) Enabled() bool {
	return s.TTL > 0 && s.CheckInterval > 0
}

// Start begins sweeping in the background.
func (s *ReservationSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled() {
		log.Println("[Sweeper] Disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	log.Printf("[Sweeper] Started with check interval %v, reservation TTL %v", s.CheckInterval, s.TTL)
}

// Stop stops the sweeper and waits for an in-flight sweep to finish.
func (s *ReservationSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		log.Println("[Sweeper] Stopped")
	}
}

func (s *ReservationSweeper) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow performs one sweep and returns the number of reservations deleted.
func (s *ReservationSweeper) RunNow(ctx context.Context) int64 {
	cutoff := s.Now().Add(-s.TTL)

	n, err := s.Store.DeleteStaleReservations(ctx, cutoff)
	if err != nil {
		log.Printf("[Sweeper] Error sweeping reservations: %v", err)
		return 0
	}
	if n > 0 {
		sweptTotal.Add(float64(n))
		log.Printf("[Sweeper] Released %d reservations opened before %s", n, cutoff.Format(time.RFC3339))
	}
	return n
}
