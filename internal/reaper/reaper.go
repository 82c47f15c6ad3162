// Package reaper implements the background sweep that expires unconfirmed
// reservation requests.
package reaper

import (
	"context"
	"log"
	"time"

	"github.com/dinebook/reservation/internal/repository"
)

// Reaper periodically cancels PENDING reservations older than the TTL.
// Each sweep is a single bulk conditional update whose WHERE clause
// re-checks the status at write time, so a reservation confirmed between
// two sweeps is never touched and a duplicate reaper instance is harmless,
// just wasteful. Expiry does not promote waitlisted entries; only a manual
// cancellation does.
//
// The reaper is an explicit task with its own lifecycle: call Start once
// and Stop on shutdown. Run one active instance per deployment.
type Reaper struct {
	repo     *repository.ReservationRepo
	ttl      time.Duration
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// New builds a Reaper that sweeps every interval, cancelling PENDING
// reservations created more than ttl ago.
func New(repo *repository.ReservationRepo, ttl, interval time.Duration) *Reaper {
	return &Reaper{
		repo:     repo,
		ttl:      ttl,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop in a goroutine. The first sweep runs
// immediately.
func (r *Reaper) Start() {
	go r.run()
}

// Stop signals the loop to exit and waits for the in-flight sweep to
// finish.
func (r *Reaper) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Reaper) run() {
	defer close(r.done)
	t := time.NewTicker(r.interval)
	defer t.Stop()

	r.sweep()
	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			r.sweep()
		}
	}
}

// sweep runs one bulk expiry pass. Failures are logged and retried on the
// next tick.
func (r *Reaper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-r.ttl)
	n, err := r.repo.ExpirePending(ctx, cutoff)
	if err != nil {
		log.Printf("reaper: expire pending failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("reaper: auto-cancelled %d pending reservations older than %s", n, r.ttl)
	}
}
