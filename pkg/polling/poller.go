// Package polling implements the client-side status polling loop for
// asynchronous jobs: poll fast while the job is moving, back off while it is
// not, stop the moment it lands in a terminal status.
package polling

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultBaseInterval = 2 * time.Second
	defaultMaxInterval  = 30 * time.Second
	defaultMultiplier   = 1.5
)

// Snapshot is one observation of a job's state.
type Snapshot struct {
	Status    string
	Processed int
	Total     int

	// Terminal marks the job as finished; polling stops on the first
	// terminal snapshot.
	Terminal bool
}

// changedFrom reports whether anything observable moved between two
// snapshots.
func (s Snapshot) changedFrom(prev Snapshot) bool {
	return s.Status != prev.Status || s.Processed != prev.Processed
}

// StatusFetcher retrieves the current snapshot for a job.
type StatusFetcher func(ctx context.Context, jobID string) (Snapshot, error)

// Option configures a Poller.
type Option func(*Poller)

// WithBaseInterval sets the interval used after any observed change.
func WithBaseInterval(d time.Duration) Option { return func(p *Poller) { p.base = d } }

// WithMaxInterval caps the interval growth.
func WithMaxInterval(d time.Duration) Option { return func(p *Poller) { p.max = d } }

// WithMultiplier sets the growth factor applied while nothing changes.
func WithMultiplier(m float64) Option { return func(p *Poller) { p.multiplier = m } }

// WithObserver registers a callback invoked on every fetched snapshot.
func WithObserver(fn func(Snapshot)) Option { return func(p *Poller) { p.observer = fn } }

// Poller drives the polling loop for one or more jobs. It is stateless
// across Poll calls and safe for concurrent use.
type Poller struct {
	fetch      StatusFetcher
	base       time.Duration
	max        time.Duration
	multiplier float64
	observer   func(Snapshot)
}

// New creates a poller over the given fetcher.
func New(fetch StatusFetcher, opts ...Option) *Poller {
	p := &Poller{
		fetch:      fetch,
		base:       defaultBaseInterval,
		max:        defaultMaxInterval,
		multiplier: defaultMultiplier,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll fetches the job's status until it reaches a terminal state or ctx
// ends, returning the final snapshot. The interval between fetches starts at
// the base, grows by the multiplier while consecutive snapshots are
// identical, caps at the maximum, and snaps back to the base whenever the
// status or progress moves.
func (p *Poller) Poll(ctx context.Context, jobID string) (Snapshot, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.base
	bo.MaxInterval = p.max
	bo.Multiplier = p.multiplier
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	var last Snapshot
	first := true

	for {
		snap, err := p.fetch(ctx, jobID)
		if err != nil {
			return last, err
		}
		if p.observer != nil {
			p.observer(snap)
		}

		if snap.Terminal {
			return snap, nil
		}

		if first || snap.changedFrom(last) {
			bo.Reset()
			first = false
		}
		last = snap

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}
}
