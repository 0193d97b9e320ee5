package velocity

import (
	"context"
	"fmt"
	"time"
)

// Config sets the sliding window and the count above which a user is
// flagged.
type Config struct {
	Window          time.Duration
	MaxTransactions int
}

// Result is the outcome of one velocity check.
type Result struct {
	Count  int
	Abuse  bool
	Reason string
}

// Tracker records transactions and flags bursts.
type Tracker struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker over store.
func NewTracker(store Store, cfg Config, opts ...Option) *Tracker {
	t := &Tracker{store: store, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordAndCheck appends a transaction for userID and reports whether the
// window now holds more than MaxTransactions entries.
func (t *Tracker) RecordAndCheck(ctx context.Context, userID string) (Result, error) {
	n, err := t.store.RecordAndCount(ctx, userID, t.now(), t.cfg.Window)
	if err != nil {
		return Result{}, fmt.Errorf("record velocity: %w", err)
	}
	res := Result{Count: n, Abuse: n > t.cfg.MaxTransactions}
	if res.Abuse {
		res.Reason = fmt.Sprintf("Velocity abuse: %d transactions in %d minutes (threshold: %d)",
			n, int(t.cfg.Window/time.Minute), t.cfg.MaxTransactions)
	}
	return res, nil
}

// Config returns the tracker's settings.
func (t *Tracker) Config() Config {
	return t.cfg
}
