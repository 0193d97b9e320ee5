package velocity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/sentinel/internal/circuitbreaker"
	"github.com/mbd888/sentinel/internal/metrics"
)

// FallbackStore serves from a primary store while it is healthy and from
// a local store when the primary errors or its breaker is open. Counts
// taken in fallback are per replica until the primary recovers.
type FallbackStore struct {
	primary  Store
	fallback Store
	breaker  *circuitbreaker.Breaker
	logger   *slog.Logger
}

// NewFallbackStore guards primary with breaker.
func NewFallbackStore(primary, fallback Store, breaker *circuitbreaker.Breaker, logger *slog.Logger) *FallbackStore {
	return &FallbackStore{primary: primary, fallback: fallback, breaker: breaker, logger: logger}
}

func (s *FallbackStore) RecordAndCount(ctx context.Context, userID string, now time.Time, window time.Duration) (int, error) {
	if !s.breaker.Allow() {
		metrics.VelocityFallbacksTotal.WithLabelValues("circuit_open").Inc()
		return s.fallback.RecordAndCount(ctx, userID, now, window)
	}

	n, err := s.primary.RecordAndCount(ctx, userID, now, window)
	if err == nil {
		s.breaker.Success()
		return n, nil
	}
	if errors.Is(err, context.Canceled) {
		return 0, err
	}

	s.breaker.Failure()
	metrics.VelocityFallbacksTotal.WithLabelValues("error").Inc()
	s.logger.Warn("velocity store failed, using local window", "user", userID, "error", err)
	return s.fallback.RecordAndCount(ctx, userID, now, window)
}

// Degraded reports whether the primary is currently bypassed.
func (s *FallbackStore) Degraded() bool {
	return s.breaker.State() != circuitbreaker.StateClosed
}
