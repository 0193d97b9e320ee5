// Package velocity counts transactions per user in a sliding time window.
package velocity

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable is returned when a remote window store cannot serve
// a request.
var ErrStoreUnavailable = errors.New("velocity: store unavailable")

// Store records one transaction for userID at now and returns how many
// transactions fall inside (now-window, now], including this one.
// Implementations must make the purge, append and count atomic per user.
type Store interface {
	RecordAndCount(ctx context.Context, userID string, now time.Time, window time.Duration) (int, error)
}
