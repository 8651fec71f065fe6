package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// Pinger matches connection pools that expose a Ping method, such as
// pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck returns a readiness check that pings the given pool.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// GoroutineCount returns a liveness check that fails when the goroutine
// count exceeds the limit, catching goroutine leaks before the process
// degrades.
func GoroutineCount(limit int) CheckFunc {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("goroutine count %d exceeds limit %d", n, limit)
		}
		return nil
	}
}
