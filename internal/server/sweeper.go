package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/emberfed/emberauth/internal/domain/grant"
	"github.com/emberfed/emberauth/internal/ratelimit"
)

const (
	sweepInterval  = time.Minute
	limiterMaxIdle = 15 * time.Minute
)

// StartSweeper runs the grant expiry sweep in the background and drops
// idle rate limiter buckets along the way. The sweep is advisory; every
// read path re-checks expires_at itself.
func StartSweeper(ctx context.Context, grants grant.Service, limiters ...*ratelimit.Limiter) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := grants.ExpireStale(ctx)
				if err != nil {
					slog.Error("Grant expiry sweep failed", "error", err)
					continue
				}
				if n > 0 {
					slog.Debug("Expired stale grants", "count", n)
				}
				for _, l := range limiters {
					l.GC(limiterMaxIdle)
				}
			}
		}
	}()
}
