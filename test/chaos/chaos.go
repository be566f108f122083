// Package chaos injects connection failures while the stress actors run.
package chaos

import (
	"context"
	"math/rand"
	"time"

	"realtyclaims/db"
)

// TerminateRandomBackend periodically kills one other backend connected to
// the current database, so that transactions die mid-flight. Each tick
// fires with probability 1/odds.
func TerminateRandomBackend(ctx context.Context, q db.Querier, every time.Duration, odds int, seed int64, stop <-chan struct{}) {
	if odds <= 0 {
		odds = 5
	}
	r := rand.New(rand.NewSource(seed))
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if r.Intn(odds) == 0 {
				_, _ = q.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity
                    WHERE datname = current_database() AND pid <> pg_backend_pid() AND backend_type = 'client backend'
                    ORDER BY random() LIMIT 1`)
			}
		}
	}
}
