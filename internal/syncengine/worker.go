// Package syncengine holds the two periodic mirror workers — Ingress
// (SOR → RDB) and Egress (RDB → SOR) — and the Supervisor that ticks them.
//
// Grounded on the original implementation's sync/executer.rs (the
// ExecuterInner trait: start/stop/is_running/get_timeout/execute) for the
// Worker shape, and on the teacher's internal/worker/runner.go for the
// ticker-driven goroutine-pool supervisor idiom, adapted from a poll-loop
// over a single job kind to a fixed, heterogeneous collection of workers
// with per-tick overrun detection instead of retries.
package syncengine

import (
	"context"
	"time"

	"github.com/dahateb/rust-crm-sync/internal/bus"
	"github.com/dahateb/rust-crm-sync/internal/sor"
)

// Worker is the capability set shared by Ingress and Egress, per
// spec.md §9's "Polymorphism over workers": the Supervisor iterates a
// collection of these without knowing which concrete kind each one is.
type Worker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	Timeout() time.Duration
	Execute(ctx context.Context, b *bus.Bus) error
}

// apiPath builds a SOR request-URI function from the configured API
// version, the same shape internal/setup uses for its own SOR calls.
func apiPath(cfg sor.Config, rest string) func(instanceURL string) string {
	return func(instanceURL string) string {
		return instanceURL + "/services/data/" + cfg.APIVersion + rest
	}
}
