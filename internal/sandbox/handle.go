package sandbox

import (
	"context"
	"math"
	"sync/atomic"
	"time"
)

// Handle is the caller's reference to one acquired sandbox. It is exclusively
// owned by one session. Stop invalidates the handle: every operation after
// Stop (or after the idle sweep reclaims it) returns ErrHandleClosed.
type Handle struct {
	id      string
	kind    BackendKind
	display string
	backend string
	started time.Time

	mgr    *Manager
	closed atomic.Bool
	// cost is the final cost estimate in micro-dollars, set once at stop.
	cost atomic.Int64
}

// ID returns the handle id used by the manager registry.
func (h *Handle) ID() string { return h.id }

// Kind reports which backend tier the chain settled on.
func (h *Handle) Kind() BackendKind { return h.kind }

// Display is the X display automation commands should target, empty when the
// backend exposes none.
func (h *Handle) Display() string { return h.display }

// BackendID identifies the underlying resource (VM id, container id, host).
func (h *Handle) BackendID() string { return h.backend }

// Closed reports whether the handle has been stopped or reclaimed.
func (h *Handle) Closed() bool { return h.closed.Load() }

// CostEstimate returns the final metered cost in dollars. It is zero until
// the handle is stopped and for unmetered backends.
func (h *Handle) CostEstimate() float64 {
	return float64(h.cost.Load()) / 1e6
}

func (h *Handle) setCost(dollars float64) {
	h.cost.Store(int64(math.Round(dollars * 1e6)))
}

// Exec runs a command in the sandbox through the manager registry.
func (h *Handle) Exec(ctx context.Context, command string, timeout time.Duration) (ExecResult, error) {
	return h.mgr.Exec(ctx, h, command, timeout)
}

// Upload copies a local file into the sandbox.
func (h *Handle) Upload(ctx context.Context, localPath, remotePath string) error {
	return h.mgr.Upload(ctx, h, localPath, remotePath)
}

// Download copies a file out of the sandbox.
func (h *Handle) Download(ctx context.Context, remotePath, localPath string) error {
	return h.mgr.Download(ctx, h, remotePath, localPath)
}
