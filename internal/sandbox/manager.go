package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/insightpulseai/hawk/internal/config"
)

// entry pairs a live backend with its activity bookkeeping. entry.mu is held
// for the duration of every Exec and by the sweep while it reclaims, so a
// reclamation can never interrupt an in-flight command.
type entry struct {
	mu           sync.Mutex
	handle       *Handle
	backend      Backend
	lastActivity time.Time
}

// Manager owns the backend fallback chain and the registry of active handles.
// The registry is process-scoped state owned by this instance, not a package
// global; its lifecycle ends with Shutdown or process exit.
type Manager struct {
	cfg   config.SandboxConfig
	log   *zap.Logger
	chain []Factory

	mu      sync.Mutex
	entries map[string]*entry
}

// NewManager builds a manager with the default chain derived from cfg:
// remote micro-VM (when preferred and configured), local container jail, and,
// only with the explicit unsandboxed opt-in, direct host execution.
func NewManager(cfg config.SandboxConfig, logger *zap.Logger) *Manager {
	var chain []Factory
	if cfg.PreferRemoteVM {
		chain = append(chain, remoteVMFactory(cfg.RemoteVM, logger))
	}
	chain = append(chain, dockerFactory(cfg.Docker, logger))
	if cfg.AllowUnsandboxed {
		chain = append(chain, hostFactory(logger))
	}
	return NewManagerWithChain(cfg, logger, chain)
}

// NewManagerWithChain builds a manager with an explicit backend chain.
func NewManagerWithChain(cfg config.SandboxConfig, logger *zap.Logger, chain []Factory) *Manager {
	return &Manager{
		cfg:     cfg,
		log:     logger.Named("sandbox"),
		chain:   chain,
		entries: make(map[string]*entry),
	}
}

// Start walks the chain in priority order and returns a handle for the first
// backend that comes up. A backend that fails or times out is logged and the
// next tier is tried; only exhausting the whole chain is an error.
func (m *Manager) Start(ctx context.Context) (*Handle, error) {
	var lastErr error
	for _, factory := range m.chain {
		backend, err := factory(ctx)
		if err != nil {
			lastErr = err
			m.log.Warn("Sandbox backend unavailable, trying next tier", zap.Error(err))
			continue
		}

		h := &Handle{
			id:      uuid.NewString(),
			kind:    backend.Kind(),
			display: backend.Display(),
			backend: backend.ID(),
			started: time.Now(),
			mgr:     m,
		}

		m.mu.Lock()
		m.entries[h.id] = &entry{handle: h, backend: backend, lastActivity: time.Now()}
		m.mu.Unlock()

		m.log.Info("Sandbox acquired",
			zap.String("handle_id", h.id),
			zap.String("backend", string(h.kind)),
			zap.String("backend_id", h.backend),
			zap.String("display", h.display),
		)
		return h, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainExhausted, lastErr)
	}
	return nil, ErrChainExhausted
}

func (m *Manager) lookup(h *Handle) (*entry, error) {
	if h == nil || h.closed.Load() {
		return nil, ErrHandleClosed
	}
	m.mu.Lock()
	e, ok := m.entries[h.id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrHandleClosed
	}
	return e, nil
}

// Exec runs a command inside the sandbox behind the handle. The entry lock is
// held for the whole call; a concurrent reclamation either completes before
// this command starts or waits until it finishes.
func (m *Manager) Exec(ctx context.Context, h *Handle, command string, timeout time.Duration) (ExecResult, error) {
	e, err := m.lookup(h)
	if err != nil {
		return ExecResult{}, err
	}
	if timeout <= 0 {
		timeout = m.cfg.ExecTimeout
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if h.closed.Load() {
		return ExecResult{}, ErrHandleClosed
	}
	e.lastActivity = time.Now()
	res, err := e.backend.Exec(ctx, command, timeout)
	e.lastActivity = time.Now()
	return res, err
}

// Upload copies a local file into the sandbox.
func (m *Manager) Upload(ctx context.Context, h *Handle, localPath, remotePath string) error {
	e, err := m.lookup(h)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if h.closed.Load() {
		return ErrHandleClosed
	}
	e.lastActivity = time.Now()
	return e.backend.Upload(ctx, localPath, remotePath)
}

// Download copies a file out of the sandbox.
func (m *Manager) Download(ctx context.Context, h *Handle, remotePath, localPath string) error {
	e, err := m.lookup(h)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if h.closed.Load() {
		return ErrHandleClosed
	}
	e.lastActivity = time.Now()
	return e.backend.Download(ctx, remotePath, localPath)
}

// Stop releases the sandbox behind the handle. It is idempotent: the second
// and later calls are no-ops, with no error and no double billing.
func (m *Manager) Stop(ctx context.Context, h *Handle) error {
	if h == nil || !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.mu.Lock()
	e, ok := m.entries[h.id]
	delete(m.entries, h.id)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	// Wait for any in-flight command to finish before tearing down.
	e.mu.Lock()
	defer e.mu.Unlock()
	return m.release(ctx, e)
}

// release finalizes cost and stops the backend. Callers hold e.mu.
func (m *Manager) release(ctx context.Context, e *entry) error {
	if rate := e.backend.HourlyRate(); rate > 0 {
		elapsed := time.Since(e.handle.started)
		cost := elapsed.Hours() * rate
		e.handle.setCost(cost)
		m.log.Info("Sandbox cost finalized",
			zap.String("handle_id", e.handle.id),
			zap.Duration("runtime", elapsed),
			zap.Float64("cost_estimate", cost),
		)
	}
	if err := e.backend.Stop(ctx); err != nil {
		m.log.Warn("Sandbox backend stop failed",
			zap.String("handle_id", e.handle.id), zap.Error(err))
		return err
	}
	m.log.Info("Sandbox released", zap.String("handle_id", e.handle.id))
	return nil
}

// ActiveHandles reports the number of live entries in the registry.
func (m *Manager) ActiveHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RunReclaimer sweeps the registry on a ticker and terminates any handle idle
// longer than the configured TTL, independent of the owning session. It
// blocks until ctx is cancelled.
func (m *Manager) RunReclaimer(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	m.log.Info("Idle reclamation sweep started",
		zap.Duration("interval", m.cfg.SweepInterval),
		zap.Duration("idle_ttl", m.cfg.IdleTTL),
	)

	for {
		select {
		case <-ticker.C:
			m.sweep(ctx)
		case <-ctx.Done():
			m.log.Info("Idle reclamation sweep stopped", zap.Error(ctx.Err()))
			return
		}
	}
}

// sweep reclaims idle handles. TryLock skips any entry with a command in
// flight: a busy handle is by definition not idle.
func (m *Manager) sweep(ctx context.Context) {
	m.mu.Lock()
	candidates := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		candidates = append(candidates, e)
	}
	m.mu.Unlock()

	for _, e := range candidates {
		if !e.mu.TryLock() {
			continue
		}
		idle := time.Since(e.lastActivity)
		if idle < m.cfg.IdleTTL || !e.handle.closed.CompareAndSwap(false, true) {
			e.mu.Unlock()
			continue
		}

		m.mu.Lock()
		delete(m.entries, e.handle.id)
		m.mu.Unlock()

		m.log.Warn("Reclaiming idle sandbox",
			zap.String("handle_id", e.handle.id),
			zap.Duration("idle", idle),
		)
		if err := m.release(ctx, e); err != nil {
			m.log.Error("Idle reclamation failed", zap.String("handle_id", e.handle.id), zap.Error(err))
		}
		e.mu.Unlock()
	}
}

// Shutdown stops every remaining handle. Used at process exit.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	remaining := make([]*Handle, 0, len(m.entries))
	for _, e := range m.entries {
		remaining = append(remaining, e.handle)
	}
	m.mu.Unlock()

	for _, h := range remaining {
		if err := m.Stop(ctx, h); err != nil {
			m.log.Warn("Sandbox shutdown stop failed", zap.String("handle_id", h.id), zap.Error(err))
		}
	}
}
