// Package sandbox acquires and releases isolated execution environments for
// UI automation. Backends form a prioritized fallback chain (remote micro-VM,
// local container jail, no isolation) behind one uniform command and file
// transfer contract.
package sandbox

import (
	"context"
	"errors"
	"time"
)

// BackendKind identifies the isolation mechanism behind a handle.
type BackendKind string

const (
	KindRemoteVM     BackendKind = "remote_vm"
	KindLocalProcess BackendKind = "local_process"
	KindNone         BackendKind = "none"
)

var (
	// ErrChainExhausted signals that every backend in the chain failed to start.
	ErrChainExhausted = errors.New("sandbox: all backends in the chain failed to start")
	// ErrHandleClosed is returned for operations on a stopped or reclaimed handle.
	ErrHandleClosed = errors.New("sandbox: handle is closed")
	// ErrTransferUnsupported is returned by backends without file transfer support.
	ErrTransferUnsupported = errors.New("sandbox: backend does not support file transfer")
	// ErrNotConfigured signals a backend whose collaborator is absent; the
	// chain treats it like any other start failure and moves on.
	ErrNotConfigured = errors.New("sandbox: backend not configured")
)

// ExecResult is the outcome of one command run inside a sandbox. A non-zero
// exit code is a result, not a transport error.
type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Backend is the closed variant behind the manager. Implementations are
// constructed already started; the manager never branches on concrete type
// outside this boundary.
type Backend interface {
	Kind() BackendKind
	// ID identifies the underlying resource (VM id, container id, hostname).
	ID() string
	// Display is the X display automation commands should target.
	Display() string
	// HourlyRate is the metered cost per hour, zero for free backends.
	HourlyRate() float64

	Exec(ctx context.Context, command string, timeout time.Duration) (ExecResult, error)
	Upload(ctx context.Context, localPath, remotePath string) error
	Download(ctx context.Context, remotePath, localPath string) error
	Stop(ctx context.Context) error
}

// Factory constructs and starts a backend. A factory that cannot start its
// backend returns an error and the chain falls through to the next tier.
type Factory func(ctx context.Context) (Backend, error)
