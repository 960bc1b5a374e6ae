package arbiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/outpostlabs/devtools-core/internal/logger"
	"github.com/outpostlabs/devtools-core/internal/rpcpipe"
)

// Role is the outcome of arbitration: exactly one of Host or Client.
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// ErrSessionConflict is returned when both the Host and Client pipes are
// already held by other processes: there is no role left for this process
// to take.
var ErrSessionConflict = errors.New("arbiter: session conflict: host and client pipes are both in use")

// Config tunes the Client-pipe retry loop. Zero values fall back to the
// documented defaults (6 attempts, 500ms linear step).
type Config struct {
	HostPipePath    string
	ClientPipePath  string
	ClientRetries   int
	ClientRetryStep time.Duration
}

// DefaultConfig returns the well-known pipe paths and retry policy.
func DefaultConfig() Config {
	return Config{
		HostPipePath:    HostPipePath(),
		ClientPipePath:  ClientPipePath(),
		ClientRetries:   6,
		ClientRetryStep: 500 * time.Millisecond,
	}
}

// Result is what Arbitrate decided.
type Result struct {
	Role     Role
	Server   *rpcpipe.Server
	PipePath string
}

// Arbitrate races to bind the Host pipe; on failure (already bound) it
// falls back to the Client pipe, retrying across the transient window
// between a prior Client dying and the OS releasing the pipe name.
//
// Host-pipe acquisition itself is not retried: if a prior Host is mid
// teardown at the exact moment this process starts, this process can
// falsely conclude it is the Client. That race is not closed here — it is
// the one documented, intentionally-unresolved behavior of this
// algorithm.
func Arbitrate(ctx context.Context, registry *rpcpipe.Registry, cfg Config) (*Result, error) {
	if cfg.ClientRetries <= 0 {
		cfg.ClientRetries = 6
	}
	if cfg.ClientRetryStep <= 0 {
		cfg.ClientRetryStep = 500 * time.Millisecond
	}

	server := rpcpipe.NewServer(registry)

	hostPath, err := server.Start(cfg.HostPipePath)
	if err == nil {
		logger.Info("arbiter: bound host pipe at %s", hostPath)
		return &Result{Role: RoleHost, Server: server, PipePath: hostPath}, nil
	}
	if !errors.Is(err, rpcpipe.ErrAddressInUse) {
		return nil, fmt.Errorf("arbiter: host bind: %w", err)
	}

	logger.Debug("arbiter: host pipe in use, attempting client role")

	var lastErr error
	for attempt := 1; attempt <= cfg.ClientRetries; attempt++ {
		clientPath, err := server.Start(cfg.ClientPipePath)
		if err == nil {
			logger.Info("arbiter: bound client pipe at %s (attempt %d)", clientPath, attempt)
			return &Result{Role: RoleClient, Server: server, PipePath: clientPath}, nil
		}
		if !errors.Is(err, rpcpipe.ErrAddressInUse) {
			return nil, fmt.Errorf("arbiter: client bind: %w", err)
		}
		lastErr = err

		if attempt == cfg.ClientRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.ClientRetryStep * time.Duration(attempt)):
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrSessionConflict, lastErr)
}
