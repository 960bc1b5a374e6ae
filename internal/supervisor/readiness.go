package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/outpostlabs/devtools-core/internal/logger"
	"github.com/outpostlabs/devtools-core/internal/rpcpipe"
)

const (
	defaultReadinessTimeout  = 90 * time.Second
	adaptiveReadinessTimeout = 120 * time.Second
	readinessPollInterval    = 500 * time.Millisecond
	readinessLogInterval     = 5 * time.Second
	reconnectTimeout         = 60 * time.Second
)

// probeState is the pair of conditions both of which must hold before a
// Client counts as ready.
type probeState struct {
	cdpUp bool
	pipeUp bool
}

func (s probeState) ready() bool { return s.cdpUp && s.pipeUp }

// cdpAlive answers the CDP half of readiness: a 200 from /json/version.
// TCP connectivity alone is deliberately not enough — the HTTP server
// may not yet accept WebSocket upgrades.
func cdpAlive(ctx context.Context, httpClient *http.Client, cdpPort int) bool {
	url := fmt.Sprintf("http://127.0.0.1:%d/json/version", cdpPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// pipeAlive answers the pipe half of readiness: the pipe accepts
// connections and answers a real system.ping within a short timeout — a
// frozen child may accept a connection but never reply.
func pipeAlive(ctx context.Context, pipePath string) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := rpcpipe.Ping(pingCtx, pipePath)
	return err == nil
}

// waitForReady polls both probes at readinessPollInterval (rate-limited
// rather than a bare sleep loop), extending the 90s default cap to 120s
// once the pipe comes up before CDP does — a child making progress on
// one probe is alive, not stuck.
func waitForReady(ctx context.Context, httpClient *http.Client, cdpPort int, pipePath string) error {
	limiter := rate.NewLimiter(rate.Every(readinessPollInterval), 1)

	deadline := time.Now().Add(defaultReadinessTimeout)
	extended := false
	lastLog := time.Now()
	var state probeState

	for {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("supervisor: readiness wait: %w", err)
		}

		state.cdpUp = cdpAlive(ctx, httpClient, cdpPort)
		state.pipeUp = pipeAlive(ctx, pipePath)

		if state.ready() {
			return nil
		}

		if !extended && state.pipeUp && !state.cdpUp {
			deadline = time.Now().Add(adaptiveReadinessTimeout)
			extended = true
			logger.Debug("supervisor: pipe up before cdp, extending readiness timeout to %s", adaptiveReadinessTimeout)
		}

		if time.Since(lastLog) >= readinessLogInterval {
			logger.Info("supervisor: readiness probe: cdpUp=%t pipeUp=%t", state.cdpUp, state.pipeUp)
			lastLog = time.Now()
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("supervisor: readiness timed out: cdpUp=%t pipeUp=%t", state.cdpUp, state.pipeUp)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// waitForReconnect polls up to reconnectTimeout for both probes to come
// back up after a Client reload.
func waitForReconnect(ctx context.Context, httpClient *http.Client, cdpPort int, pipePath string) error {
	limiter := rate.NewLimiter(rate.Every(readinessPollInterval), 1)
	deadline := time.Now().Add(reconnectTimeout)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("supervisor: reconnect wait: %w", err)
		}
		if cdpAlive(ctx, httpClient, cdpPort) && pipeAlive(ctx, pipePath) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("supervisor: reconnect timed out after %s", reconnectTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
