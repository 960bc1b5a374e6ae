package hotreload

import (
	"sync"
	"time"

	"github.com/outpostlabs/devtools-core/internal/logger"
)

// bridgeSafetyTimeout bounds how long an MCP progress notification can
// stay open waiting for readyToRestart before it closes on its own.
const bridgeSafetyTimeout = 30 * time.Second

// progressBridge is a stored (report, resolve) pair: it lets
// `checkForChanges` open a user-visible progress notification on the
// MCP-server path that a later `readyToRestart` call drives to
// completion.
type progressBridge struct {
	mu       sync.Mutex
	reporter ProgressReporter
	timer    *time.Timer
	done     bool
}

// newProgressBridge opens reporter and arms the 30-second safety timer,
// which closes the notification on its own if readyToRestart never comes.
func newProgressBridge(reporter ProgressReporter) *progressBridge {
	b := &progressBridge{reporter: reporter}
	b.timer = time.AfterFunc(bridgeSafetyTimeout, func() {
		b.finish("")
		logger.Warn("hotreload: mcp progress bridge closed by the 30s safety timer, readyToRestart never arrived")
	})
	return b
}

// report drives the bridge's reporter, a no-op once the bridge has
// already finished (timer-fired or resolved).
func (b *progressBridge) report(message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.reporter.Report(message)
}

// resolve drives the bridge to its final message, stops the safety
// timer, and closes the notification. Idempotent.
func (b *progressBridge) resolve(finalMessage string) {
	b.finish(finalMessage)
}

func (b *progressBridge) finish(finalMessage string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	b.timer.Stop()
	if finalMessage != "" {
		b.reporter.Report(finalMessage)
	}
	b.reporter.Close()
}
