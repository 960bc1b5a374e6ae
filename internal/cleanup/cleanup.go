// Package cleanup provides background maintenance for a workspace's
// `.devtools` directory: orphaned tmp files, stale per-session artifacts,
// and disk usage warnings.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/outpostlabs/devtools-core/internal/logger"
)

// Cleaner performs periodic resource cleanup under a workspace's
// `.devtools` directory (process log, state db, session record, stale
// `user-data-*` dirs).
type Cleaner struct {
	devtoolsDir string
	interval    time.Duration
	retention   time.Duration
	diskWarn    float64
	diskError   float64
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// Config holds cleanup configuration.
type Config struct {
	DevtoolsDir      string
	Interval         time.Duration // how often to run cleanup
	ArtifactRetention time.Duration // how long to keep torn-down Client artifacts
	DiskWarnPercent  float64       // warn at this disk usage percentage
	DiskErrorPercent float64       // error at this disk usage percentage
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(devtoolsDir string) Config {
	return Config{
		DevtoolsDir:       devtoolsDir,
		Interval:          5 * time.Minute,
		ArtifactRetention: 24 * time.Hour,
		DiskWarnPercent:   80.0,
		DiskErrorPercent:  90.0,
	}
}

// New creates a new Cleaner with the given configuration.
func New(cfg Config) *Cleaner {
	return &Cleaner{
		devtoolsDir: cfg.DevtoolsDir,
		interval:    cfg.Interval,
		retention:   cfg.ArtifactRetention,
		diskWarn:    cfg.DiskWarnPercent,
		diskError:   cfg.DiskErrorPercent,
	}
}

// Start begins the periodic cleanup loop.
func (c *Cleaner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.runCleanup()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.runCleanup()
			}
		}
	}()

	logger.Info("cleanup: started (interval=%v, retention=%v)", c.interval, c.retention)
}

// Stop halts the cleanup loop.
func (c *Cleaner) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
		logger.Info("cleanup: stopped")
	}
}

// runCleanup performs all cleanup tasks.
func (c *Cleaner) runCleanup() {
	c.cleanupTmpFiles()
	c.cleanupStaleUserDataDirs()
	c.checkDiskUsage()
}

// cleanupTmpFiles removes orphaned .tmp files under .devtools older than
// retention (left behind by a crashed write-then-replace, e.g. the
// Session Record or hash-store writer).
func (c *Cleaner) cleanupTmpFiles() {
	cutoff := time.Now().Add(-c.retention)
	var removed int

	err := filepath.Walk(c.devtoolsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".tmp") {
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(path); err == nil {
					removed++
				}
			}
		}
		return nil
	})

	if err != nil {
		logger.Warn("cleanup: walk error: %v", err)
	}
	if removed > 0 {
		logger.Info("cleanup: removed %d orphaned .tmp files", removed)
	}
}

// cleanupStaleUserDataDirs removes `.devtools/user-data-*` directories
// whose modification time is older than retention. The supervisor's own
// user-data dir, `.devtools/user-data`, has no `-` suffix and is never
// matched.
func (c *Cleaner) cleanupStaleUserDataDirs() {
	cutoff := time.Now().Add(-c.retention)
	entries, err := os.ReadDir(c.devtoolsDir)
	if err != nil {
		return
	}

	var removed int
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "user-data-") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(c.devtoolsDir, entry.Name())
		if err := os.RemoveAll(path); err == nil {
			removed++
		}
	}

	if removed > 0 {
		logger.Info("cleanup: removed %d stale user-data directories", removed)
	}
}

// checkDiskUsage monitors disk usage under the workspace and logs
// warnings.
func (c *Cleaner) checkDiskUsage() {
	usedPercent, _, _, err := c.DiskUsage()
	if err != nil {
		return
	}

	if usedPercent >= c.diskError {
		logger.Error("cleanup: disk usage at %.1f%% under %s", usedPercent, c.devtoolsDir)
	} else if usedPercent >= c.diskWarn {
		logger.Warn("cleanup: disk usage at %.1f%% under %s", usedPercent, c.devtoolsDir)
	}
}
