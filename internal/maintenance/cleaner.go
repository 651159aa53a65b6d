// Package maintenance runs the periodic retention sweep (§4.13):
// pruning old IPC request/response files, rotated trace logs, idle
// session directories, and finished workflow-run rows, all on a
// single ticker bounded by config.MaintenanceConfig.
package maintenance

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dotsetlabs/dotclaw/internal/config"
	"github.com/dotsetlabs/dotclaw/internal/store"
)

// Cleaner sweeps the data directories for expired artifacts on an
// interval.
type Cleaner struct {
	Paths        *config.Paths
	WorkflowRuns store.WorkflowRunStore
	Queue        store.QueueStore
	Logger       *slog.Logger

	Interval             time.Duration
	TraceRetention       time.Duration
	IPCRetention         time.Duration
	SessionRetention     time.Duration
	WorkflowRunRetention time.Duration
}

// New builds a Cleaner from cfg, clamping the interval to a 1-minute
// floor per §4.13.
func New(paths *config.Paths, runs store.WorkflowRunStore, queue store.QueueStore, cfg config.MaintenanceConfig, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < time.Minute {
		interval = 5 * time.Minute
	}
	traceDays := cfg.TraceRetentionDays
	if traceDays <= 0 {
		traceDays = 14
	}
	ipcMinutes := cfg.IpcRetentionMinutes
	if ipcMinutes <= 0 {
		ipcMinutes = 10
	}
	sessionDays := cfg.SessionRetentionDays
	if sessionDays <= 0 {
		sessionDays = 30
	}
	runDays := cfg.RunRetentionDays
	if runDays <= 0 {
		runDays = 30
	}
	return &Cleaner{
		Paths: paths, WorkflowRuns: runs, Queue: queue, Logger: logger,
		Interval:             interval,
		TraceRetention:       time.Duration(traceDays) * 24 * time.Hour,
		IPCRetention:         time.Duration(ipcMinutes) * time.Minute,
		SessionRetention:     time.Duration(sessionDays) * 24 * time.Hour,
		WorkflowRunRetention: time.Duration(runDays) * 24 * time.Hour,
	}
}

// Run blocks, sweeping on Interval until ctx is canceled.
func (c *Cleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one retention pass across every artifact kind,
// logging but not aborting on a per-kind failure.
func (c *Cleaner) SweepOnce(ctx context.Context) {
	now := time.Now()

	if c.Paths != nil {
		if n, err := pruneOlderThan(c.Paths.IPCDir(), now.Add(-c.IPCRetention), false); err != nil {
			c.Logger.Error("ipc retention sweep failed", "error", err)
		} else if n > 0 {
			c.Logger.Debug("pruned stale ipc files", "count", n)
		}

		if n, err := pruneTraceFiles(c.Paths.DataDir(), now.Add(-c.TraceRetention)); err != nil {
			c.Logger.Error("trace retention sweep failed", "error", err)
		} else if n > 0 {
			c.Logger.Debug("pruned stale trace files", "count", n)
		}

		if n, err := pruneOlderThan(c.Paths.SessionsDir(), now.Add(-c.SessionRetention), true); err != nil {
			c.Logger.Error("session retention sweep failed", "error", err)
		} else if n > 0 {
			c.Logger.Debug("pruned stale session directories", "count", n)
		}
	}

	if c.WorkflowRuns != nil {
		if n, err := c.WorkflowRuns.PruneFinishedBefore(ctx, now.Add(-c.WorkflowRunRetention)); err != nil {
			c.Logger.Error("workflow run retention sweep failed", "error", err)
		} else if n > 0 {
			c.Logger.Debug("pruned finished workflow runs", "count", n)
		}
	}

	if c.Queue != nil {
		if n, err := c.Queue.ReapExpiredClaims(ctx, now); err != nil {
			c.Logger.Error("queue claim reap failed", "error", err)
		} else if n > 0 {
			c.Logger.Warn("reaped expired queue claims", "count", n)
		}
	}
}

// pruneOlderThan removes entries directly under dir whose modtime is
// before cutoff. When dirs is true it removes whole directories
// (os.RemoveAll); otherwise it removes individual files.
func pruneOlderThan(dir string, cutoff time.Time, dirs bool) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() != dirs {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		if dirs {
			err = os.RemoveAll(full)
		} else {
			err = os.Remove(full)
		}
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// pruneTraceFiles removes daily trace-*.jsonl files under dataDir
// older than cutoff, matching internal/telemetry's naming scheme.
func pruneTraceFiles(dataDir string, cutoff time.Time) (int, error) {
	removed := 0
	err := filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !isTraceFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed++
		return nil
	})
	if os.IsNotExist(err) {
		return removed, nil
	}
	return removed, err
}

func isTraceFile(name string) bool {
	return len(name) > len("trace-.jsonl") && name[:6] == "trace-" && filepath.Ext(name) == ".jsonl"
}
