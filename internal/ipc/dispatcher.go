package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dotsetlabs/dotclaw/pkg/protocol"
)

// GroupMutex serializes handler execution per group folder — the
// dispatcher is single-writer per group (§4.5).
type GroupMutex interface {
	Lock(folder string) func()
}

// Handler executes one request kind and returns its result payload.
// isMain tells the handler whether the calling group is the
// privileged main group, for kinds that write to this same owning
// group's data regardless.
type Handler func(ctx context.Context, groupFolder string, isMain bool, req protocol.IPCRequest) (json.RawMessage, error)

// Dispatcher watches every registered group's requests/ subdirectory
// and drives requests through Handler (§4.5).
type Dispatcher struct {
	root           string // <home>/data/ipc
	mainFolder     string
	handler        Handler
	locks          GroupMutex
	pollInterval   time.Duration
	errorRetention time.Duration
	logger         *slog.Logger
}

// New builds a Dispatcher rooted at ipcRoot (…/data/ipc).
func New(ipcRoot, mainFolder string, handler Handler, locks GroupMutex, pollInterval, errorRetention time.Duration, logger *slog.Logger) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{root: ipcRoot, mainFolder: mainFolder, handler: handler, locks: locks, pollInterval: pollInterval, errorRetention: errorRetention, logger: logger}
}

// Watch monitors folders' requests/ subdirectories until ctx is
// canceled. fsnotify drives the common case; a polling goroutine
// covers filesystems (network mounts, some container overlays) where
// inotify events are unreliable, mirroring the teacher's belt-and-braces
// approach to directory watching.
func (d *Dispatcher) Watch(ctx context.Context, folders []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	for _, folder := range folders {
		dir := filepath.Join(d.root, folder, "requests")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
		if err := watcher.Add(dir); err != nil {
			d.logger.Warn("fsnotify watch failed, relying on polling", "dir", dir, "error", err)
		}
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.sweepAll(ctx, folders)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			folder := folderFromRequestPath(d.root, ev.Name)
			if folder != "" && strings.HasSuffix(ev.Name, ".json") {
				d.processOne(ctx, folder, ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if ok {
				d.logger.Warn("fsnotify error", "error", err)
			}
		case <-ticker.C:
			d.sweepAll(ctx, folders)
		}
	}
}

func folderFromRequestPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ""
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) < 1 {
		return ""
	}
	return parts[0]
}

func (d *Dispatcher) sweepAll(ctx context.Context, folders []string) {
	for _, folder := range folders {
		dir := filepath.Join(d.root, folder, "requests")
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			d.processOne(ctx, folder, filepath.Join(dir, e.Name()))
		}
	}
	d.sweepErrorRetention(folders)
}

// processOne reads, authorizes, and executes a single request file,
// then writes the response atomically and removes (or quarantines)
// the request file (§4.5 steps 1-5).
func (d *Dispatcher) processOne(ctx context.Context, groupFolder, path string) {
	unlock := d.locks.Lock(groupFolder)
	defer unlock()

	// The file may have already been consumed by a concurrent
	// dispatch pass (fsnotify event racing the poll sweep).
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}

	var req protocol.IPCRequest
	if err := ReadAtomicJSON(path, &req); err != nil {
		d.quarantine(groupFolder, path, fmt.Errorf("malformed request: %w", err))
		return
	}

	isMain := groupFolder == d.mainFolder
	if protocol.RequiresMain(req.Kind) && !isMain {
		d.respond(groupFolder, req.ID, nil, fmt.Errorf("kind %q requires the main group", req.Kind))
		d.quarantine(groupFolder, path, fmt.Errorf("unauthorized kind %q from group %q", req.Kind, groupFolder))
		return
	}

	result, err := d.handler(ctx, groupFolder, isMain, req)
	d.respond(groupFolder, req.ID, result, err)
	if err != nil {
		d.quarantine(groupFolder, path, err)
		return
	}
	_ = os.Remove(path)
}

func (d *Dispatcher) respond(groupFolder, id string, result json.RawMessage, handlerErr error) {
	resp := protocol.IPCResponse{ID: id, OK: handlerErr == nil, Result: result}
	if handlerErr != nil {
		resp.Error = handlerErr.Error()
	}
	data, err := json.Marshal(resp)
	if err != nil {
		d.logger.Error("marshal ipc response", "error", err)
		return
	}
	respPath := filepath.Join(d.root, groupFolder, "responses", id+".json")
	if err := WriteAtomic(respPath, data); err != nil {
		d.logger.Error("write ipc response", "error", err, "path", respPath)
	}
}

// quarantine moves a failed request file to the group's errors/
// sibling rather than deleting it, so an operator can inspect what
// went wrong (§4.5 step 5).
func (d *Dispatcher) quarantine(groupFolder, path string, cause error) {
	errDir := filepath.Join(d.root, groupFolder, "errors")
	if err := os.MkdirAll(errDir, 0o755); err != nil {
		d.logger.Error("mkdir errors dir", "error", err)
		return
	}
	dest := filepath.Join(errDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil && !os.IsNotExist(err) {
		d.logger.Error("quarantine request", "error", err, "path", path)
		return
	}
	d.logger.Warn("ipc request quarantined", "group", groupFolder, "file", filepath.Base(path), "cause", cause)
}

// sweepErrorRetention deletes quarantined files older than
// errorRetention, bounding the errors/ directories' growth.
func (d *Dispatcher) sweepErrorRetention(folders []string) {
	if d.errorRetention <= 0 {
		return
	}
	cutoff := time.Now().Add(-d.errorRetention)
	for _, folder := range folders {
		dir := filepath.Join(d.root, folder, "errors")
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}
