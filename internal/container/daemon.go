package container

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/dotsetlabs/dotclaw/internal/config"
	"github.com/dotsetlabs/dotclaw/pkg/protocol"
)

type daemonHandle struct {
	containerName string
	startedAt     time.Time
}

// DaemonRunner keeps one warm, long-lived container per group folder
// and dispatches calls through agent_requests/<id>.json +
// <id>.response.json files (§4.4 "Daemon" mode).
type DaemonRunner struct {
	cfg       config.ContainerConfig
	dockerBin string

	mu      sync.Mutex
	daemons map[string]*daemonHandle
}

func (r *DaemonRunner) Run(ctx context.Context, req RunRequest) RunResult {
	if err := r.ensureDaemon(ctx, req); err != nil {
		return RunResult{Category: FailureTerminal, Err: err}
	}

	id := randSuffix()
	reqPath := filepath.Join(req.IPCDir, "agent_requests", id+".json")
	respPath := filepath.Join(req.IPCDir, "agent_requests", id+".response.json")
	cancelPath := filepath.Join(req.IPCDir, "agent_requests", id+".cancel")
	req.Payload.ResponsePath = respPath

	body, err := json.Marshal(req.Payload)
	if err != nil {
		return RunResult{Category: FailureTerminal, Err: err}
	}
	if err := writeAtomic(reqPath, body); err != nil {
		return RunResult{Category: FailureTerminal, Err: fmt.Errorf("write request: %w", err)}
	}

	resp, cat, err := r.awaitResponse(ctx, req, respPath)
	if cat == FailureDaemonTimeout {
		_ = writeAtomic(cancelPath, []byte("1"))
	}
	if err != nil {
		return RunResult{Category: cat, Err: err}
	}
	return RunResult{Response: resp}
}

// awaitResponse polls respPath with exponential backoff (base 25-50ms,
// capped), tolerating a missing file (ENOENT) and partial/invalid
// JSON as "not ready yet", and extending its deadline while the
// daemon's status file reports active processing — up to
// MaxExtensionMs (§4.4).
func (r *DaemonRunner) awaitResponse(ctx context.Context, req RunRequest, respPath string) (protocol.ContainerResponse, FailureCategory, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = time.Duration(r.cfg.TimeoutMs) * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	maxExtension := time.Duration(r.cfg.MaxExtensionMs) * time.Millisecond
	extended := time.Duration(0)

	statusPath := filepath.Join(req.IPCDir, "daemon_status.json")
	backoff := 25 * time.Millisecond
	const maxBackoff = 2 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return protocol.ContainerResponse{}, FailureDaemonTimeout, ctx.Err()
		default:
		}

		data, err := os.ReadFile(respPath)
		if err == nil {
			var resp protocol.ContainerResponse
			if jsonErr := json.Unmarshal(data, &resp); jsonErr == nil {
				_ = os.Remove(respPath)
				return resp, FailureNone, nil
			}
			// Partial write mid-read: retry, not an error (§4.4).
		} else if !errors.Is(err, os.ErrNotExist) {
			return protocol.ContainerResponse{}, FailureStaleResponse, err
		}

		if time.Now().After(deadline) {
			if extended < maxExtension && statusReportsProcessing(statusPath) {
				extend := backoff * 4
				if extended+extend > maxExtension {
					extend = maxExtension - extended
				}
				extended += extend
				deadline = deadline.Add(extend)
			} else {
				return protocol.ContainerResponse{}, FailureDaemonTimeout, fmt.Errorf("daemon response timed out after %s", timeout)
			}
		}

		attempt++
		sleep := time.Duration(math.Min(float64(maxBackoff), float64(backoff)*math.Pow(1.5, float64(attempt))))
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return protocol.ContainerResponse{}, FailureDaemonTimeout, ctx.Err()
		case <-timer.C:
		}
	}
}

func statusReportsProcessing(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var st protocol.DaemonStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return false
	}
	return st.State == "processing"
}

// ensureDaemon starts the group's container if not already running.
// Idempotent: concurrent callers for the same group folder coalesce
// on the same handle.
func (r *DaemonRunner) ensureDaemon(ctx context.Context, req RunRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.daemons[req.GroupFolder]; ok {
		if containerRunning(ctx, r.dockerBin, h.containerName) {
			return nil
		}
		delete(r.daemons, req.GroupFolder)
	}

	name := "dotclaw-" + req.GroupFolder
	args := append([]string{"run", "-d", "--name", name}, buildDockerRunArgs(r.cfg, req)[2:]...) // reuse flag/mount construction, skip "run --rm"
	cmd := exec.CommandContext(ctx, r.dockerBin, args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("start daemon container %s: %w", name, err)
	}
	r.daemons[req.GroupFolder] = &daemonHandle{containerName: name, startedAt: time.Now()}
	return nil
}

func containerRunning(ctx context.Context, dockerBin, name string) bool {
	cmd := exec.CommandContext(ctx, dockerBin, "inspect", "-f", "{{.State.Running}}", name)
	out, err := cmd.Output()
	if err != nil {
		return false
	}
	return string(out) == "true\n" || string(out) == "true"
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
