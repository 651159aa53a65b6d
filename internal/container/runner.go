// Package container runs the per-group agent process inside Docker,
// either as a fresh container per call (ephemeral) or a long-lived
// warm container per group (daemon) — §4.4.
package container

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dotsetlabs/dotclaw/internal/config"
	"github.com/dotsetlabs/dotclaw/pkg/protocol"
)

// FailureCategory classifies a runner-level failure so the caller
// (internal/router) knows whether to retry at this layer or escalate
// to failover (§4.4's "Retry on recoverable runner errors only").
type FailureCategory string

const (
	FailureNone            FailureCategory = ""
	FailurePreempted       FailureCategory = "preempted"
	FailureStaleResponse   FailureCategory = "stale_response"
	FailureDaemonTimeout   FailureCategory = "daemon_timeout"
	FailureTerminal        FailureCategory = "terminal"
)

// Retryable reports whether the runner itself should retry the same
// call, as opposed to surfacing the failure to §4.6's router.
func (c FailureCategory) Retryable() bool {
	switch c {
	case FailurePreempted, FailureStaleResponse, FailureDaemonTimeout:
		return true
	default:
		return false
	}
}

// RunRequest carries everything a single agent invocation needs.
type RunRequest struct {
	GroupFolder string
	GroupDir    string
	SessionDir  string
	IPCDir      string
	ConfigDir   string
	ExtraMounts []Mount // pre-validated, absolute paths on both sides
	ForceReadOnlyGroup bool
	Env         map[string]string
	Payload     protocol.ContainerRequest
	Timeout     time.Duration
}

// RunResult is the outcome of one Run call.
type RunResult struct {
	Response protocol.ContainerResponse
	Category FailureCategory
	Err      error
}

// Runner executes one agent call inside a container.
type Runner interface {
	Run(ctx context.Context, req RunRequest) RunResult
}

// New builds the Runner selected by cfg.Runtime.ContainerMode
// ("ephemeral" or "daemon").
func New(cfg *config.Config, dockerBin string) Runner {
	if dockerBin == "" {
		dockerBin = "docker"
	}
	snap := cfg.Snapshot()
	if snap.Runtime.ContainerMode == "daemon" {
		return &DaemonRunner{cfg: snap.Runtime.Container, dockerBin: dockerBin, daemons: map[string]*daemonHandle{}}
	}
	return &EphemeralRunner{cfg: snap.Runtime.Container, dockerBin: dockerBin}
}

// capWriter captures up to limit bytes of combined stdout, the same
// bounded-buffer idiom nevindra-oasis/cmd/sandbox/runner.go uses to
// keep a runaway subprocess from exhausting host memory.
type capWriter struct {
	buf   bytes.Buffer
	limit int
}

func (w *capWriter) Write(p []byte) (int, error) {
	if w.buf.Len() < w.limit {
		remaining := w.limit - w.buf.Len()
		if len(p) > remaining {
			p = p[:remaining]
		}
		w.buf.Write(p)
	}
	return len(p), nil
}

const defaultMaxOutput = 2 * 1024 * 1024

// EphemeralRunner starts one `docker run --rm` per call (§4.4).
type EphemeralRunner struct {
	cfg       config.ContainerConfig
	dockerBin string
}

func (r *EphemeralRunner) Run(ctx context.Context, req RunRequest) RunResult {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = time.Duration(r.cfg.TimeoutMs) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	responsePath := filepath.Join(req.IPCDir, fmt.Sprintf("run-%s.response.json", randSuffix()))
	req.Payload.ResponsePath = responsePath

	args := buildDockerRunArgs(r.cfg, req)
	cmd := exec.CommandContext(runCtx, r.dockerBin, args...)
	cmd.Env = append(os.Environ(), envLines(req.Payload, req.Env)...)

	var out capWriter
	out.limit = defaultMaxOutput
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return RunResult{Category: FailureTerminal, Err: fmt.Errorf("start container: %w", err)}
	}
	waitErr := cmd.Wait()

	if runCtx.Err() == context.DeadlineExceeded {
		return RunResult{Category: FailureDaemonTimeout, Err: fmt.Errorf("container run timed out after %s", timeout)}
	}
	if waitErr != nil {
		if _, ok := waitErr.(*exec.ExitError); ok {
			if resp, ok := extractMarkedResponse(out.buf.String()); ok {
				return RunResult{Response: resp}
			}
			return RunResult{Category: FailureTerminal, Err: fmt.Errorf("container exited: %s", out.buf.String())}
		}
		return RunResult{Category: FailureTerminal, Err: waitErr}
	}

	resp, ok := extractMarkedResponse(out.buf.String())
	if !ok {
		return RunResult{Category: FailureStaleResponse, Err: fmt.Errorf("no response markers found in container output")}
	}
	return RunResult{Response: resp}
}

// extractMarkedResponse pulls the JSON payload between
// protocol.OutputStartMarker/OutputEndMarker out of otherwise
// unstructured container stdout (§4.5), tolerating a partial/absent
// marker pair as "no response yet" rather than an error.
func extractMarkedResponse(stdout string) (protocol.ContainerResponse, bool) {
	start := strings.Index(stdout, protocol.OutputStartMarker)
	end := strings.Index(stdout, protocol.OutputEndMarker)
	if start < 0 || end < 0 || end < start {
		return protocol.ContainerResponse{}, false
	}
	raw := stdout[start+len(protocol.OutputStartMarker) : end]
	var resp protocol.ContainerResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &resp); err != nil {
		return protocol.ContainerResponse{}, false
	}
	return resp, true
}

func envLines(req protocol.ContainerRequest, env map[string]string) []string {
	out := make([]string, 0, len(env)+len(req.Env))
	for k, v := range req.Env {
		out = append(out, k+"="+v)
	}
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func randSuffix() string {
	return strconv.FormatInt(rand.Int63(), 36)
}
