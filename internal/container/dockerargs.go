package container

import (
	"fmt"
	"strconv"

	"github.com/dotsetlabs/dotclaw/internal/config"
)

// buildDockerRunArgs assembles the minimum docker flag set from §6.1:
// --rm, --cap-drop=ALL, --security-opt=no-new-privileges,
// --pids-limit, optional --memory/--cpus, optional --read-only with
// tmpfs, --user, and the four standard bind mounts plus any
// allowlisted extras.
func buildDockerRunArgs(cfg config.ContainerConfig, req RunRequest) []string {
	args := []string{"run", "--rm"}

	if !cfg.Privileged {
		args = append(args, "--cap-drop=ALL", "--security-opt=no-new-privileges")
	}
	if cfg.PidsLimit > 0 {
		args = append(args, fmt.Sprintf("--pids-limit=%d", cfg.PidsLimit))
	}
	if cfg.MemoryMB > 0 {
		args = append(args, fmt.Sprintf("--memory=%dm", cfg.MemoryMB))
	}
	if cfg.CPUs > 0 {
		args = append(args, fmt.Sprintf("--cpus=%s", strconv.FormatFloat(cfg.CPUs, 'f', -1, 64)))
	}
	if cfg.ReadOnlyRoot {
		tmpfsSize := cfg.TmpfsSizeMB
		if tmpfsSize <= 0 {
			tmpfsSize = 64
		}
		args = append(args, "--read-only", fmt.Sprintf("--tmpfs=/tmp:size=%dm", tmpfsSize))
	}
	if cfg.UID != 0 || cfg.GID != 0 {
		args = append(args, fmt.Sprintf("--user=%d:%d", cfg.UID, cfg.GID))
	}

	groupMount := Mount{HostPath: req.GroupDir, Container: "/workspace/group", ReadOnly: req.ForceReadOnlyGroup}
	args = append(args,
		groupMount.arg(),
		Mount{HostPath: req.SessionDir, Container: "/workspace/session"}.arg(),
		Mount{HostPath: req.IPCDir, Container: "/workspace/ipc"}.arg(),
		Mount{HostPath: req.ConfigDir, Container: "/workspace/config", ReadOnly: true}.arg(),
	)
	for _, m := range req.ExtraMounts {
		args = append(args, m.arg())
	}

	image := cfg.Image
	if image == "" {
		image = "dotclaw-agent:latest"
	}
	args = append(args, image)
	return args
}
