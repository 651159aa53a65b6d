package config

import (
	"os"
	"path/filepath"
)

// Paths resolves the on-disk layout under the data root (§6.3).
type Paths struct {
	Home string // <home>
}

// NewPaths resolves the data root. An explicit dir wins; otherwise
// DOTCLAW_HOME, then ~/.dotclaw.
func NewPaths(dir string) (*Paths, error) {
	if dir == "" {
		dir = os.Getenv("DOTCLAW_HOME")
	}
	if dir == "" {
		dir = "~/.dotclaw"
	}
	dir = ExpandHome(dir)
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &Paths{Home: abs}, nil
}

func (p *Paths) EnvFile() string            { return filepath.Join(p.Home, ".env") }
func (p *Paths) ConfigDir() string          { return filepath.Join(p.Home, "config") }
func (p *Paths) RuntimeConfigFile() string  { return filepath.Join(p.ConfigDir(), "runtime.json") }
func (p *Paths) ModelConfigFile() string    { return filepath.Join(p.ConfigDir(), "model.json") }
func (p *Paths) BehaviorConfigFile() string { return filepath.Join(p.ConfigDir(), "behavior.json") }
func (p *Paths) ToolPolicyFile() string     { return filepath.Join(p.ConfigDir(), "tool-policy.json") }
func (p *Paths) ToolBudgetsFile() string    { return filepath.Join(p.ConfigDir(), "tool-budgets.json") }

func (p *Paths) DataDir() string              { return filepath.Join(p.Home, "data") }
func (p *Paths) RegisteredGroupsFile() string { return filepath.Join(p.DataDir(), "registered_groups.json") }
func (p *Paths) StoreDir() string             { return filepath.Join(p.DataDir(), "store") }
func (p *Paths) MessagesDB() string           { return filepath.Join(p.StoreDir(), "messages.db") }
func (p *Paths) MemoryDB() string             { return filepath.Join(p.StoreDir(), "memory.db") }
func (p *Paths) IPCDir() string               { return filepath.Join(p.DataDir(), "ipc") }
func (p *Paths) GroupIPCDir(folder string) string {
	return filepath.Join(p.IPCDir(), folder)
}
func (p *Paths) SessionsDir() string { return filepath.Join(p.DataDir(), "sessions") }
func (p *Paths) GroupSessionDir(folder string) string {
	return filepath.Join(p.SessionsDir(), folder, "openrouter")
}

func (p *Paths) GroupsDir() string              { return filepath.Join(p.Home, "groups") }
func (p *Paths) GroupDir(folder string) string  { return filepath.Join(p.GroupsDir(), folder) }
func (p *Paths) GlobalGroupDir() string         { return filepath.Join(p.GroupsDir(), "global") }
func (p *Paths) TracesDir() string              { return filepath.Join(p.Home, "traces") }
func (p *Paths) LogsDir() string                { return filepath.Join(p.Home, "logs") }
func (p *Paths) LogFile() string                { return filepath.Join(p.LogsDir(), "dotclaw.log") }

// Ensure creates every directory in the layout (idempotent), matching
// the `dotclaw init` contract (§6.4).
func (p *Paths) Ensure() error {
	dirs := []string{
		p.ConfigDir(),
		p.StoreDir(),
		p.IPCDir(),
		p.SessionsDir(),
		p.GroupsDir(),
		p.GlobalGroupDir(),
		p.TracesDir(),
		p.LogsDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// EnsureGroup creates the per-group IPC/session/group directories and
// their standard IPC subdirectories.
func (p *Paths) EnsureGroup(folder string) error {
	dirs := []string{
		p.GroupDir(folder),
		p.GroupSessionDir(folder),
		filepath.Join(p.GroupIPCDir(folder), "requests"),
		filepath.Join(p.GroupIPCDir(folder), "responses"),
		filepath.Join(p.GroupIPCDir(folder), "agent_requests"),
		filepath.Join(p.GroupIPCDir(folder), "messages"),
		filepath.Join(p.GroupIPCDir(folder), "tasks"),
		filepath.Join(p.GroupIPCDir(folder), "errors"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}
