package config

import (
	"bufio"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/titanous/json5"
)

// Secrets holds values that are sourced from the environment/.env file
// only and are never marshaled into a config file (see json:"-" tags
// on the fields they feed).
type Secrets struct {
	OpenRouterAPIKey  string
	BraveSearchAPIKey string
	TelegramToken     string
	DiscordToken      string
}

// Default returns a Config with sensible, documented defaults. Every
// field here corresponds to a clamp range enforced by clamp().
func Default() *Config {
	emptyRetry := true
	return &Config{
		Runtime: RuntimeConfig{
			PollIntervalMs: 1000,
			MaxAgents:      2,
			ContainerMode:  "ephemeral",
			Lane: LaneConfig{
				Permits:                   2,
				StarvationMs:              15000,
				MaxConsecutiveInteractive: 4,
			},
			Batch: BatchConfig{
				BatchWindowMs:  0,
				MaxBatchSize:   20,
				PromptMaxChars: 24000,
				MaxRetries:     3,
			},
			Queue: QueueConfig{
				RetryBaseMs:     500,
				RetryMaxMs:      60000,
				ClaimDeadlineMs: 120000,
			},
			Container: ContainerConfig{
				TimeoutMs:      120000,
				MaxExtensionMs: 60000,
				DaemonPollMs:   50,
				PidsLimit:      256,
				TmpfsSizeMB:    64,
				Image:          "dotclaw-agent:latest",
			},
			Scheduler: SchedulerConfig{
				PollIntervalMs: 5000,
				TaskTimeoutMs:  300000,
				MaxRetries:     3,
				RetryBaseMs:    2000,
				RetryMaxMs:     30000,
			},
			Maintenance: MaintenanceConfig{
				IntervalMs:           300000,
				TraceRetentionDays:   14,
				IpcRetentionMinutes:  10,
				SessionRetentionDays: 30,
				RunRetentionDays:     30,
			},
			Stream: StreamConfig{
				ChunkFlushIntervalMs: 700,
				MaxEditLength:        3900,
			},
			Router: RouterConfig{
				MaxFastChars:        80,
				ConfidenceThreshold: 0.7,
				EmptySuccessRetry:   &emptyRetry,
				RecallMaxResults:    6,
				RecallMaxTokens:     600,
			},
			Memory: MemoryConfig{
				MaxResults:   6,
				MaxChunkLen:  1000,
				VectorWeight: 0.7,
				TextWeight:   0.3,
				MinScore:     0.35,
			},
			EnvAllowlist: []string{},
		},
		Model: ModelConfig{
			ActiveModel: "openrouter/auto",
		},
		Behavior: BehaviorConfig{
			InterruptOnNewMessage: true,
			CancelPhrases:         []string{"cancel", "stop", "abort"},
		},
		ToolPolicy: ToolPolicyConfig{
			MaxToolSteps: 20,
			MaxOutputTok: 4096,
		},
	}
}

// Load reads runtime.json (json5-tolerant), behavior.json, model.json,
// tool-policy.json, and tool-budgets.json under paths.ConfigDir(),
// merges each onto Default(), loads .env + process env as Secrets,
// then clamps out-of-range values. A missing file is not an error —
// only a structurally malformed one is (§4.1).
func Load(p *Paths) (*Config, Secrets, error) {
	cfg := Default()

	type fileTarget struct {
		path string
		dst  interface{}
	}
	targets := []fileTarget{
		{p.RuntimeConfigFile(), &cfg.Runtime},
		{p.ModelConfigFile(), &cfg.Model},
		{p.BehaviorConfigFile(), &cfg.Behavior},
		{p.ToolPolicyFile(), &cfg.ToolPolicy},
		{p.ToolBudgetsFile(), &cfg.ToolBudgets},
	}
	for _, t := range targets {
		data, err := os.ReadFile(t.path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, Secrets{}, fmt.Errorf("read %s: %w", t.path, err)
		}
		if err := json5.Unmarshal(data, t.dst); err != nil {
			return nil, Secrets{}, fmt.Errorf("parse %s: %w", t.path, err)
		}
	}

	secrets := loadSecrets(p.EnvFile())
	cfg.Channels.Telegram.Token = secrets.TelegramToken
	cfg.Channels.Discord.Token = secrets.DiscordToken
	if secrets.TelegramToken != "" {
		cfg.Channels.Telegram.Enabled = true
	}
	if secrets.DiscordToken != "" {
		cfg.Channels.Discord.Enabled = true
	}

	// Open Question resolution: OPENROUTER_MODEL seeds model.json only
	// when model.json does not yet exist; model.json is otherwise
	// authoritative (see DESIGN.md).
	if _, err := os.Stat(p.ModelConfigFile()); os.IsNotExist(err) {
		if m := os.Getenv("OPENROUTER_MODEL"); m != "" {
			cfg.Model.ActiveModel = m
		}
	}

	cfg.clamp()
	return cfg, secrets, nil
}

// loadSecrets reads KEY=VALUE pairs from the .env file (if present)
// and overlays process env on top, so env always wins. There is no
// third-party .env parser in the corpus to ground this on — a minimal
// line-oriented reader is the simplest correct implementation and the
// format (KEY=VALUE, '#' comments, optional quoting) needs no library.
func loadSecrets(envFile string) Secrets {
	env := map[string]string{}
	if f, err := os.Open(envFile); err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			eq := strings.IndexByte(line, '=')
			if eq <= 0 {
				continue
			}
			key := strings.TrimSpace(line[:eq])
			val := strings.TrimSpace(line[eq+1:])
			val = strings.Trim(val, `"'`)
			env[key] = val
		}
	}
	get := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return env[key]
	}
	return Secrets{
		OpenRouterAPIKey:  get("OPENROUTER_API_KEY"),
		BraveSearchAPIKey: get("BRAVE_SEARCH_API_KEY"),
		TelegramToken:     get("DOTCLAW_TELEGRAM_TOKEN"),
		DiscordToken:      get("DOTCLAW_DISCORD_TOKEN"),
	}
}

// EnvAllowlist returns the full set of env var names forwarded into
// containers: the fixed built-ins plus any DOTCLAW_* name and any
// name explicitly listed in Runtime.EnvAllowlist (§4.1).
func (c *Config) EnvAllowlist() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := []string{"OPENROUTER_API_KEY", "BRAVE_SEARCH_API_KEY"}
	out = append(out, c.Runtime.EnvAllowlist...)
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "DOTCLAW_") {
			if i := strings.IndexByte(e, '='); i > 0 {
				out = append(out, e[:i])
			}
		}
	}
	return out
}

// clamp enforces the documented ranges from §4.1, deterministically,
// so Load → Save → Load round-trips are stable.
func (c *Config) clamp() {
	r := &c.Runtime
	if r.PollIntervalMs < 1000 {
		r.PollIntervalMs = 1000
	}
	if r.MaxAgents < 1 {
		r.MaxAgents = 1
	}
	if r.ContainerMode != "ephemeral" && r.ContainerMode != "daemon" {
		r.ContainerMode = "ephemeral"
	}
	if r.Lane.Permits < 1 {
		r.Lane.Permits = 1
	}
	if r.Lane.StarvationMs < 0 {
		r.Lane.StarvationMs = 0
	}
	if r.Lane.MaxConsecutiveInteractive < 1 {
		r.Lane.MaxConsecutiveInteractive = 1
	}
	if r.Batch.BatchWindowMs < 0 {
		r.Batch.BatchWindowMs = 0
	}
	if r.Batch.MaxBatchSize < 1 {
		r.Batch.MaxBatchSize = 1
	}
	if r.Batch.PromptMaxChars < 1000 {
		r.Batch.PromptMaxChars = 1000
	}
	if r.Container.TimeoutMs < 1000 {
		r.Container.TimeoutMs = 1000
	}
	if r.Scheduler.PollIntervalMs < 250 {
		r.Scheduler.PollIntervalMs = 250
	}
	if r.Maintenance.IntervalMs < 60000 {
		r.Maintenance.IntervalMs = 60000
	}
	if r.Router.ConfidenceThreshold < 0 || r.Router.ConfidenceThreshold > 1 {
		r.Router.ConfidenceThreshold = 0.7
	}
	if r.Memory.VectorWeight == 0 && r.Memory.TextWeight == 0 {
		r.Memory.VectorWeight = 0.7
		r.Memory.TextWeight = 0.3
	}
}

// SaveRuntime persists runtime.json atomically (used by admin `set`
// commands and `dotclaw bootstrap`).
func SaveRuntime(p *Paths, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg.Runtime, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return err
	}
	return writeFileAtomic(p.RuntimeConfigFile(), data)
}

// SaveModel persists model.json atomically.
func SaveModel(p *Paths, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg.Model, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return err
	}
	return writeFileAtomic(p.ModelConfigFile(), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Hash returns a short SHA-256 digest of the config for optimistic
// concurrency checks (admin commands can reject a stale write).
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(struct {
		Runtime    RuntimeConfig
		Model      ModelConfig
		Behavior   BehaviorConfig
		ToolPolicy ToolPolicyConfig
	}{c.Runtime, c.Model, c.Behavior, c.ToolPolicy})
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
