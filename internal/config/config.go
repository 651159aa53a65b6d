// Package config loads and validates the runtime configuration for the
// DotClaw host: data-root layout, container/runner tuning, router
// defaults, memory recall weighting, and channel credentials.
package config

import (
	"sync"
)

// Config is the root, process-wide configuration. Mutated in place on
// reload (SIGHUP), so callers hold a *Config and read through its
// mutex-guarded accessors rather than copying it.
type Config struct {
	Runtime     RuntimeConfig     `json:"runtime"`
	Model       ModelConfig       `json:"model"`
	Behavior    BehaviorConfig    `json:"behavior"`
	ToolPolicy  ToolPolicyConfig  `json:"toolPolicy"`
	ToolBudgets ToolBudgetsConfig `json:"toolBudgets,omitempty"`
	Channels    ChannelsConfig    `json:"channels"`

	mu sync.RWMutex
}

// ChannelsConfig holds per-provider channel credentials and policy.
// Tokens are sourced from env only (see applyEnvOverrides); never
// serialized to runtime.json.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
}

type TelegramConfig struct {
	Token          string   `json:"-"` // env DOTCLAW_TELEGRAM_TOKEN only
	Enabled        bool     `json:"enabled,omitempty"`
	AllowFrom      []string `json:"allowFrom,omitempty"`
	DMPolicy       string   `json:"dmPolicy,omitempty"`    // pairing|allowlist|open|disabled
	GroupPolicy    string   `json:"groupPolicy,omitempty"` // open|allowlist|disabled
	RequireMention *bool    `json:"requireMention,omitempty"`
}

type DiscordConfig struct {
	Token       string   `json:"-"` // env DOTCLAW_DISCORD_TOKEN only
	Enabled     bool     `json:"enabled,omitempty"`
	AllowFrom   []string `json:"allowFrom,omitempty"`
	DMPolicy    string   `json:"dmPolicy,omitempty"`
	GroupPolicy string   `json:"groupPolicy,omitempty"`
}

// RuntimeConfig covers non-secret runtime overrides (runtime.json).
type RuntimeConfig struct {
	PollIntervalMs int    `json:"pollIntervalMs,omitempty"` // clamped >= 1000
	MaxAgents      int    `json:"maxAgents,omitempty"`      // clamped >= 1
	ContainerMode  string `json:"containerMode,omitempty"`  // ephemeral|daemon

	Lane        LaneConfig        `json:"lane,omitempty"`
	Batch       BatchConfig       `json:"batch,omitempty"`
	Queue       QueueConfig       `json:"queue,omitempty"`
	Container   ContainerConfig   `json:"container,omitempty"`
	Scheduler   SchedulerConfig   `json:"scheduler,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
	Stream      StreamConfig      `json:"stream,omitempty"`
	Router      RouterConfig      `json:"router,omitempty"`
	Memory      MemoryConfig      `json:"memory,omitempty"`

	// EnvAllowlist names env vars forwarded into containers in addition
	// to the built-in OPENROUTER_API_KEY / BRAVE_SEARCH_API_KEY / DOTCLAW_*.
	EnvAllowlist []string `json:"envAllowlist,omitempty"`
}

type LaneConfig struct {
	Permits                   int `json:"permits,omitempty"`                   // default 2
	StarvationMs              int `json:"starvationMs,omitempty"`              // default 15000
	MaxConsecutiveInteractive int `json:"maxConsecutiveInteractive,omitempty"` // default 4
}

type BatchConfig struct {
	BatchWindowMs  int `json:"batchWindowMs,omitempty"`  // default 0 (clamped >= 0, small)
	MaxBatchSize   int `json:"maxBatchSize,omitempty"`   // default 20
	PromptMaxChars int `json:"promptMaxChars,omitempty"` // default 24000
	MaxRetries     int `json:"maxRetries,omitempty"`      // default 3
}

type QueueConfig struct {
	RetryBaseMs    int `json:"retryBaseMs,omitempty"`    // default 500
	RetryMaxMs     int `json:"retryMaxMs,omitempty"`     // default 60000
	ClaimDeadlineMs int `json:"claimDeadlineMs,omitempty"` // default 120000
}

type ContainerConfig struct {
	TimeoutMs        int               `json:"timeoutMs,omitempty"`        // default 120000
	MaxExtensionMs   int               `json:"maxExtensionMs,omitempty"`   // default 60000 (daemon mode)
	DaemonPollMs     int               `json:"daemonPollMs,omitempty"`     // default 50
	PidsLimit        int               `json:"pidsLimit,omitempty"`        // default 256
	MemoryMB         int               `json:"memoryMb,omitempty"`         // 0 = unset
	CPUs             float64           `json:"cpus,omitempty"`             // 0 = unset
	ReadOnlyRoot     bool              `json:"readOnlyRoot,omitempty"`
	TmpfsSizeMB      int               `json:"tmpfsSizeMb,omitempty"`      // default 64 when ReadOnlyRoot
	UID              int               `json:"uid,omitempty"`
	GID              int               `json:"gid,omitempty"`
	Privileged       bool              `json:"privileged,omitempty"` // opt-in legacy toggle
	NonMainReadOnly  bool              `json:"nonMainReadOnly,omitempty"`
	Image            string            `json:"image,omitempty"`
	AllowlistFile    string            `json:"allowlistFile,omitempty"` // external mount allowlist, never itself mounted
	ExtraMounts      map[string]string `json:"-"`                       // resolved per-group, not global config
}

type SchedulerConfig struct {
	PollIntervalMs int `json:"pollIntervalMs,omitempty"` // default 5000
	TaskTimeoutMs  int `json:"taskTimeoutMs,omitempty"`  // default 300000
	MaxRetries     int `json:"maxRetries,omitempty"`      // default 3
	RetryBaseMs    int `json:"retryBaseMs,omitempty"`      // default 2000
	RetryMaxMs     int `json:"retryMaxMs,omitempty"`       // default 30000
}

type MaintenanceConfig struct {
	IntervalMs           int `json:"intervalMs,omitempty"`           // default 300000, clamped >= 60000
	TraceRetentionDays   int `json:"traceRetentionDays,omitempty"`   // default 14
	IpcRetentionMinutes  int `json:"ipcRetentionMinutes,omitempty"`  // default 10
	SessionRetentionDays int `json:"sessionRetentionDays,omitempty"` // default 30
	RunRetentionDays     int `json:"runRetentionDays,omitempty"`     // default 30 (workflow runs)
}

type StreamConfig struct {
	ChunkFlushIntervalMs int `json:"chunkFlushIntervalMs,omitempty"` // default 700
	MaxEditLength        int `json:"maxEditLength,omitempty"`        // default 3900 (Telegram-safe)
}

type RouterConfig struct {
	MaxFastChars        int     `json:"maxFastChars,omitempty"`        // default 80
	ConfidenceThreshold float64 `json:"confidenceThreshold,omitempty"` // default 0.7
	EmptySuccessRetry   *bool   `json:"emptySuccessRetry,omitempty"`   // default true (nil = enabled)
	RecallMaxResults    int     `json:"recallMaxResults,omitempty"`    // default 6
	RecallMaxTokens     int     `json:"recallMaxTokens,omitempty"`     // default 600
}

// MemoryConfig mirrors the teacher's agents.defaults.memory knob set —
// same field names and defaults, reused verbatim as the recall-weighting
// surface for DotClaw's per-group memory store.
type MemoryConfig struct {
	Enabled           *bool   `json:"enabled,omitempty"`           // default true
	EmbeddingProvider string  `json:"embeddingProvider,omitempty"` // "", "openai", "gemini", "openrouter"
	EmbeddingModel    string  `json:"embeddingModel,omitempty"`
	EmbeddingAPIBase  string  `json:"embeddingApiBase,omitempty"`
	MaxResults        int     `json:"maxResults,omitempty"`   // default 6
	MaxChunkLen       int     `json:"maxChunkLen,omitempty"`  // default 1000
	VectorWeight      float64 `json:"vectorWeight,omitempty"` // default 0.7
	TextWeight        float64 `json:"textWeight,omitempty"`   // default 0.3
	MinScore          float64 `json:"minScore,omitempty"`     // default 0.35
}

// ModelConfig is model.json: the active model and allowlist. Per the
// resolved Open Question, this is authoritative over OPENROUTER_MODEL.
type ModelConfig struct {
	ActiveModel string   `json:"activeModel"`
	Fallbacks   []string `json:"fallbacks,omitempty"`
	Allowlist   []string `json:"allowlist,omitempty"`
}

// BehaviorConfig is behavior.json: personality tuning knobs plus the
// cancellation/interrupt policy from §5.
type BehaviorConfig struct {
	SystemPromptOverride  string   `json:"systemPromptOverride,omitempty"`
	InterruptOnNewMessage bool     `json:"interruptOnNewMessage,omitempty"`
	CancelPhrases         []string `json:"cancelPhrases,omitempty"` // default ["cancel","stop","abort"]
}

// ToolPolicyConfig is tool-policy.json: allow/deny lists and per-run caps,
// forwarded read-only into the container.
type ToolPolicyConfig struct {
	Allow         []string `json:"allow,omitempty"`
	Deny          []string `json:"deny,omitempty"`
	MaxToolSteps  int      `json:"maxToolSteps,omitempty"`
	MaxOutputTok  int      `json:"maxOutputTokens,omitempty"`
}

// ToolBudgetsConfig is tool-budgets.json: optional per-day caps by tool name.
type ToolBudgetsConfig map[string]int

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used on SIGHUP reload so existing holders of *Config observe new values.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Runtime = src.Runtime
	c.Model = src.Model
	c.Behavior = src.Behavior
	c.ToolPolicy = src.ToolPolicy
	c.ToolBudgets = src.ToolBudgets
	c.Channels = src.Channels
}

// Snapshot returns a value copy of the config data (not the mutex) for
// callers that want a consistent read without holding the lock.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.mu = sync.RWMutex{}
	return cp
}
