// Package protocol defines the wire shapes exchanged between the host
// and the in-container agent process over the filesystem (§6.1, §6.2).
package protocol

// ContainerRequest is the payload the host writes to a container's
// request file before starting (ephemeral) or after dropping it into
// agent_requests/ (daemon).
type ContainerRequest struct {
	SessionID      string            `json:"sessionId,omitempty"`
	ChatID         string            `json:"chatId"`
	GroupFolder    string            `json:"groupFolder"`
	Messages       []QueuedMessage   `json:"messages"`
	SystemPrompt   string            `json:"systemPrompt,omitempty"`
	Model          string            `json:"model,omitempty"`
	MemoryProfile  string            `json:"memoryProfile,omitempty"`
	StreamDir      string            `json:"streamDir,omitempty"`
	ResponsePath   string            `json:"responsePath"`
	Env            map[string]string `json:"env,omitempty"`
}

// QueuedMessage is one batched chat message handed to the agent.
type QueuedMessage struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	TimestampMs int64 `json:"timestampMs"`
}

// ToolCallResult records one tool invocation made during the run.
type ToolCallResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latency_ms"`
}

// ContainerResponse is the JSON the container writes back (§4.5),
// wrapped between OutputStartMarker/OutputEndMarker on stdout in
// ephemeral mode, or written atomically to <id>.response.json in
// daemon mode.
type ContainerResponse struct {
	Status            string           `json:"status"` // "success" | "error"
	Result            string           `json:"result,omitempty"`
	Error             string           `json:"error,omitempty"`
	NewSessionID      string           `json:"newSessionId,omitempty"`
	Model             string           `json:"model,omitempty"`
	LatencyMs         int64            `json:"latency_ms"`
	ToolCalls         []ToolCallResult `json:"tool_calls,omitempty"`
	TokensPrompt      int              `json:"tokens_prompt,omitempty"`
	TokensCompletion  int              `json:"tokens_completion,omitempty"`
	MemoryRecallCount int              `json:"memory_recall_count,omitempty"`
	StreamDir         string           `json:"stream_dir,omitempty"`
}

// Ephemeral stdout sentinels (§4.5) delimiting the JSON payload inside
// otherwise-unstructured container stdout.
const (
	OutputStartMarker = "---DOTCLAW_OUTPUT_START---"
	OutputEndMarker   = "---DOTCLAW_OUTPUT_END---"
)

// DaemonStatus is daemon_status.json, polled by the host while
// awaiting a response to decide whether to extend its wait deadline.
type DaemonStatus struct {
	State     string `json:"state"` // "idle" | "processing"
	RequestID string `json:"requestId,omitempty"`
	StartedAt int64  `json:"startedAt,omitempty"`
	PID       int    `json:"pid,omitempty"`
}
