package protocol

import "encoding/json"

// IPCKind enumerates the container→host request kinds (§6.2).
type IPCKind string

const (
	KindSendMessage  IPCKind = "send_message"
	KindEditMessage  IPCKind = "edit_message"
	KindDeleteMessage IPCKind = "delete_message"

	KindSendPhoto    IPCKind = "send_photo"
	KindSendDocument IPCKind = "send_document"
	KindSendVoice    IPCKind = "send_voice"
	KindSendAudio    IPCKind = "send_audio"
	KindSendLocation IPCKind = "send_location"
	KindSendContact  IPCKind = "send_contact"
	KindSendPoll     IPCKind = "send_poll"
	KindSendButtons  IPCKind = "send_buttons"

	KindScheduleTask IPCKind = "schedule_task"
	KindUpdateTask   IPCKind = "update_task"
	KindPauseTask    IPCKind = "pause_task"
	KindResumeTask   IPCKind = "resume_task"
	KindCancelTask   IPCKind = "cancel_task"
	KindListTasks    IPCKind = "list_tasks"
	KindRunTask      IPCKind = "run_task"
	KindGetTask      IPCKind = "get_task"

	KindMemoryUpsert IPCKind = "memory_upsert"
	KindMemorySearch IPCKind = "memory_search"
	KindMemoryList   IPCKind = "memory_list"
	KindMemoryForget IPCKind = "memory_forget"
	KindMemoryStats  IPCKind = "memory_stats"

	KindRegisterGroup IPCKind = "register_group"
	KindRemoveGroup   IPCKind = "remove_group"
	KindListGroups    IPCKind = "list_groups"
	KindSetModel      IPCKind = "set_model"

	KindDownloadURL  IPCKind = "download_url"
	KindTextToSpeech IPCKind = "text_to_speech"
)

// mainOnlyKinds are admin operations restricted to the main group
// regardless of requesting group (§6.2's authorization column).
var mainOnlyKinds = map[IPCKind]bool{
	KindRegisterGroup: true,
	KindRemoveGroup:   true,
	KindListGroups:    true,
	KindSetModel:      true,
}

// RequiresMain reports whether kind may only be issued by the main
// group's container.
func RequiresMain(kind IPCKind) bool { return mainOnlyKinds[kind] }

// IPCRequest is the envelope a container drops into a group's
// requests/ subdirectory.
type IPCRequest struct {
	ID        string          `json:"id"`
	Kind      IPCKind         `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"createdAt"`
}

// IPCResponse is written by the host to the sibling responses/ file
// with the same id.
type IPCResponse struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}
