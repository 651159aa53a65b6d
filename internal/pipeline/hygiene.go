package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dotsetlabs/dotclaw/internal/store"
)

const streamingPlaceholder = "[streaming]"

// hygiene implements §4.9 step 5: drop malformed turns, de-duplicate
// successive prefix extensions (a later turn whose content is a
// superset-by-extension of the previous one, as streaming updates
// produce), drop stale streaming placeholders preceding a real turn,
// and normalize JSON tool-result envelopes into a readable prefix.
func hygiene(items []store.QueueItem) []store.QueueItem {
	out := make([]store.QueueItem, 0, len(items))
	for _, it := range items {
		if it.ID == "" || it.Timestamp.IsZero() {
			continue
		}
		it.Content = normalizeToolResult(it.Content)
		out = append(out, it)
	}

	deduped := out[:0:0]
	for i, it := range out {
		if i+1 < len(out) {
			next := out[i+1]
			if next.SenderID == it.SenderID && strings.HasPrefix(next.Content, it.Content) && next.Content != it.Content {
				continue // this turn is a stale prefix of the next one
			}
			if it.Content == streamingPlaceholder {
				continue
			}
		}
		deduped = append(deduped, it)
	}
	return deduped
}

// normalizeToolResult rewrites a JSON tool-result envelope
// ({"tool":"name","result":...}) into a flat "Tool result (NAME): ..."
// line; content that isn't such an envelope passes through unchanged.
func normalizeToolResult(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return content
	}
	var envelope struct {
		Tool   string      `json:"tool"`
		Result interface{} `json:"result"`
	}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil || envelope.Tool == "" {
		return content
	}
	return fmt.Sprintf("Tool result (%s): %v", envelope.Tool, envelope.Result)
}

// catchUp implements §4.9 step 6: format the batch as
// "[date time] name: content" lines, capturing anything since the
// chat's last agent reply that this batch claim already pulled in.
func catchUp(chat store.Chat, items []store.QueueItem) []string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		name := it.SenderName
		if name == "" {
			name = it.SenderID
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", it.Timestamp.Format("2006-01-02 15:04:05"), name, it.Content))
	}
	return lines
}

// budget implements §4.9 step 7: keep the most recent lines whose
// combined character count fits within maxChars, reporting how many
// older lines were dropped.
func budget(lines []string, maxChars int) ([]string, int) {
	if maxChars <= 0 {
		return lines, 0
	}
	total := 0
	cut := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		total += len(lines[i]) + 1
		if total > maxChars {
			cut = i + 1
			break
		}
		cut = i
	}
	return lines[cut:], cut
}
