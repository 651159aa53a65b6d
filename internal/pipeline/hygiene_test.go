package pipeline

import (
	"testing"
	"time"

	"github.com/dotsetlabs/dotclaw/internal/store"
)

func item(id, senderID, content string, ts time.Time) store.QueueItem {
	return store.QueueItem{ID: id, SenderID: senderID, Content: content, Timestamp: ts}
}

func TestHygieneDropsMalformedTurns(t *testing.T) {
	base := time.Now()
	items := []store.QueueItem{
		item("", "u1", "no id", base),
		{ID: "2", SenderID: "u1", Content: "no timestamp"},
		item("3", "u1", "fine", base.Add(time.Second)),
	}
	out := hygiene(items)
	if len(out) != 1 || out[0].ID != "3" {
		t.Fatalf("expected only the well-formed turn to survive, got %+v", out)
	}
}

func TestHygieneDropsStalePrefixExtensions(t *testing.T) {
	base := time.Now()
	items := []store.QueueItem{
		item("1", "u1", "hello wor", base),
		item("2", "u1", "hello world", base.Add(time.Second)),
	}
	out := hygiene(items)
	if len(out) != 1 || out[0].Content != "hello world" {
		t.Fatalf("expected the prefix turn dropped, got %+v", out)
	}
}

func TestHygieneDropsStreamingPlaceholderBeforeRealTurn(t *testing.T) {
	base := time.Now()
	items := []store.QueueItem{
		item("1", "u1", streamingPlaceholder, base),
		item("2", "u1", "the real answer", base.Add(time.Second)),
	}
	out := hygiene(items)
	if len(out) != 1 || out[0].Content != "the real answer" {
		t.Fatalf("expected placeholder dropped, got %+v", out)
	}
}

func TestNormalizeToolResultFlattensEnvelope(t *testing.T) {
	got := normalizeToolResult(`{"tool":"search","result":"3 hits"}`)
	want := "Tool result (search): 3 hits"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalizeToolResultPassesThroughPlainText(t *testing.T) {
	got := normalizeToolResult("just a message")
	if got != "just a message" {
		t.Fatalf("expected plain text unchanged, got %q", got)
	}
}

func TestBudgetKeepsMostRecentLinesWithinLimit(t *testing.T) {
	lines := []string{"aaaa", "bbbb", "cccc"} // 4 chars + newline = 5 each
	kept, omitted := budget(lines, 11)
	if omitted != 1 {
		t.Fatalf("expected 1 omitted line, got %d", omitted)
	}
	if len(kept) != 2 || kept[0] != "bbbb" || kept[1] != "cccc" {
		t.Fatalf("expected the last two lines kept, got %v", kept)
	}
}

func TestBudgetZeroMaxCharsKeepsEverything(t *testing.T) {
	lines := []string{"a", "b", "c"}
	kept, omitted := budget(lines, 0)
	if omitted != 0 || len(kept) != 3 {
		t.Fatalf("expected no budget applied, got kept=%v omitted=%d", kept, omitted)
	}
}
