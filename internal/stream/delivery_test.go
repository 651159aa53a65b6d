package stream

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeChannel struct {
	starts int
	chunks []string
	ends   []string
}

func (f *fakeChannel) OnStreamStart(ctx context.Context, chatID string) error {
	f.starts++
	return nil
}

func (f *fakeChannel) OnChunkEvent(ctx context.Context, chatID string, fullText string) error {
	f.chunks = append(f.chunks, fullText)
	return nil
}

func (f *fakeChannel) OnStreamEnd(ctx context.Context, chatID string, finalText string) error {
	f.ends = append(f.ends, finalText)
	return nil
}

func writeChunk(t *testing.T, dir string, n int, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, chunkName(n)), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDeliverReadsChunksInSequenceAndFinishesOnDone(t *testing.T) {
	dir := t.TempDir()
	ch := &fakeChannel{}

	go func() {
		time.Sleep(30 * time.Millisecond)
		writeChunk(t, dir, 1, "hello ")
		time.Sleep(30 * time.Millisecond)
		writeChunk(t, dir, 2, "world")
		time.Sleep(30 * time.Millisecond)
		os.WriteFile(filepath.Join(dir, doneSentinel), nil, 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := Deliver(ctx, ch, "chat-1", dir, Options{FlushInterval: 10 * time.Millisecond, PollInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalText != "hello world" {
		t.Fatalf("expected full text %q, got %q", "hello world", res.FinalText)
	}
	if res.Interrupted {
		t.Fatal("expected a clean finish, not interrupted")
	}
	if ch.starts != 1 {
		t.Fatalf("expected exactly one stream start, got %d", ch.starts)
	}
	if len(ch.ends) == 0 || ch.ends[len(ch.ends)-1] != "hello world" {
		t.Fatalf("expected final OnStreamEnd with full text, got %v", ch.ends)
	}
}

func TestDeliverIgnoresOutOfOrderChunk(t *testing.T) {
	dir := t.TempDir()
	ch := &fakeChannel{}

	writeChunk(t, dir, 2, "second") // chunk 1 never appears

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	res, _ := Deliver(ctx, ch, "chat-1", dir, Options{FlushInterval: 10 * time.Millisecond, PollInterval: 5 * time.Millisecond})
	if res.FinalText != "" {
		t.Fatalf("expected no content consumed out of order, got %q", res.FinalText)
	}
	if !res.Interrupted {
		t.Fatal("expected the stream to time out as interrupted since chunk 1 never arrived")
	}
}

func TestDeliverSplitsSegmentAtMaxEditLength(t *testing.T) {
	dir := t.TempDir()
	ch := &fakeChannel{}

	go func() {
		time.Sleep(10 * time.Millisecond)
		writeChunk(t, dir, 1, "0123456789")
		time.Sleep(20 * time.Millisecond)
		os.WriteFile(filepath.Join(dir, doneSentinel), nil, 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := Deliver(ctx, ch, "chat-1", dir, Options{FlushInterval: 5 * time.Millisecond, PollInterval: 5 * time.Millisecond, MaxEditLength: 4})
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalText != "0123456789" {
		t.Fatalf("expected full text preserved, got %q", res.FinalText)
	}
	if ch.starts < 2 {
		t.Fatalf("expected a continuation message once the segment exceeded maxEditLength, got %d starts", ch.starts)
	}
}

func TestDeliverHonorsCancellation(t *testing.T) {
	dir := t.TempDir()
	ch := &fakeChannel{}

	writeChunk(t, dir, 1, "partial")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res, err := Deliver(ctx, ch, "chat-1", dir, Options{FlushInterval: 5 * time.Millisecond, PollInterval: 5 * time.Millisecond})
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
	if !res.Interrupted {
		t.Fatal("expected Interrupted true on cancellation")
	}
}
