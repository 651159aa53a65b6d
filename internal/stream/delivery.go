// Package stream delivers a running container's output to a chat
// incrementally, by tailing a directory of numbered chunk files and
// driving a channels.StreamingChannel's edit-in-place preview (§4.8).
package stream

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Channel is the subset of channels.StreamingChannel that delivery
// needs; defined locally to avoid an import cycle with internal/channels.
type Channel interface {
	OnStreamStart(ctx context.Context, chatID string) error
	OnChunkEvent(ctx context.Context, chatID string, fullText string) error
	OnStreamEnd(ctx context.Context, chatID string, finalText string) error
}

const doneSentinel = "done"

// Options tunes delivery pacing, mirroring config.StreamConfig.
type Options struct {
	FlushInterval time.Duration // default 700ms
	MaxEditLength int           // default 3900; 0 disables splitting
	PollInterval  time.Duration // default 100ms
}

// Result is what Deliver hands back once the stream finishes, is
// interrupted, or the source directory never produces a "done" file
// before ctx is cancelled.
type Result struct {
	FinalText   string
	Interrupted bool
}

// Deliver reads chunk_000001.txt, chunk_000002.txt, ... from dir in
// strict sequence, coalescing reads within opts.FlushInterval into a
// single OnChunkEvent per flush, splitting into a new message once the
// accumulated segment exceeds opts.MaxEditLength, and finishing with
// OnStreamEnd once a "done" sentinel file appears after the last chunk
// has been read. An out-of-order or missing chunk simply blocks
// delivery until the next sequential file shows up or ctx is done.
func Deliver(ctx context.Context, ch Channel, chatID, dir string, opts Options) (Result, error) {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 700 * time.Millisecond
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}

	if err := ch.OnStreamStart(ctx, chatID); err != nil {
		return Result{}, fmt.Errorf("stream start: %w", err)
	}

	var (
		full          string // entire stream content seen so far
		segment       string // content in the currently open message
		next          = 1
		flushDeadline = time.Now().Add(opts.FlushInterval)
	)

	flush := func(force bool) error {
		if segment == "" && !force {
			return nil
		}
		if now := time.Now(); !force && now.Before(flushDeadline) {
			return nil
		}
		flushDeadline = time.Now().Add(opts.FlushInterval)
		if opts.MaxEditLength > 0 && len(segment) > opts.MaxEditLength {
			head := segment[:opts.MaxEditLength]
			if err := ch.OnStreamEnd(ctx, chatID, head); err != nil {
				return err
			}
			if err := ch.OnStreamStart(ctx, chatID); err != nil {
				return err
			}
			segment = segment[opts.MaxEditLength:]
			return nil
		}
		return ch.OnChunkEvent(ctx, chatID, segment)
	}

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = ch.OnStreamEnd(context.Background(), chatID, segment)
			return Result{FinalText: full, Interrupted: true}, ctx.Err()
		case <-ticker.C:
		}

		chunkPath := filepath.Join(dir, chunkName(next))
		data, err := os.ReadFile(chunkPath)
		if err == nil {
			full += string(data)
			segment += string(data)
			next++
			forceSplit := opts.MaxEditLength > 0 && len(segment) > opts.MaxEditLength
			if err := flush(forceSplit); err != nil {
				return Result{FinalText: full}, err
			}
			continue
		}
		if !os.IsNotExist(err) {
			return Result{FinalText: full}, fmt.Errorf("read chunk %d: %w", next, err)
		}

		if _, err := os.Stat(filepath.Join(dir, doneSentinel)); err == nil {
			if err := flush(true); err != nil {
				return Result{FinalText: full}, err
			}
			if err := ch.OnStreamEnd(ctx, chatID, segment); err != nil {
				return Result{FinalText: full}, fmt.Errorf("stream end: %w", err)
			}
			return Result{FinalText: full}, nil
		}
	}
}

func chunkName(n int) string {
	return fmt.Sprintf("chunk_%06d.txt", n)
}
