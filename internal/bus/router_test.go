package bus

import (
	"context"
	"testing"
	"time"
)

func TestRouterRoundTripsInboundMessages(t *testing.T) {
	r := NewRouter(4)
	r.PublishInbound(InboundMessage{ChatID: "c1", Content: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := r.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected an inbound message")
	}
	if msg.ChatID != "c1" {
		t.Fatalf("got chatID %q", msg.ChatID)
	}
}

func TestRouterRoundTripsOutboundMessages(t *testing.T) {
	r := NewRouter(4)
	r.PublishOutbound(OutboundMessage{ChatID: "c1", Content: "reply"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := r.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("expected an outbound message")
	}
	if msg.Content != "reply" {
		t.Fatalf("got content %q", msg.Content)
	}
}

func TestRouterConsumeInboundUnblocksOnCancel(t *testing.T) {
	r := NewRouter(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := r.ConsumeInbound(ctx)
	if ok {
		t.Fatal("expected ConsumeInbound to report ok=false after cancellation")
	}
}
