package bus

import "context"

// Router is a channel-backed MessageRouter: channel adapters publish
// inbound messages and consume outbound ones, while the host's
// pipeline does the reverse, decoupling the two sides the way the
// teacher's own bus.New() message bus does.
type Router struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// NewRouter builds a Router with the given channel buffer size.
func NewRouter(buffer int) *Router {
	if buffer < 1 {
		buffer = 64
	}
	return &Router{
		inbound:  make(chan InboundMessage, buffer),
		outbound: make(chan OutboundMessage, buffer),
	}
}

func (r *Router) PublishInbound(msg InboundMessage) {
	r.inbound <- msg
}

// ConsumeInbound blocks for the next inbound message, returning
// ok=false if ctx is canceled first.
func (r *Router) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-r.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

func (r *Router) PublishOutbound(msg OutboundMessage) {
	r.outbound <- msg
}

// SubscribeOutbound blocks for the next outbound message, returning
// ok=false if ctx is canceled first.
func (r *Router) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-r.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}
