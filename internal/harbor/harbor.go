// Package harbor implements the multi-node stub (spec §4.11, C11):
// classifying a destination Handle as local or remote, and publishing
// remote envelopes to an in-process transport. No delegate Service is
// registered for remote traffic: Forward publishes the envelope and
// nothing takes a registry reference on its behalf.
//
// The transport is an in-process watermill gochannel
// publisher rather than a real cluster link — actual cross-node
// forwarding is out of scope (spec.md never specifies a wire format
// for it) — wrapped in a gobreaker circuit breaker so a delegate stuck
// processing a backlog degrades to fast local failures instead of
// blocking the caller.
package harbor

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	gochannel "github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/webitel/skywork/internal/core"
)

// topic is the single in-process channel every node-bound envelope is
// published to; a real deployment would key this by destination node.
const topic = "skywork.harbor.outbound"

// Harbor classifies handles and forwards remote ones.
type Harbor struct {
	node    uint8
	pub     message.Publisher
	sub     message.Subscriber
	breaker *gobreaker.CircuitBreaker
}

// New creates a Harbor for localNode, wiring an in-process gochannel
// pub/sub pair as the remote delegate transport.
func New(localNode uint8) *Harbor {
	logger := watermill.NopLogger{}
	gc := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)

	st := gobreaker.Settings{
		Name:    "harbor-delegate",
		Timeout: 0, // use library default half-open retry interval
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	return &Harbor{
		node:    localNode,
		pub:     gc,
		sub:     gc,
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

// Classify reports whether dest belongs to another node: true when
// dest is valid and its node byte differs from this node's, false for
// local handles and the zero handle.
func (h *Harbor) Classify(dest core.Handle) (remote bool) {
	if !dest.Valid() {
		return false
	}
	return dest.Node() != h.node
}

// Forward hands a remote-bound envelope to the delegate transport.
// Called by the kernel's Sender implementation whenever Classify
// reports true, instead of a local mailbox push.
func (h *Harbor) Forward(ctx context.Context, msg core.Message) error {
	wrapped := message.NewMessage(uuid.New().String(), encodeEnvelope(msg))
	_, err := h.breaker.Execute(func() (any, error) {
		return nil, h.pub.Publish(topic, wrapped)
	})
	if err != nil {
		return fmt.Errorf("harbor: forward to node %d: %w", msg.Dest.Node(), err)
	}
	return nil
}

// Subscribe returns the channel of inbound envelopes addressed to
// this node — in a real cluster this would be fed by the network
// transport; here it observes the same in-process bus Forward
// publishes to, so a misconfigured two-node test harness can still
// exercise the full Classify→Forward→Subscribe round trip locally.
func (h *Harbor) Subscribe(ctx context.Context) (<-chan core.Message, error) {
	msgs, err := h.sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	out := make(chan core.Message)
	go func() {
		defer close(out)
		for wrapped := range msgs {
			m, err := decodeEnvelope(wrapped.Payload)
			wrapped.Ack()
			if err != nil {
				continue
			}
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
