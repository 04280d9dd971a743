package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/friday-assistant/friday/protocol"
)

// Topics of the in-process bridge.
const (
	TopicInvoke   = "bridge.invoke"
	TopicResponse = "bridge.response"

	// MetadataCorrelation carries the correlation id on both topics.
	MetadataCorrelation = "correlation_id"
)

// PubSub serves invocations published on TopicInvoke and publishes each
// Response on TopicResponse. It is the transport for a web view embedded in
// the same process.
type PubSub struct {
	dispatcher Dispatcher
	publisher  message.Publisher
	messages   <-chan *message.Message
	logger     *zap.SugaredLogger
}

// NewPubSub subscribes to TopicInvoke right away, so invocations published
// before Serve runs wait in the subscription instead of being dropped. The
// subscription ends with ctx.
func NewPubSub(ctx context.Context, d Dispatcher, pub message.Publisher, sub message.Subscriber, logger *zap.SugaredLogger) (*PubSub, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	messages, err := sub.Subscribe(ctx, TopicInvoke)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", TopicInvoke, err)
	}
	return &PubSub{dispatcher: d, publisher: pub, messages: messages, logger: logger}, nil
}

// Serve consumes TopicInvoke until ctx ends or the subscription closes.
func (p *PubSub) Serve(ctx context.Context) error {
	p.logger.Infof("[bridge] serving in-process topic %s", TopicInvoke)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-p.messages:
			if !ok {
				return nil
			}
			p.handle(msg)
		}
	}
}

func (p *PubSub) handle(msg *message.Message) {
	// Dispatch only enqueues, so acking right away keeps the topic moving.
	defer msg.Ack()

	inv, err := protocol.ParseInvocation(msg.Payload)
	var fe *protocol.FrameError
	if errors.As(err, &fe) {
		if fe.ID == "" {
			fe.ID = msg.Metadata.Get(MetadataCorrelation)
		}
		p.logger.Warnw("[bridge] rejected malformed message", "uuid", msg.UUID, "id", fe.ID, "error", fe.Err)
		p.publish(fe.Response())
		return
	}

	p.dispatcher.Dispatch(inv, p.publish)
}

func (p *PubSub) publish(resp protocol.Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		p.logger.Errorw("[bridge] cannot encode response", "id", resp.ID, "error", err)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataCorrelation, resp.ID)
	if err := p.publisher.Publish(TopicResponse, msg); err != nil {
		p.logger.Warnw("[bridge] dropping response", "id", resp.ID, "error", err)
	}
}

// PubSubCaller is the web-view side of the in-process bridge. It publishes
// invocations and routes each Response to the waiter with the same
// correlation id; responses nobody waits for are dropped.
type PubSubCaller struct {
	publisher message.Publisher
	logger    *zap.SugaredLogger

	mu      sync.Mutex
	waiters map[string]chan protocol.Response
}

// NewPubSubCaller subscribes to TopicResponse and starts routing. The
// subscription ends with ctx.
func NewPubSubCaller(ctx context.Context, pub message.Publisher, sub message.Subscriber, logger *zap.SugaredLogger) (*PubSubCaller, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	messages, err := sub.Subscribe(ctx, TopicResponse)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", TopicResponse, err)
	}
	c := &PubSubCaller{
		publisher: pub,
		logger:    logger,
		waiters:   make(map[string]chan protocol.Response),
	}
	go c.route(messages)
	return c, nil
}

func (c *PubSubCaller) route(messages <-chan *message.Message) {
	for msg := range messages {
		var resp protocol.Response
		if err := json.Unmarshal(msg.Payload, &resp); err != nil {
			c.logger.Warnw("[bridge] undecodable response", "uuid", msg.UUID, "error", err)
			msg.Ack()
			continue
		}
		msg.Ack()

		c.mu.Lock()
		ch, ok := c.waiters[resp.ID]
		delete(c.waiters, resp.ID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debugw("[bridge] discarding unroutable response", "id", resp.ID)
			continue
		}
		ch <- resp
	}
}

// Invoke publishes an invocation and waits for its Response. Leaving early
// through ctx drops the waiter; the eventual response is then discarded.
func (c *PubSubCaller) Invoke(ctx context.Context, name string, args any) (protocol.Response, error) {
	inv, err := protocol.NewInvocation(uuid.NewString(), name, args)
	if err != nil {
		return protocol.Response{}, err
	}
	payload, err := json.Marshal(inv)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("encode invocation: %w", err)
	}

	ch, cancel := c.await(inv.ID)
	defer cancel()

	if err := c.publishRaw(payload, inv.ID); err != nil {
		return protocol.Response{}, fmt.Errorf("publish invocation: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	}
}

func (c *PubSubCaller) publishRaw(payload []byte, correlationID string) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if correlationID != "" {
		msg.Metadata.Set(MetadataCorrelation, correlationID)
	}
	return c.publisher.Publish(TopicInvoke, msg)
}

// await registers a waiter for id. The returned cancel drops the waiter if
// no response arrived.
func (c *PubSubCaller) await(id string) (<-chan protocol.Response, func()) {
	ch := make(chan protocol.Response, 1)
	c.mu.Lock()
	c.waiters[id] = ch
	c.mu.Unlock()
	return ch, func() {
		c.mu.Lock()
		if c.waiters[id] == ch {
			delete(c.waiters, id)
		}
		c.mu.Unlock()
	}
}
