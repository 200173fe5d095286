// Package bus is the in-process topic message bus used to forward cycle
// outputs between loops.
package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tOgg1/omega/internal/logging"
)

// DefaultQueueDepth is the per-subscriber queue depth.
const DefaultQueueDepth = 1000

// ErrBusClosed is returned when subscribing to a closed bus.
var ErrBusClosed = errors.New("message bus closed")

// MessageType classifies bus traffic.
type MessageType string

const (
	MessageTypeData     MessageType = "data"
	MessageTypeControl  MessageType = "control"
	MessageTypeFeedback MessageType = "feedback"
	MessageTypeStatus   MessageType = "status"
	MessageTypeError    MessageType = "error"
)

// Message is one delivery on a topic. Subscribers must treat Payload as
// read-only since the same value is shared across subscribers.
type Message struct {
	ID        string      `json:"id"`
	Topic     string      `json:"topic"`
	Type      MessageType `json:"type"`
	Source    string      `json:"source,omitempty"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Subscription receives messages for one topic.
type Subscription struct {
	id      string
	topic   string
	ch      chan *Message
	bus     *Bus
	dropped atomic.Uint64
	closed  atomic.Bool
}

// C returns the delivery channel. It is closed on Unsubscribe.
func (s *Subscription) C() <-chan *Message {
	return s.ch
}

// Topic is the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Dropped is the number of messages dropped because the queue was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Unsubscribe detaches the subscription and closes its channel. It is safe
// to call more than once and concurrently with Close.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)
	s.close()
}

// close must only run once the subscription is out of the topic map.
func (s *Subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Stats summarizes bus traffic.
type Stats struct {
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
	Topics      int    `json:"topics"`
}

// Bus is a topic-addressed publish/subscribe hub. Publishing never blocks:
// a subscriber whose queue is full loses the message. There is no replay;
// subscribers only see messages published after they subscribed.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscription
	closed bool
	depth  int

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	onDrop    func(topic string)

	logger zerolog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueDepth sets the per-subscriber queue depth.
func WithQueueDepth(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.depth = n
		}
	}
}

// WithDropHandler is called for every dropped delivery.
func WithDropHandler(fn func(topic string)) Option {
	return func(b *Bus) {
		b.onDrop = fn
	}
}

// New creates a bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		topics: make(map[string]map[string]*Subscription),
		depth:  DefaultQueueDepth,
		logger: logging.Component("bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe attaches a new subscriber to topic.
func (b *Bus) Subscribe(topic string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &Subscription{
		id:    uuid.New().String(),
		topic: topic,
		ch:    make(chan *Message, b.depth),
		bus:   b,
	}
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[string]*Subscription)
		b.topics[topic] = subs
	}
	subs[sub.id] = sub

	b.logger.Debug().Str("topic", topic).Str("subscription_id", sub.id).Msg("subscribed")
	return sub, nil
}

// Publish sends a data message to every subscriber of topic and returns the
// number of subscribers that received it.
func (b *Bus) Publish(topic string, payload any) int {
	return b.Send(&Message{Topic: topic, Type: MessageTypeData, Payload: payload})
}

// Send publishes a prepared message. ID and Timestamp are filled when empty.
func (b *Bus) Send(msg *Message) int {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.Type == "" {
		msg.Type = MessageTypeData
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	b.published.Add(1)

	delivered := 0
	for _, sub := range b.topics[msg.Topic] {
		select {
		case sub.ch <- msg:
			delivered++
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(msg.Topic)
			}
			b.logger.Debug().
				Str("topic", msg.Topic).
				Str("subscription_id", sub.id).
				Msg("subscriber queue full, message dropped")
		}
	}
	b.delivered.Add(uint64(delivered))
	return delivered
}

// Stats returns traffic counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	subscribers := 0
	for _, subs := range b.topics {
		subscribers += len(subs)
	}
	return Stats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: subscribers,
		Topics:      len(b.topics),
	}
}

// Close detaches every subscriber and closes their channels. Later
// publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var detached []*Subscription
	for topic, subs := range b.topics {
		for _, sub := range subs {
			detached = append(detached, sub)
		}
		delete(b.topics, topic)
	}
	b.mu.Unlock()

	for _, sub := range detached {
		sub.close()
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[sub.topic]
	if !ok {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
	}
}
