// Package events provides runtime event publication, persistence and
// retention management.
package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tOgg1/omega/internal/logging"
	"github.com/tOgg1/omega/internal/models"
)

// Publisher errors.
var (
	ErrSubscriberExists  = errors.New("subscriber already exists")
	ErrSubscriberMissing = errors.New("subscriber not found")
	ErrPublisherClosed   = errors.New("publisher closed")
)

// DefaultSubscriberBuffer is the per-subscriber queue depth.
const DefaultSubscriberBuffer = 256

// Publisher broadcasts events to subscribers.
type Publisher interface {
	// Publish stamps and delivers event. It never blocks on subscribers.
	Publish(ctx context.Context, event *models.Event)

	// Subscribe registers fn for events matching filter. Events are
	// delivered to fn in publication order on a dedicated goroutine.
	Subscribe(id string, filter Filter, fn func(*models.Event)) error

	// Unsubscribe removes a subscriber.
	Unsubscribe(id string) error
}

// Filter selects events. Empty fields match everything.
type Filter struct {
	EventTypes  []models.EventType
	EntityTypes []models.EntityType
	EntityID    string
}

// Matches reports whether event passes the filter.
func (f Filter) Matches(event *models.Event) bool {
	if event == nil {
		return false
	}
	if len(f.EventTypes) > 0 && !containsType(f.EventTypes, event.Type) {
		return false
	}
	if len(f.EntityTypes) > 0 && !containsEntity(f.EntityTypes, event.EntityType) {
		return false
	}
	if f.EntityID != "" && f.EntityID != event.EntityID {
		return false
	}
	return true
}

func containsType(types []models.EventType, t models.EventType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func containsEntity(types []models.EntityType, t models.EntityType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// Recorder persists published events.
type Recorder interface {
	Create(ctx context.Context, event *models.Event) error
}

type subscriber struct {
	id      string
	filter  Filter
	fn      func(*models.Event)
	queue   chan *models.Event
	done    chan struct{}
	dropped atomic.Uint64
}

// InMemoryPublisher fans events out to in-process subscribers and optionally
// persists them. Each subscriber has a bounded queue; when it is full the
// event is dropped for that subscriber only.
type InMemoryPublisher struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	repo      Recorder
	buffer    int
	published atomic.Uint64
	onDrop    func(subscriberID string)
	logger    zerolog.Logger
}

// Option configures an InMemoryPublisher.
type Option func(*InMemoryPublisher)

// WithRepository persists every published event through repo.
func WithRepository(repo Recorder) Option {
	return func(p *InMemoryPublisher) {
		p.repo = repo
	}
}

// WithSubscriberBuffer sets the per-subscriber queue depth.
func WithSubscriberBuffer(n int) Option {
	return func(p *InMemoryPublisher) {
		if n > 0 {
			p.buffer = n
		}
	}
}

// WithDropHandler is called whenever an event is dropped for a subscriber.
func WithDropHandler(fn func(subscriberID string)) Option {
	return func(p *InMemoryPublisher) {
		p.onDrop = fn
	}
}

// NewInMemoryPublisher creates a publisher.
func NewInMemoryPublisher(opts ...Option) *InMemoryPublisher {
	p := &InMemoryPublisher{
		subscribers: make(map[string]*subscriber),
		buffer:      DefaultSubscriberBuffer,
		logger:      logging.Component("events"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish implements Publisher.
func (p *InMemoryPublisher) Publish(ctx context.Context, event *models.Event) {
	if event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return
	}

	if p.repo != nil {
		if err := p.repo.Create(ctx, event); err != nil {
			p.logger.Warn().Err(err).Str("event_type", string(event.Type)).Msg("failed to persist event")
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	p.published.Add(1)

	for _, sub := range p.subscribers {
		if !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.queue <- event:
		default:
			sub.dropped.Add(1)
			if p.onDrop != nil {
				p.onDrop(sub.id)
			}
			p.logger.Debug().
				Str("subscriber_id", sub.id).
				Str("event_type", string(event.Type)).
				Msg("subscriber queue full, event dropped")
		}
	}
}

// Subscribe implements Publisher.
func (p *InMemoryPublisher) Subscribe(id string, filter Filter, fn func(*models.Event)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}
	if _, exists := p.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	sub := &subscriber{
		id:     id,
		filter: filter,
		fn:     fn,
		queue:  make(chan *models.Event, p.buffer),
		done:   make(chan struct{}),
	}
	p.subscribers[id] = sub
	go p.deliver(sub)

	p.logger.Debug().Str("subscriber_id", id).Msg("subscriber registered")
	return nil
}

// Unsubscribe implements Publisher. Events already queued for the
// subscriber are still delivered.
func (p *InMemoryPublisher) Unsubscribe(id string) error {
	p.mu.Lock()
	sub, exists := p.subscribers[id]
	if !exists {
		p.mu.Unlock()
		return ErrSubscriberMissing
	}
	delete(p.subscribers, id)
	close(sub.queue)
	p.mu.Unlock()

	<-sub.done
	p.logger.Debug().Str("subscriber_id", id).Msg("subscriber unregistered")
	return nil
}

// Stream subscribes with a channel instead of a callback. The channel is
// closed when cancel is called.
func (p *InMemoryPublisher) Stream(id string, filter Filter) (<-chan *models.Event, func(), error) {
	out := make(chan *models.Event, p.buffer)
	err := p.Subscribe(id, filter, func(event *models.Event) {
		select {
		case out <- event:
		default:
			p.logger.Debug().Str("subscriber_id", id).Msg("stream consumer slow, event dropped")
		}
	})
	if err != nil {
		return nil, nil, err
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = p.Unsubscribe(id)
			close(out)
		})
	}
	return out, cancel, nil
}

// Dropped returns the number of events dropped for a subscriber.
func (p *InMemoryPublisher) Dropped(id string) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if sub, ok := p.subscribers[id]; ok {
		return sub.dropped.Load()
	}
	return 0
}

// Published is the number of events broadcast so far.
func (p *InMemoryPublisher) Published() uint64 {
	return p.published.Load()
}

// SubscriberCount returns the number of active subscribers.
func (p *InMemoryPublisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers)
}

// Close unsubscribes everyone and rejects further subscriptions.
func (p *InMemoryPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	subs := make([]*subscriber, 0, len(p.subscribers))
	for id, sub := range p.subscribers {
		subs = append(subs, sub)
		close(sub.queue)
		delete(p.subscribers, id)
	}
	p.mu.Unlock()

	for _, sub := range subs {
		<-sub.done
	}
}

func (p *InMemoryPublisher) deliver(sub *subscriber) {
	defer close(sub.done)
	for event := range sub.queue {
		p.invoke(sub, event)
	}
}

func (p *InMemoryPublisher) invoke(sub *subscriber, event *models.Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("subscriber_id", sub.id).
				Interface("panic", r).
				Msg("subscriber panicked")
		}
	}()
	sub.fn(event)
}
