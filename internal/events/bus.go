package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-automation/internal/observability"
	apperrors "github.com/spec-kit/ticket-automation/pkg/util"
)

// Handler handles a dispatched event.
type Handler func(ctx context.Context, event Event) error

// Broadcaster is the cross-process transport for serialized events.
type Broadcaster interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, data []byte) error
	Messages() <-chan []byte
	Close() error
}

// DedupCache suppresses redelivery of an event within a TTL window. The
// bus scopes keys per instance, so a cache shared across processes only
// ever drops the owning process's own echo; a copy arriving at another
// process still dispatches there.
type DedupCache interface {
	Seen(ctx context.Context, key string) (bool, error)
}

// AuditSink persists a record of every published event. Appends are
// best-effort; failures never abort a publish.
type AuditSink interface {
	Append(ctx context.Context, event Event) error
}

type subscriber struct {
	id      uint64
	handler Handler
	once    bool
}

// Subscription is the unsubscribe handle returned by Subscribe.
type Subscription struct {
	bus       *Bus
	eventType EventType
	id        uint64
}

// Unsubscribe removes the handler from the bus.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.remove(s.eventType, s.id)
}

// SubscribeOption customizes a subscription.
type SubscribeOption func(*subscriber)

// Once unsubscribes the handler after its first delivery.
func Once() SubscribeOption {
	return func(s *subscriber) { s.once = true }
}

// PublishOption customizes a publish call.
type PublishOption func(*Event)

// WithMetadata overrides default event metadata. Zero-valued fields keep
// their defaults.
func WithMetadata(meta Metadata) PublishOption {
	return func(e *Event) {
		if meta.UserID != "" {
			e.Metadata.UserID = meta.UserID
		}
		if meta.CorrelationID != "" {
			e.Metadata.CorrelationID = meta.CorrelationID
		}
		if meta.CausationID != "" {
			e.Metadata.CausationID = meta.CausationID
		}
		if meta.Source != "" {
			e.Metadata.Source = meta.Source
		}
		if meta.Version != 0 {
			e.Metadata.Version = meta.Version
		}
	}
}

// WithPriority sets the event priority.
func WithPriority(priority int) PublishOption {
	return func(e *Event) { e.Priority = priority }
}

// Bus dispatches events to local subscribers in registration order and
// broadcasts them to other processes. Local handler failures are
// isolated per subscriber; broadcast and audit writes are asynchronous.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType][]*subscriber
	nextID uint64

	broadcaster Broadcaster
	dedup       DedupCache
	audit       AuditSink
	logger      *zap.Logger
	metrics     *observability.Metrics
	source      string
	instance    string

	connected atomic.Bool
	asyncMu   sync.Mutex
	done      chan struct{}
	wg        sync.WaitGroup
}

// BusDependencies bundles bus collaborators. Broadcaster, DedupCache and
// AuditSink are optional; a nil broadcaster yields a process-local bus.
type BusDependencies struct {
	Broadcaster Broadcaster
	Dedup       DedupCache
	Audit       AuditSink
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Source      string
}

// NewBus constructs a disconnected bus.
func NewBus(deps BusDependencies) *Bus {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	source := deps.Source
	if source == "" {
		source = "ticket-automation-engine"
	}
	return &Bus{
		subs:        make(map[EventType][]*subscriber),
		broadcaster: deps.Broadcaster,
		dedup:       deps.Dedup,
		audit:       deps.Audit,
		logger:      logger,
		metrics:     deps.Metrics,
		source:      source,
		instance:    uuid.NewString()[:8],
		done:        make(chan struct{}),
	}
}

// Connect attaches the broadcast transport and starts the receive loop.
func (b *Bus) Connect(ctx context.Context) error {
	if b.connected.Load() {
		return nil
	}
	if b.broadcaster != nil {
		if err := b.broadcaster.Connect(ctx); err != nil {
			return apperrors.NewUnavailable("broadcast transport unreachable", err)
		}
		b.wg.Add(1)
		go b.receiveLoop()
	}
	b.connected.Store(true)
	b.logger.Info("event bus connected", zap.String("source", b.source))
	return nil
}

// Close stops the bus and waits for in-flight asynchronous work.
func (b *Bus) Close() error {
	if !b.connected.CompareAndSwap(true, false) {
		return nil
	}
	// publishers that saw connected=true finish their Adds under asyncMu;
	// taking it here orders them before the Wait below
	b.asyncMu.Lock()
	close(b.done)
	b.asyncMu.Unlock()
	var err error
	if b.broadcaster != nil {
		err = b.broadcaster.Close()
	}
	b.wg.Wait()
	b.logger.Info("event bus closed")
	return err
}

// Subscribe registers a handler for the given event type and returns an
// unsubscribe handle. Handlers run in registration order per publish.
func (b *Bus) Subscribe(eventType EventType, handler Handler, opts ...SubscribeOption) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{id: b.nextID, handler: handler}
	for _, opt := range opts {
		opt(sub)
	}
	b.subs[eventType] = append(b.subs[eventType], sub)
	return &Subscription{bus: b, eventType: eventType, id: sub.id}
}

// UnsubscribeAll clears subscriptions for the given types, or every
// subscription when no type is given.
func (b *Bus) UnsubscribeAll(types ...EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(types) == 0 {
		b.subs = make(map[EventType][]*subscriber)
		return
	}
	for _, t := range types {
		delete(b.subs, t)
	}
}

// Publish constructs an event from the payload, dispatches it to local
// subscribers and submits it for broadcast and audit. Publishing while
// disconnected is a hard error.
func (b *Bus) Publish(ctx context.Context, payload Payload, opts ...PublishOption) (Event, error) {
	if !b.connected.Load() {
		return Event{}, apperrors.NewUnavailable("event bus not connected", nil)
	}

	event := Event{
		ID:        NewEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Metadata:  Metadata{Source: b.source, Version: 1},
	}
	for _, opt := range opts {
		opt(&event)
	}

	if b.isDuplicate(ctx, event) {
		return event, nil
	}

	b.dispatch(ctx, event)
	if b.metrics != nil {
		b.metrics.Inc(observability.CounterEventsPublished)
	}

	// re-check under asyncMu: Close flips connected before draining the
	// lock, so no Add can race its Wait
	b.asyncMu.Lock()
	if b.connected.Load() {
		if b.broadcaster != nil {
			b.wg.Add(1)
			go b.submitBroadcast(event)
		}
		if b.audit != nil {
			b.wg.Add(1)
			go b.appendAudit(event)
		}
	}
	b.asyncMu.Unlock()
	return event, nil
}

func (b *Bus) isDuplicate(ctx context.Context, event Event) bool {
	if b.dedup == nil {
		return false
	}
	// the instance prefix keeps one process's publish mark from
	// suppressing delivery in every other process sharing the cache
	seen, err := b.dedup.Seen(ctx, fmt.Sprintf("%s:%s:%s", b.instance, event.Type, event.ID))
	if err != nil {
		// fail open: dropping real events is worse than a rare redelivery
		b.logger.Warn("dedup check failed", zap.String("event_id", event.ID), zap.Error(err))
		return false
	}
	if seen {
		if b.metrics != nil {
			b.metrics.Inc(observability.CounterEventsDroppedDedup)
		}
		b.logger.Debug("duplicate event dropped",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)))
	}
	return seen
}

// dispatch invokes local subscribers sequentially. A failing or panicking
// handler never prevents later handlers from running.
func (b *Bus) dispatch(ctx context.Context, event Event) {
	b.mu.RLock()
	subs := append([]*subscriber{}, b.subs[event.Type]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.invoke(ctx, sub, event)
		if sub.once {
			b.remove(event.Type, sub.id)
		}
	}
}

func (b *Bus) invoke(ctx context.Context, sub *subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panic",
				zap.String("event_type", string(event.Type)),
				zap.String("event_id", event.ID),
				zap.Any("panic", r))
		}
	}()
	if err := sub.handler(ctx, event); err != nil {
		b.logger.Error("subscriber failed",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
}

func (b *Bus) remove(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, sub := range subs {
		if sub.id == id {
			b.subs[eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) submitBroadcast(event Event) {
	defer b.wg.Done()
	data, err := Marshal(event)
	if err != nil {
		b.logger.Error("marshal event for broadcast", zap.String("event_id", event.ID), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.broadcaster.Send(ctx, data); err != nil {
		b.logger.Error("broadcast event", zap.String("event_id", event.ID), zap.Error(err))
	}
}

func (b *Bus) appendAudit(event Event) {
	defer b.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.audit.Append(ctx, event); err != nil {
		b.logger.Error("append event audit", zap.String("event_id", event.ID), zap.Error(err))
	}
}

// receiveLoop dispatches broadcast messages from other processes to
// local subscribers. Received events are never re-broadcast.
func (b *Bus) receiveLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case data, ok := <-b.broadcaster.Messages():
			if !ok {
				return
			}
			event, err := Unmarshal(data)
			if err != nil {
				b.logger.Warn("malformed broadcast message", zap.Error(err))
				continue
			}
			if b.isDuplicate(context.Background(), event) {
				continue
			}
			if b.metrics != nil {
				b.metrics.Inc(observability.CounterEventsReceived)
			}
			b.dispatch(context.Background(), event)
		}
	}
}
