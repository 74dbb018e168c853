package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-automation/internal/domain"
)

// loopbackBroadcaster feeds sent messages back through Messages,
// simulating another process on the same channel.
type loopbackBroadcaster struct {
	mu     sync.Mutex
	out    chan []byte
	closed bool
}

func newLoopbackBroadcaster() *loopbackBroadcaster {
	return &loopbackBroadcaster{out: make(chan []byte, 16)}
}

func (b *loopbackBroadcaster) Connect(ctx context.Context) error { return nil }

func (b *loopbackBroadcaster) Send(ctx context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("closed")
	}
	b.out <- data
	return nil
}

func (b *loopbackBroadcaster) Messages() <-chan []byte { return b.out }

func (b *loopbackBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.out)
	}
	return nil
}

// broadcastHub fans every sent message out to all attached endpoints,
// publisher included, the way a pub/sub channel does.
type broadcastHub struct {
	mu        sync.Mutex
	endpoints []*hubEndpoint
}

func newBroadcastHub() *broadcastHub { return &broadcastHub{} }

func (h *broadcastHub) endpoint() *hubEndpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	endpoint := &hubEndpoint{hub: h, out: make(chan []byte, 16)}
	h.endpoints = append(h.endpoints, endpoint)
	return endpoint
}

func (h *broadcastHub) send(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, endpoint := range h.endpoints {
		if !endpoint.closed {
			endpoint.out <- data
		}
	}
}

type hubEndpoint struct {
	hub    *broadcastHub
	out    chan []byte
	closed bool
}

func (e *hubEndpoint) Connect(ctx context.Context) error { return nil }

func (e *hubEndpoint) Send(ctx context.Context, data []byte) error {
	e.hub.send(data)
	return nil
}

func (e *hubEndpoint) Messages() <-chan []byte { return e.out }

func (e *hubEndpoint) Close() error {
	e.hub.mu.Lock()
	defer e.hub.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.out)
	}
	return nil
}

// discardBroadcaster accepts sends and never delivers anything back.
type discardBroadcaster struct{ in chan []byte }

func newDiscardBroadcaster() *discardBroadcaster {
	return &discardBroadcaster{in: make(chan []byte)}
}

func (d *discardBroadcaster) Connect(ctx context.Context) error        { return nil }
func (d *discardBroadcaster) Send(ctx context.Context, _ []byte) error { return nil }
func (d *discardBroadcaster) Messages() <-chan []byte                  { return d.in }
func (d *discardBroadcaster) Close() error                             { return nil }

// memoryDedup remembers keys it has seen.
type memoryDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemoryDedup() *memoryDedup {
	return &memoryDedup{seen: make(map[string]bool)}
}

func (d *memoryDedup) Seen(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[key] {
		return true, nil
	}
	d.seen[key] = true
	return false, nil
}

func connectedBus(t *testing.T, deps BusDependencies) *Bus {
	t.Helper()
	bus := NewBus(deps)
	require.NoError(t, bus.Connect(context.Background()))
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestPublishDispatchesInRegistrationOrder(t *testing.T) {
	bus := connectedBus(t, BusDependencies{})

	var order []string
	bus.Subscribe(EventTicketCreated, func(ctx context.Context, event Event) error {
		order = append(order, "first")
		return nil
	})
	bus.Subscribe(EventTicketCreated, func(ctx context.Context, event Event) error {
		order = append(order, "second")
		return nil
	})

	_, err := bus.Publish(context.Background(), TicketCreatedPayload{TicketID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestPublishWhileDisconnectedFails(t *testing.T) {
	bus := NewBus(BusDependencies{})

	_, err := bus.Publish(context.Background(), TicketCreatedPayload{TicketID: "t1"})
	require.Error(t, err)
}

func TestFailingSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := connectedBus(t, BusDependencies{})

	delivered := false
	bus.Subscribe(EventSLABreached, func(ctx context.Context, event Event) error {
		return errors.New("handler exploded")
	})
	bus.Subscribe(EventSLABreached, func(ctx context.Context, event Event) error {
		panic("handler panicked")
	})
	bus.Subscribe(EventSLABreached, func(ctx context.Context, event Event) error {
		delivered = true
		return nil
	})

	_, err := bus.Publish(context.Background(), SLABreachedPayload{TicketID: "t1"})
	require.NoError(t, err)
	assert.True(t, delivered)
}

func TestOnceSubscriptionFiresOnce(t *testing.T) {
	bus := connectedBus(t, BusDependencies{})

	count := 0
	bus.Subscribe(EventTicketUpdated, func(ctx context.Context, event Event) error {
		count++
		return nil
	}, Once())

	for i := 0; i < 3; i++ {
		_, err := bus.Publish(context.Background(), TicketUpdatedPayload{TicketID: "t1"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, count)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := connectedBus(t, BusDependencies{})

	count := 0
	sub := bus.Subscribe(EventTicketUpdated, func(ctx context.Context, event Event) error {
		count++
		return nil
	})

	_, err := bus.Publish(context.Background(), TicketUpdatedPayload{TicketID: "t1"})
	require.NoError(t, err)
	sub.Unsubscribe()
	_, err = bus.Publish(context.Background(), TicketUpdatedPayload{TicketID: "t1"})
	require.NoError(t, err)

	assert.Equal(t, 1, count)
}

func TestUnsubscribeAllByType(t *testing.T) {
	bus := connectedBus(t, BusDependencies{})

	var created, updated int
	bus.Subscribe(EventTicketCreated, func(ctx context.Context, event Event) error {
		created++
		return nil
	})
	bus.Subscribe(EventTicketUpdated, func(ctx context.Context, event Event) error {
		updated++
		return nil
	})

	bus.UnsubscribeAll(EventTicketCreated)

	_, err := bus.Publish(context.Background(), TicketCreatedPayload{TicketID: "t1"})
	require.NoError(t, err)
	_, err = bus.Publish(context.Background(), TicketUpdatedPayload{TicketID: "t1"})
	require.NoError(t, err)

	assert.Equal(t, 0, created)
	assert.Equal(t, 1, updated)
}

func TestBroadcastEchoIsDeduplicated(t *testing.T) {
	broadcaster := newLoopbackBroadcaster()
	bus := connectedBus(t, BusDependencies{
		Broadcaster: broadcaster,
		Dedup:       newMemoryDedup(),
	})

	deliveries := 0
	bus.Subscribe(EventTicketCreated, func(ctx context.Context, event Event) error {
		deliveries++
		return nil
	})

	_, err := bus.Publish(context.Background(), TicketCreatedPayload{TicketID: "t1"})
	require.NoError(t, err)

	// the loopback echoes the broadcast back; the dedup window must drop
	// it so the subscriber sees the event exactly once
	assert.Eventually(t, func() bool {
		return deliveries >= 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, deliveries)
}

func TestCrossProcessDeliveryWithSharedDedup(t *testing.T) {
	hub := newBroadcastHub()
	// one cache backing both buses, like two processes on one Redis
	dedup := newMemoryDedup()
	busA := connectedBus(t, BusDependencies{Broadcaster: hub.endpoint(), Dedup: dedup, Source: "engine-a"})
	busB := connectedBus(t, BusDependencies{Broadcaster: hub.endpoint(), Dedup: dedup, Source: "engine-b"})

	var mu sync.Mutex
	deliveredA, deliveredB := 0, 0
	busA.Subscribe(EventTicketUpdated, func(ctx context.Context, event Event) error {
		mu.Lock()
		deliveredA++
		mu.Unlock()
		return nil
	})
	busB.Subscribe(EventTicketUpdated, func(ctx context.Context, event Event) error {
		mu.Lock()
		deliveredB++
		mu.Unlock()
		return nil
	})

	_, err := busA.Publish(context.Background(), TicketUpdatedPayload{TicketID: "t1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deliveredB == 1
	}, time.Second, 10*time.Millisecond,
		"an event published on one process must reach subscribers on the other")

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, deliveredA, "publisher's own echo stays suppressed")
	assert.Equal(t, 1, deliveredB)
}

func TestCloseWaitsForInFlightPublishes(t *testing.T) {
	bus := NewBus(BusDependencies{Broadcaster: newDiscardBroadcaster()})
	require.NoError(t, bus.Connect(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, _ = bus.Publish(context.Background(), TicketUpdatedPayload{TicketID: "t1"})
			}
		}()
	}
	require.NoError(t, bus.Close())
	wg.Wait()

	_, err := bus.Publish(context.Background(), TicketUpdatedPayload{TicketID: "t1"})
	require.Error(t, err, "publish after close is rejected")
}

func TestRemoteEventIsDispatched(t *testing.T) {
	broadcaster := newLoopbackBroadcaster()
	bus := connectedBus(t, BusDependencies{Broadcaster: broadcaster})

	received := make(chan Event, 1)
	bus.Subscribe(EventTicketEscalated, func(ctx context.Context, event Event) error {
		received <- event
		return nil
	})

	remote := Event{
		ID:        NewEventID(),
		Type:      EventTicketEscalated,
		Timestamp: time.Now().UTC(),
		Payload: TicketEscalatedPayload{
			TicketID:        "t9",
			RuleName:        "urgent-open-2h",
			EscalatedToRole: domain.RoleManager,
			AssigneeID:      "u1",
			OldPriority:     domain.TicketPriorityUrgent,
		},
		Metadata: Metadata{Source: "other-process", Version: 1},
	}
	data, err := Marshal(remote)
	require.NoError(t, err)
	require.NoError(t, broadcaster.Send(context.Background(), data))

	select {
	case event := <-received:
		payload, ok := event.Payload.(TicketEscalatedPayload)
		require.True(t, ok)
		assert.Equal(t, "t9", payload.TicketID)
		assert.Equal(t, "other-process", event.Metadata.Source)
	case <-time.After(time.Second):
		t.Fatal("remote event was not dispatched")
	}
}

func TestPublishSetsEnvelopeDefaults(t *testing.T) {
	bus := connectedBus(t, BusDependencies{Source: "test-engine"})

	event, err := bus.Publish(context.Background(), TicketCreatedPayload{TicketID: "t1"},
		WithMetadata(Metadata{CorrelationID: "corr-1"}),
		WithPriority(5))
	require.NoError(t, err)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, EventTicketCreated, event.Type)
	assert.Equal(t, "test-engine", event.Metadata.Source)
	assert.Equal(t, "corr-1", event.Metadata.CorrelationID)
	assert.Equal(t, 1, event.Metadata.Version)
	assert.Equal(t, 5, event.Priority)
	assert.False(t, event.Timestamp.IsZero())
}
