// Package eventbus is the in-process, synchronous multicast registry
// that fans typed events out between the mesh core's components, per
// spec section 4.1. Subscribe returns an unsubscribe handle; Emit
// delivers to every current subscriber, in subscription order, on the
// calling goroutine; Clear drops every subscriber and is called once
// on session disposal.
package eventbus

import (
	"log/slog"
	"sync"
)

// Unsubscribe removes a single subscription. Safe to call more than
// once; the second call is a no-op.
type Unsubscribe func()

// Bus is the event registry. The zero value is not usable; construct
// with New.
type Bus struct {
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[Name][]*subscriber
	nextID      uint64
}

type subscriber struct {
	id      uint64
	handler func(any)
}

// New creates an empty Bus. logger is used only to report a recovered
// panic from a listener; pass nil to use slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:      logger,
		subscribers: make(map[Name][]*subscriber),
	}
}

// on registers a raw handler under name and returns its Unsubscribe.
// Every typed On* method below is a thin wrapper around this.
func (b *Bus) on(name Name, handler func(any)) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	sub := &subscriber{id: id, handler: handler}
	b.subscribers[name] = append(b.subscribers[name], sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subscribers[name]
		for i, s := range list {
			if s.id == id {
				b.subscribers[name] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// emit delivers payload to every subscriber of name, in subscription
// order, on the calling goroutine. A subscriber that panics is
// recovered and logged so it cannot interrupt delivery to its
// siblings.
func (b *Bus) emit(name Name, payload any) {
	b.mu.Lock()
	// Copy the slice under the lock so a handler that subscribes or
	// unsubscribes during delivery cannot race the iteration below.
	list := append([]*subscriber(nil), b.subscribers[name]...)
	b.mu.Unlock()

	for _, sub := range list {
		b.dispatchOne(name, sub, payload)
	}
}

func (b *Bus) dispatchOne(name Name, sub *subscriber, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("eventbus: subscriber panicked", "event", string(name), "recovered", r)
		}
	}()
	sub.handler(payload)
}

// Clear drops every subscriber. Called once by the session facade on
// disposal.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[Name][]*subscriber)
}

// Typed subscribe/emit pairs. A loose map[string]any bus loses most of
// the value this layer provides (see spec section 9's design note on
// event bus typing); a bare string+any handler is still exposed via
// OnAny for generic tooling (nothing in this module calls it), but
// every internal producer/consumer in this module uses the typed forms.

func (b *Bus) OnAny(name Name, handler func(any)) Unsubscribe { return b.on(name, handler) }

func (b *Bus) OnPeerJoin(handler func(PeerJoinEvent)) Unsubscribe {
	return b.on(PeerJoin, func(v any) { handler(v.(PeerJoinEvent)) })
}
func (b *Bus) EmitPeerJoin(event PeerJoinEvent) { b.emit(PeerJoin, event) }

func (b *Bus) OnPeerLeave(handler func(PeerLeaveEvent)) Unsubscribe {
	return b.on(PeerLeave, func(v any) { handler(v.(PeerLeaveEvent)) })
}
func (b *Bus) EmitPeerLeave(event PeerLeaveEvent) { b.emit(PeerLeave, event) }

func (b *Bus) OnHostChange(handler func(HostChangeEvent)) Unsubscribe {
	return b.on(HostChange, func(v any) { handler(v.(HostChangeEvent)) })
}
func (b *Bus) EmitHostChange(event HostChangeEvent) { b.emit(HostChange, event) }

func (b *Bus) OnPlayerMove(handler func(PlayerMoveEvent)) Unsubscribe {
	return b.on(PlayerMove, func(v any) { handler(v.(PlayerMoveEvent)) })
}
func (b *Bus) EmitPlayerMove(event PlayerMoveEvent) { b.emit(PlayerMove, event) }

func (b *Bus) OnInventoryUpdate(handler func(InventoryUpdateEvent)) Unsubscribe {
	return b.on(InventoryUpdate, func(v any) { handler(v.(InventoryUpdateEvent)) })
}
func (b *Bus) EmitInventoryUpdate(event InventoryUpdateEvent) { b.emit(InventoryUpdate, event) }

func (b *Bus) OnObjectTransfer(handler func(ObjectTransferEvent)) Unsubscribe {
	return b.on(ObjectTransfer, func(v any) { handler(v.(ObjectTransferEvent)) })
}
func (b *Bus) EmitObjectTransfer(event ObjectTransferEvent) { b.emit(ObjectTransfer, event) }

func (b *Bus) OnStateSync(handler func(StateSyncEvent)) Unsubscribe {
	return b.on(StateSync, func(v any) { handler(v.(StateSyncEvent)) })
}
func (b *Bus) EmitStateSync(event StateSyncEvent) { b.emit(StateSync, event) }

func (b *Bus) OnStateDelta(handler func(StateDeltaEvent)) Unsubscribe {
	return b.on(StateDelta, func(v any) { handler(v.(StateDeltaEvent)) })
}
func (b *Bus) EmitStateDelta(event StateDeltaEvent) { b.emit(StateDelta, event) }

func (b *Bus) OnSharedPayload(handler func(SharedPayloadEvent)) Unsubscribe {
	return b.on(SharedPayload, func(v any) { handler(v.(SharedPayloadEvent)) })
}
func (b *Bus) EmitSharedPayload(event SharedPayloadEvent) { b.emit(SharedPayload, event) }

func (b *Bus) OnNetMessage(handler func(NetMessageEvent)) Unsubscribe {
	return b.on(NetMessage, func(v any) { handler(v.(NetMessageEvent)) })
}
func (b *Bus) EmitNetMessage(event NetMessageEvent) { b.emit(NetMessage, event) }

func (b *Bus) OnPing(handler func(PingEvent)) Unsubscribe {
	return b.on(Ping, func(v any) { handler(v.(PingEvent)) })
}
func (b *Bus) EmitPing(event PingEvent) { b.emit(Ping, event) }

func (b *Bus) OnMaxCapacityReached(handler func(MaxCapacityReachedEvent)) Unsubscribe {
	return b.on(MaxCapacityReached, func(v any) { handler(v.(MaxCapacityReachedEvent)) })
}
func (b *Bus) EmitMaxCapacityReached(event MaxCapacityReachedEvent) {
	b.emit(MaxCapacityReached, event)
}
