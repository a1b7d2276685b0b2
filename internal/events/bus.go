package events

import (
	"fmt"
	"log/slog"
	"sync"
)

// Handler receives events from the bus. Handlers run on the publisher's
// goroutine; slow handlers slow publication, which is what keeps delivery
// order identical to publication order for every subscriber.
type Handler func(Event)

// Subscription identifies a registered handler so it can be removed.
type Subscription struct {
	id int
}

type subscriber struct {
	id      int
	kinds   map[Kind]bool // nil means all kinds
	handler Handler
}

// Bus fans published events out to subscribers. Publishers never learn who is
// listening, and a panicking subscriber cannot abort the publisher or starve
// the remaining subscribers.
type Bus struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   []subscriber
}

// NewBus creates an event bus that reports subscriber faults to logger.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers a handler for the given event kinds. With no kinds the
// handler receives every event.
func (b *Bus) Subscribe(handler Handler, kinds ...Kind) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := subscriber{id: b.nextID, handler: handler}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}
	b.subs = append(b.subs, sub)
	return Subscription{id: sub.id}
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == s.id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the event to every matching subscriber in subscription
// order. Delivery is serialized: events published by concurrent workers are
// observed by every subscriber in one global order.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var faults []Event
	for _, sub := range b.subs {
		if sub.kinds != nil && !sub.kinds[ev.Kind] {
			continue
		}
		if err := b.deliver(sub, ev); err != nil {
			b.logger.Warn("observer fault", "kind", ev.Kind, "error", err)
			// A fault while delivering an observer-fault event is only
			// logged, otherwise two broken observers would feed each other.
			if fault, ok := ev.Payload.(Error); ok && fault.ErrorContext == "observer" {
				continue
			}
			faults = append(faults, New(ev.SessionID, Error{
				ErrorKind:    "unknown",
				Message:      err.Error(),
				ErrorContext: "observer",
				Recoverable:  true,
			}))
		}
	}

	for _, fault := range faults {
		for _, sub := range b.subs {
			if sub.kinds != nil && !sub.kinds[KindError] {
				continue
			}
			if err := b.deliver(sub, fault); err != nil {
				b.logger.Warn("observer fault", "kind", KindError, "error", err)
			}
		}
	}
}

func (b *Bus) deliver(sub subscriber, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	sub.handler(ev)
	return nil
}
