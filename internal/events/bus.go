package events

import (
	"context"
	"errors"
	"sync"
)

// Listener handles one event. Returning an error does not stop delivery
// to the remaining listeners.
type Listener func(ctx context.Context, e Event) error

// Bus fans events out to listeners registered per kind.
type Bus struct {
	mx        sync.RWMutex
	listeners map[Kind][]Listener
	any       []Listener
}

func NewBus() *Bus {
	return &Bus{
		listeners: make(map[Kind][]Listener),
	}
}

// Subscribe registers a listener for one kind.
func (b *Bus) Subscribe(kind Kind, l Listener) *Bus {
	b.mx.Lock()
	defer b.mx.Unlock()

	b.listeners[kind] = append(b.listeners[kind], l)
	return b
}

// SubscribeAll registers a listener for every kind.
func (b *Bus) SubscribeAll(l Listener) *Bus {
	b.mx.Lock()
	defer b.mx.Unlock()

	b.any = append(b.any, l)
	return b
}

// Emit delivers the event to every matching listener and joins their
// errors.
func (b *Bus) Emit(ctx context.Context, e Event) error {
	b.mx.RLock()
	defer b.mx.RUnlock()

	var errs []error
	for _, l := range b.listeners[e.Kind] {
		if err := l(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	for _, l := range b.any {
		if err := l(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
