package bus

import (
	"context"
	"sync"
	"time"
)

const defaultBufferSize = 100

// Bus fans turn events out to subscribers. Publishing never blocks on a
// slow subscriber.
type Bus struct {
	subscribers      map[uint64]chan Event
	nextSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[uint64]chan Event),
		done:        make(chan struct{}),
	}
}

func (b *Bus) Publish(ctx context.Context, event Event) bool {
	if b == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-b.done:
		return false
	default:
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Slow subscribers lose events.
		}
	}

	return true
}

// Subscribe returns a buffered event channel. It is closed by the returned
// unsubscribe func, by ctx cancellation, or by Close.
func (b *Bus) Subscribe(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	select {
	case <-b.done:
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := b.nextSubscriberID
	b.nextSubscriberID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	stop := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(stop)
			b.mu.Lock()
			if eventCh, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(eventCh)
			}
			b.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-b.done:
			unsubscribe()
		case <-stop:
		}
	}()

	return ch, unsubscribe
}

func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)

		b.mu.Lock()
		for id, ch := range b.subscribers {
			close(ch)
			delete(b.subscribers, id)
		}
		b.mu.Unlock()
	})
}
