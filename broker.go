package agentstream

import "sync"

// Broker fans published values out to subscribers. Publish never blocks:
// a subscriber whose buffer is full misses that value.
type Broker[T any] struct {
	mu     sync.Mutex
	subs   []chan T
	buffer int
}

// NewBroker creates a broker whose subscriber channels hold buffer values.
func NewBroker[T any](buffer int) *Broker[T] {
	return &Broker[T]{buffer: buffer}
}

// Publish delivers event to every subscriber with room in its buffer.
func (b *Broker[T]) Publish(event T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub <- event:
		default:
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel func removes it
// and closes the channel; calling it more than once is safe.
func (b *Broker[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, b.buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, sub := range b.subs {
				if sub != ch {
					continue
				}
				last := len(b.subs) - 1
				b.subs[i] = b.subs[last]
				b.subs[last] = nil
				b.subs = b.subs[:last]
				close(ch)
				break
			}
		})
	}
}

// Len returns the number of current subscribers.
func (b *Broker[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
