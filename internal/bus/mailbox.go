package bus

import "sync"

// Mailbox is an unbounded FIFO in front of a channel. Push never blocks and
// never drops, so a slow reader cannot stall or desynchronize the writer.
type Mailbox[T any] struct {
	mu     sync.Mutex
	queue  []T
	closed bool

	signal chan struct{}
	done   chan struct{}
	out    chan T
}

func NewMailbox[T any]() *Mailbox[T] {
	box := &Mailbox[T]{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan T),
	}

	go box.run()

	return box
}

// Push queues value. It is a no-op after Close.
func (that *Mailbox[T]) Push(value T) {
	that.mu.Lock()
	if that.closed {
		that.mu.Unlock()
		return
	}
	that.queue = append(that.queue, value)
	that.mu.Unlock()

	select {
	case that.signal <- struct{}{}:
	default:
	}
}

// Out is closed once the mailbox is closed.
func (that *Mailbox[T]) Out() <-chan T {
	return that.out
}

// Close stops delivery and drops whatever is still queued. It reports whether
// this call was the one that closed the mailbox.
func (that *Mailbox[T]) Close() bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.closed {
		return false
	}

	that.closed = true
	that.queue = nil
	close(that.done)

	return true
}

func (that *Mailbox[T]) run() {
	defer close(that.out)

	for {
		that.mu.Lock()
		if len(that.queue) == 0 {
			that.mu.Unlock()

			select {
			case <-that.signal:
				continue
			case <-that.done:
				return
			}
		}

		next := that.queue[0]
		var zero T
		that.queue[0] = zero
		that.queue = that.queue[1:]
		that.mu.Unlock()

		select {
		case that.out <- next:
		case <-that.done:
			return
		}
	}
}
