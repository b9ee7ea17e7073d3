package bus

import (
	"context"
	"sync"
)

// Feed hands values to at most one reader at a time. Every Open starts a new
// stream that sees only values pushed after it and ends the stream before it.
// Values pushed while no stream is open are dropped.
type Feed[T any] struct {
	mu     sync.Mutex
	box    *Mailbox[T]
	closed bool
}

func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{}
}

func (that *Feed[T]) Push(value T) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.box != nil {
		that.box.Push(value)
	}
}

// Open starts a stream that is closed when ctx is done, on the next Open or on
// Close, whichever happens first. Whatever it still queues then is dropped.
func (that *Feed[T]) Open(ctx context.Context) <-chan T {
	that.mu.Lock()
	defer that.mu.Unlock()

	box := NewMailbox[T]()
	if that.closed {
		box.Close()
		return box.Out()
	}

	if that.box != nil {
		that.box.Close()
	}
	that.box = box

	go func() {
		select {
		case <-ctx.Done():
		case <-box.done:
		}

		that.mu.Lock()
		if that.box == box {
			that.box = nil
		}
		that.mu.Unlock()

		box.Close()
	}()

	return box.Out()
}

func (that *Feed[T]) Close() {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.closed = true
	if that.box != nil {
		that.box.Close()
		that.box = nil
	}
}
