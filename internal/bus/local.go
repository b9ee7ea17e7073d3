package bus

import (
	"context"
	"sync"

	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sync/internal/intent"
)

// Local is the in-process Transport of a single session.
type Local struct {
	intents *Feed[intent.Intent]

	mu          sync.Mutex
	last        *entity.GameState
	subscribers map[*Subscription]struct{}
	closed      bool
}

func NewLocal() *Local {
	return &Local{
		intents:     NewFeed[intent.Intent](),
		subscribers: make(map[*Subscription]struct{}),
	}
}

func (that *Local) PublishIntent(ctx context.Context, in intent.Intent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	that.mu.Lock()
	closed := that.closed
	that.mu.Unlock()

	if closed {
		return ErrClosed
	}

	that.intents.Push(in)

	return nil
}

func (that *Local) Intents(ctx context.Context) <-chan intent.Intent {
	return that.intents.Open(ctx)
}

func (that *Local) PublishState(_ context.Context, state entity.GameState) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.closed {
		return ErrClosed
	}

	that.last = &state
	for sub := range that.subscribers {
		sub.mailbox.Push(state)
	}

	return nil
}

func (that *Local) SubscribeState(ctx context.Context) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	if that.closed {
		return nil, ErrClosed
	}

	var sub *Subscription
	sub = newSubscription(func() {
		that.mu.Lock()
		delete(that.subscribers, sub)
		that.mu.Unlock()
	})

	if that.last != nil {
		sub.mailbox.Push(*that.last)
	}
	that.subscribers[sub] = struct{}{}

	return sub, nil
}

func (that *Local) Close() error {
	that.mu.Lock()
	if that.closed {
		that.mu.Unlock()
		return nil
	}
	that.closed = true
	subscribers := that.subscribers
	that.subscribers = make(map[*Subscription]struct{})
	that.mu.Unlock()

	for sub := range subscribers {
		sub.mailbox.Close()
	}
	that.intents.Close()

	return nil
}
