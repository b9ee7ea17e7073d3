// Package bus connects views to the model: intents travel in one direction,
// full state snapshots in the other.
package bus

import (
	"context"

	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sync/internal/intent"
)

const (
	Namespace = "tictactoe"

	// TopicStateUpdate carries intents from views to the model.
	TopicStateUpdate = "state_update"
	// TopicStateHasUpdated carries snapshots from the model to views.
	TopicStateHasUpdated = "state_has_updated"
)

// Transport is the replication channel of one session. Implementations must
// deliver intents to the model in a single global order and deliver every
// published snapshot to every subscriber, in order and without gaps.
type Transport interface {
	PublishIntent(ctx context.Context, in intent.Intent) error
	// Intents opens the model's intent stream. It carries only intents
	// published after the call and closes when ctx is done or Intents is
	// called again.
	Intents(ctx context.Context) <-chan intent.Intent

	PublishState(ctx context.Context, state entity.GameState) error
	// SubscribeState starts a subscription. Its first value is the latest
	// snapshot published before the call, if any.
	SubscribeState(ctx context.Context) (*Subscription, error)

	Close() error
}

type Subscription struct {
	mailbox *Mailbox[entity.GameState]
	onClose func()
}

func newSubscription(onClose func()) *Subscription {
	return &Subscription{
		mailbox: NewMailbox[entity.GameState](),
		onClose: onClose,
	}
}

// NewSubscription lets other Transport implementations hand out
// subscriptions; push feeds it and onClose runs once on Close.
func NewSubscription(onClose func()) (*Subscription, func(entity.GameState)) {
	sub := newSubscription(onClose)
	return sub, sub.mailbox.Push
}

func (that *Subscription) States() <-chan entity.GameState {
	return that.mailbox.Out()
}

func (that *Subscription) Close() {
	if that.mailbox.Close() && that.onClose != nil {
		that.onClose()
	}
}
