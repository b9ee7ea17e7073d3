// Package redis carries a session's intents and snapshots over redis pub/sub,
// so views and the model can live in different processes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/tictactoe-sync/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sync/internal/bus"
	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sync/internal/intent"
	"github.com/rocketscienceinc/tictactoe-sync/internal/repository"
)

const retryDelay = 100 * time.Millisecond

// Channel names the pub/sub channel of one session topic.
func Channel(sessionID, topic string) string {
	return bus.Namespace + ":" + sessionID + ":" + topic
}

// Client is a bus.Transport backed by redis pub/sub. Redis orders messages of
// a channel, which gives every instance the same intent and snapshot order.
type Client struct {
	logger    *slog.Logger
	client    *redis.Client
	snapshots repository.SnapshotRepository

	sessionID     string
	intentChannel string
	stateChannel  string

	pubsub *redis.PubSub
	// open only while this instance runs the model
	intents *bus.Feed[intent.Intent]

	mu          sync.Mutex
	last        *entity.GameState
	subscribers map[*bus.Subscription]func(entity.GameState)
	closed      bool

	done chan struct{}
}

// New subscribes to the session channels. snapshots may be nil; when set, a
// subscriber joining before any broadcast was seen starts from the recorded
// snapshot.
func New(
	ctx context.Context,
	logger *slog.Logger,
	client *redis.Client,
	snapshots repository.SnapshotRepository,
	sessionID string,
) (*Client, error) {
	that := &Client{
		logger:        logger.With("component", "redis-transport", "sessionID", sessionID),
		client:        client,
		snapshots:     snapshots,
		sessionID:     sessionID,
		intentChannel: Channel(sessionID, bus.TopicStateUpdate),
		stateChannel:  Channel(sessionID, bus.TopicStateHasUpdated),
		intents:       bus.NewFeed[intent.Intent](),
		subscribers:   make(map[*bus.Subscription]func(entity.GameState)),
		done:          make(chan struct{}),
	}

	that.pubsub = client.Subscribe(ctx, that.intentChannel, that.stateChannel)

	// wait for the subscription confirmation so nothing published after New
	// returns is missed
	for range 2 {
		if _, err := that.pubsub.Receive(ctx); err != nil {
			_ = that.pubsub.Close()
			return nil, fmt.Errorf("failed to subscribe to session channels: %w", err)
		}
	}

	go that.receive()

	return that, nil
}

func (that *Client) PublishIntent(ctx context.Context, in intent.Intent) error {
	raw, err := intent.Encode(in)
	if err != nil {
		return err
	}

	if err = that.client.Publish(ctx, that.intentChannel, raw).Err(); err != nil {
		return fmt.Errorf("failed to publish intent: %w", err)
	}

	return nil
}

func (that *Client) Intents(ctx context.Context) <-chan intent.Intent {
	return that.intents.Open(ctx)
}

// PublishState broadcasts state. Local subscribers see it when redis echoes it
// back, in the same order as every other instance.
func (that *Client) PublishState(ctx context.Context, state entity.GameState) error {
	if that.isClosed() {
		return bus.ErrClosed
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("could not marshal state: %w", err)
	}

	if err = that.client.Publish(ctx, that.stateChannel, stateJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish state: %w", err)
	}

	return nil
}

func (that *Client) SubscribeState(ctx context.Context) (*bus.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	if that.closed {
		return nil, bus.ErrClosed
	}

	if that.last == nil && that.snapshots != nil {
		if err := that.loadLast(ctx); err != nil {
			return nil, err
		}
	}

	var sub *bus.Subscription
	sub, push := bus.NewSubscription(func() {
		that.mu.Lock()
		delete(that.subscribers, sub)
		that.mu.Unlock()
	})

	if that.last != nil {
		push(*that.last)
	}
	that.subscribers[sub] = push

	return sub, nil
}

func (that *Client) Close() error {
	that.mu.Lock()
	if that.closed {
		that.mu.Unlock()
		return nil
	}
	that.closed = true
	subscribers := that.subscribers
	that.subscribers = make(map[*bus.Subscription]func(entity.GameState))
	that.mu.Unlock()

	err := that.pubsub.Close()
	<-that.done

	for sub := range subscribers {
		sub.Close()
	}
	that.intents.Close()

	if err != nil {
		return fmt.Errorf("failed to close subscription: %w", err)
	}

	return nil
}

func (that *Client) isClosed() bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.closed
}

// loadLast must be called with mu held.
func (that *Client) loadLast(ctx context.Context) error {
	state, err := that.snapshots.GetByID(ctx, that.sessionID)
	if errors.Is(err, apperror.ErrSnapshotNotFound) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	that.last = &state

	return nil
}

func (that *Client) receive() {
	defer close(that.done)

	log := that.logger.With("method", "receive")

	for {
		msg, err := that.pubsub.ReceiveMessage(context.Background())
		if err != nil {
			if that.isClosed() || errors.Is(err, redis.ErrClosed) {
				return
			}

			// go-redis reconnects and resubscribes on the next receive
			log.Warn("subscription interrupted", "error", err)
			time.Sleep(retryDelay)
			continue
		}

		switch msg.Channel {
		case that.intentChannel:
			that.onIntent(log, msg.Payload)
		case that.stateChannel:
			that.onState(log, msg.Payload)
		}
	}
}

func (that *Client) onIntent(log *slog.Logger, payload string) {
	in, err := intent.Decode([]byte(payload))
	if errors.Is(err, apperror.ErrUnknownIntent) {
		// the model logs and skips it
		that.intents.Push(in)
		return
	}

	if err != nil {
		log.Warn("dropping malformed intent", "error", err)
		return
	}

	that.intents.Push(in)
}

func (that *Client) onState(log *slog.Logger, payload string) {
	var state entity.GameState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		log.Error("could not unmarshal state", "error", err)
		return
	}

	if state.Pawns == nil {
		state.Pawns = []*entity.Pawn{}
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	that.last = &state
	for _, push := range that.subscribers {
		push(state)
	}
}
