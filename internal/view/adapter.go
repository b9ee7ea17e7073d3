// Package view bridges one participant's presentation layer to the session
// transport.
package view

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rocketscienceinc/tictactoe-sync/internal/bus"
	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sync/internal/intent"
)

// Presenter renders snapshots. It receives every published state, in order,
// exactly as the model produced it.
type Presenter interface {
	Present(ctx context.Context, state entity.GameState) error
}

type PresenterFunc func(ctx context.Context, state entity.GameState) error

func (that PresenterFunc) Present(ctx context.Context, state entity.GameState) error {
	return that(ctx, state)
}

type Adapter struct {
	logger    *slog.Logger
	id        entity.ViewID
	transport bus.Transport
	presenter Presenter
}

// NewViewID returns a random participant identifier.
func NewViewID() entity.ViewID {
	return entity.ViewID(uuid.NewString())
}

func New(logger *slog.Logger, id entity.ViewID, transport bus.Transport, presenter Presenter) *Adapter {
	return &Adapter{
		logger:    logger.With("component", "view", "viewID", id),
		id:        id,
		transport: transport,
		presenter: presenter,
	}
}

func (that *Adapter) ID() entity.ViewID {
	return that.id
}

// Run subscribes to state broadcasts and forwards them to the presenter until
// ctx is done or the transport closes the subscription. The first state
// forwarded is the session's current one.
func (that *Adapter) Run(ctx context.Context) error {
	log := that.logger.With("method", "Run")

	sub, err := that.transport.SubscribeState(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to state: %w", err)
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case state, ok := <-sub.States():
			if !ok {
				log.Info("state subscription closed")
				return nil
			}

			if err = that.presenter.Present(ctx, state); err != nil {
				return fmt.Errorf("failed to present state: %w", err)
			}
		}
	}
}

// Emit stamps the intent with this view's id and sends it to the model.
func (that *Adapter) Emit(ctx context.Context, in intent.Intent) error {
	if err := that.transport.PublishIntent(ctx, intent.Stamp(in, that.id)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", in.Kind(), err)
	}

	return nil
}

func (that *Adapter) Reset(ctx context.Context) error {
	return that.Emit(ctx, intent.Reset{})
}

// SpawnPawn asks the model for a new pawn and returns the guid it was given.
func (that *Adapter) SpawnPawn(ctx context.Context, pawnType entity.PawnType) (string, error) {
	pawn := entity.NewPawn(pawnType)
	if err := pawn.Validate(); err != nil {
		return "", err
	}

	if err := that.Emit(ctx, intent.SpawnPawn{Pawn: pawn}); err != nil {
		return "", err
	}

	return pawn.GUID, nil
}

func (that *Adapter) MoveBoard(ctx context.Context, pose entity.PosePatch) error {
	return that.Emit(ctx, intent.BoardMoved{NewPose: pose})
}

func (that *Adapter) MovePawn(ctx context.Context, guid string, pose entity.PosePatch) error {
	return that.Emit(ctx, intent.PawnMoved{GUID: guid, NewPose: pose})
}
