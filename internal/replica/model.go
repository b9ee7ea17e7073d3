// Package replica holds the authoritative model of a session: the only
// writer of the shared game state.
package replica

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rocketscienceinc/tictactoe-sync/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sync/internal/intent"
)

const (
	DefaultTickRate       = 100 * time.Millisecond
	DefaultOwnershipLease = 1000 * time.Millisecond
)

// Publisher receives every state the model produces.
type Publisher interface {
	PublishState(ctx context.Context, state entity.GameState) error
}

type Settings struct {
	TickRate       time.Duration
	OwnershipLease time.Duration

	// ExpirePawnLeases makes the tick clear stale pawn leases as well as the
	// board's. Turning it off restores board-only expiration.
	ExpirePawnLeases bool
}

func DefaultSettings() Settings {
	return Settings{
		TickRate:         DefaultTickRate,
		OwnershipLease:   DefaultOwnershipLease,
		ExpirePawnLeases: true,
	}
}

// Model applies intents one at a time and republishes the whole state after
// each of them. Apply and Tick must not be called concurrently; Run is the
// usual single caller.
type Model struct {
	logger    *slog.Logger
	clock     Clock
	publisher Publisher
	settings  Settings

	state    entity.GameState
	snapshot atomic.Pointer[entity.GameState]
}

func NewModel(logger *slog.Logger, clock Clock, publisher Publisher, settings Settings, seed entity.GameState) *Model {
	model := &Model{
		logger:    logger.With("component", "model"),
		clock:     clock,
		publisher: publisher,
		settings:  settings,
		state:     seed.Clone(),
	}

	if model.state.Pawns == nil {
		model.state.Pawns = []*entity.Pawn{}
	}

	snapshot := model.state.Clone()
	model.snapshot.Store(&snapshot)

	return model
}

// Snapshot returns the last state the model produced. Safe for concurrent use.
func (that *Model) Snapshot() entity.GameState {
	return *that.snapshot.Load()
}

// Run publishes the current state, then serves intents and ticks until ctx is
// done. It is the model's only background activity.
func (that *Model) Run(ctx context.Context, intents <-chan intent.Intent) error {
	log := that.logger.With("method", "Run")

	ticker := time.NewTicker(that.settings.TickRate)
	defer ticker.Stop()

	that.publish(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("model stopped")
			return nil

		case in, ok := <-intents:
			if !ok {
				intents = nil
				log.Warn("intent stream closed, keeping the tick alive")
				continue
			}
			that.Apply(ctx, in)

		case <-ticker.C:
			that.Tick(ctx)
		}
	}
}

// Apply runs one intent against the state. Unrecognized intents are logged
// and leave the state untouched without publishing.
func (that *Model) Apply(ctx context.Context, in intent.Intent) {
	log := that.logger.With("method", "Apply")

	switch typed := in.(type) {
	case intent.Reset:
		that.reset()
	case intent.SpawnPawn:
		if err := that.spawnPawn(typed.Pawn); err != nil {
			log.Warn("spawn rejected", "error", err)
		}
	case intent.BoardMoved:
		that.boardMoved(typed)
	case intent.PawnMoved:
		if err := that.pawnMoved(typed); err != nil {
			log.Debug("move dropped", "error", err)
		}
	default:
		log.Warn("ignoring intent", "error", fmt.Errorf("%w: %T %v", apperror.ErrUnknownIntent, in, kindOf(in)))
		return
	}

	that.publish(ctx)
}

// Tick clears every lease that expired before now and publishes the state.
func (that *Model) Tick(ctx context.Context) {
	now := that.clock.Now()

	if that.state.Board.Properties.Control.Expired(now) {
		that.state.Board.NodeState = that.state.Board.Release()
	}

	if that.settings.ExpirePawnLeases {
		that.expirePawns(now)
	}

	that.publish(ctx)
}

func (that *Model) reset() {
	that.state.Pawns = []*entity.Pawn{}
}

func (that *Model) spawnPawn(pawn *entity.Pawn) error {
	if err := pawn.Validate(); err != nil {
		return err
	}

	if that.state.FindPawn(pawn.GUID) >= 0 {
		return fmt.Errorf("%w: %s", apperror.ErrDuplicatePawn, pawn.GUID)
	}

	spawned := *pawn
	pawns := that.state.Clone().Pawns
	that.state.Pawns = append(pawns, &spawned)

	return nil
}

func (that *Model) boardMoved(moved intent.BoardMoved) {
	that.noteTakeover("board", that.state.Board.Properties.Control, moved.FromView)
	that.state.Board.NodeState = that.state.Board.Grant(moved.NewPose, moved.FromView, that.leaseExpiration())
}

func (that *Model) pawnMoved(moved intent.PawnMoved) error {
	index := that.state.FindPawn(moved.GUID)
	if index < 0 {
		return fmt.Errorf("%w: %s", apperror.ErrPawnNotFound, moved.GUID)
	}

	updated := *that.state.Pawns[index]
	that.noteTakeover(moved.GUID, updated.NodeState.Properties.Control, moved.FromView)
	updated.NodeState = updated.NodeState.Grant(moved.NewPose, moved.FromView, that.leaseExpiration())

	that.replacePawn(index, &updated)

	return nil
}

// noteTakeover logs a move that takes an object from a view whose lease has
// not run out. The move wins either way.
func (that *Model) noteTakeover(object string, control entity.Control, from entity.ViewID) {
	owner := control.ActiveOwner(that.clock.Now())
	if owner == entity.NoOwner || owner == from {
		return
	}

	that.logger.Debug("lease taken over", "object", object, "from", owner, "to", from)
}

func (that *Model) expirePawns(now int64) {
	for index, pawn := range that.state.Pawns {
		if !pawn.NodeState.Properties.Control.Expired(now) {
			continue
		}

		released := *pawn
		released.NodeState = released.NodeState.Release()
		that.replacePawn(index, &released)
	}
}

// replacePawn swaps one entry in a fresh slice; published slices are never
// written to.
func (that *Model) replacePawn(index int, pawn *entity.Pawn) {
	state := that.state.Clone()
	state.Pawns[index] = pawn
	that.state.Pawns = state.Pawns
}

func (that *Model) leaseExpiration() int64 {
	return that.clock.Now() + that.settings.OwnershipLease.Milliseconds()
}

func (that *Model) publish(ctx context.Context) {
	snapshot := that.state.Clone()
	that.snapshot.Store(&snapshot)

	if err := that.publisher.PublishState(ctx, snapshot); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		that.logger.Error("failed to publish state", "error", err)
	}
}

func kindOf(in intent.Intent) intent.Kind {
	if in == nil {
		return ""
	}

	return in.Kind()
}
