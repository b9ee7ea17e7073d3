package replica

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sync/internal/intent"
)

type recorder struct {
	mu     sync.Mutex
	states []entity.GameState
}

func (that *recorder) PublishState(_ context.Context, state entity.GameState) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.states = append(that.states, state)

	return nil
}

func (that *recorder) published() []entity.GameState {
	that.mu.Lock()
	defer that.mu.Unlock()

	return append([]entity.GameState(nil), that.states...)
}

func (that *recorder) last(t *testing.T) entity.GameState {
	t.Helper()

	states := that.published()
	require.NotEmpty(t, states)

	return states[len(states)-1]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSettings() Settings {
	return Settings{
		TickRate:         10 * time.Millisecond,
		OwnershipLease:   1000 * time.Millisecond,
		ExpirePawnLeases: true,
	}
}

func newTestModel(clock Clock, settings Settings) (*Model, *recorder) {
	rec := &recorder{}
	return NewModel(testLogger(), clock, rec, settings, entity.NewGameState()), rec
}

func pawn(guid string, pawnType entity.PawnType) *entity.Pawn {
	return &entity.Pawn{
		GUID: guid,
		Type: pawnType,
		NodeState: entity.NodeState{
			Pose: entity.Pose{
				Position: entity.Vector3{Y: 5},
				Rotation: entity.Quaternion{W: 1},
				Scale:    entity.Vector3{X: 1, Y: 1, Z: 1},
			},
		},
	}
}

func TestModel_Scenario(t *testing.T) {
	ctx := context.Background()

	// Given: a fresh model with a one second lease
	clock := NewManualClock(0)
	model, rec := newTestModel(clock, testSettings())

	// When: a pawn is spawned
	model.Apply(ctx, intent.SpawnPawn{Pawn: pawn("p1", entity.PawnX)})

	// Then: it is the only pawn
	state := rec.last(t)
	require.Len(t, state.Pawns, 1)
	assert.Equal(t, "p1", state.Pawns[0].GUID)
	assert.Equal(t, entity.PawnX, state.Pawns[0].Type)

	// When: v1 moves the board at now=100
	clock.Set(100)
	model.Apply(ctx, intent.BoardMoved{
		NewPose:  entity.PosePatch{Position: &entity.Vector3{X: 5}},
		FromView: "v1",
	})

	// Then: the board moved and is leased to v1 until 1100
	state = rec.last(t)
	assert.InDelta(t, 5.0, state.Board.Pose.Position.X, 0)
	assert.Equal(t, entity.Control{Owner: "v1", Expiration: 1100}, state.Board.Properties.Control)

	// When: a tick runs at now=1200
	clock.Set(1200)
	model.Tick(ctx)

	// Then: the lease is gone
	assert.Equal(t, entity.Control{}, rec.last(t).Board.Properties.Control)
}

func TestModel_Determinism(t *testing.T) {
	ctx := context.Background()

	script := []struct {
		now int64
		in  intent.Intent
	}{
		{0, intent.SpawnPawn{Pawn: pawn("a", entity.PawnX)}},
		{10, intent.SpawnPawn{Pawn: pawn("b", entity.PawnO)}},
		{20, intent.PawnMoved{GUID: "a", NewPose: entity.PosePatch{Position: &entity.Vector3{X: 1}}, FromView: "v1"}},
		{30, intent.BoardMoved{NewPose: entity.PosePatch{Scale: &entity.Vector3{X: 2, Y: 2, Z: 2}}, FromView: "v2"}},
		{40, intent.PawnMoved{GUID: "missing", FromView: "v2"}},
		{50, intent.Unknown{Type: "later"}},
		{2000, nil},
		{2010, intent.Reset{}},
		{2020, intent.SpawnPawn{Pawn: pawn("c", entity.PawnO)}},
	}

	replay := func() []entity.GameState {
		clock := NewManualClock(0)
		model, rec := newTestModel(clock, testSettings())

		for _, step := range script {
			clock.Set(step.now)
			if step.in == nil {
				model.Tick(ctx)
				continue
			}
			model.Apply(ctx, step.in)
		}

		return rec.published()
	}

	// When: the same script is replayed on two fresh models
	first := replay()
	second := replay()

	// Then: both publish the exact same sequence of states
	require.Equal(t, first, second)
	assert.Len(t, first, len(script)-1)
}

func TestModel_Reset(t *testing.T) {
	ctx := context.Background()

	t.Run("Reset is idempotent", func(t *testing.T) {
		// Given: a model with pawns and a leased board
		clock := NewManualClock(100)
		model, rec := newTestModel(clock, testSettings())
		model.Apply(ctx, intent.SpawnPawn{Pawn: pawn("p1", entity.PawnX)})
		model.Apply(ctx, intent.BoardMoved{FromView: "v1"})

		// When: reset is applied once and then again
		model.Apply(ctx, intent.Reset{})
		once := rec.last(t)
		model.Apply(ctx, intent.Reset{})
		twice := rec.last(t)

		// Then: both results are equal and empty, the board keeps its lease
		assert.Equal(t, once, twice)
		assert.Empty(t, twice.Pawns)
		assert.NotNil(t, twice.Pawns)
		assert.Equal(t, entity.ViewID("v1"), twice.Board.Properties.Control.Owner)
	})
}

func TestModel_SpawnPawn(t *testing.T) {
	ctx := context.Background()

	t.Run("Keeps spawn order", func(t *testing.T) {
		model, rec := newTestModel(NewManualClock(0), testSettings())

		model.Apply(ctx, intent.SpawnPawn{Pawn: pawn("a", entity.PawnX)})
		model.Apply(ctx, intent.SpawnPawn{Pawn: pawn("b", entity.PawnO)})

		state := rec.last(t)
		require.Len(t, state.Pawns, 2)
		assert.Equal(t, "a", state.Pawns[0].GUID)
		assert.Equal(t, "b", state.Pawns[1].GUID)
	})

	t.Run("Duplicate guid is rejected", func(t *testing.T) {
		// Given: a model holding pawn p1
		model, rec := newTestModel(NewManualClock(0), testSettings())
		model.Apply(ctx, intent.SpawnPawn{Pawn: pawn("p1", entity.PawnX)})

		// When: another pawn with the same guid is spawned
		model.Apply(ctx, intent.SpawnPawn{Pawn: pawn("p1", entity.PawnO)})

		// Then: the first pawn stays the only one
		state := rec.last(t)
		require.Len(t, state.Pawns, 1)
		assert.Equal(t, entity.PawnX, state.Pawns[0].Type)
	})

	t.Run("Invalid pawn is rejected", func(t *testing.T) {
		model, rec := newTestModel(NewManualClock(0), testSettings())

		model.Apply(ctx, intent.SpawnPawn{Pawn: pawn("", entity.PawnX)})
		model.Apply(ctx, intent.SpawnPawn{Pawn: pawn("p2", "z")})
		model.Apply(ctx, intent.SpawnPawn{})

		assert.Empty(t, rec.last(t).Pawns)
	})

	t.Run("Caller cannot mutate the spawned pawn", func(t *testing.T) {
		model, rec := newTestModel(NewManualClock(0), testSettings())
		sent := pawn("p1", entity.PawnX)

		model.Apply(ctx, intent.SpawnPawn{Pawn: sent})
		sent.Type = entity.PawnO

		assert.Equal(t, entity.PawnX, rec.last(t).Pawns[0].Type)
	})
}

func TestModel_PawnMoved(t *testing.T) {
	ctx := context.Background()

	t.Run("Only the moved pawn changes", func(t *testing.T) {
		// Given: three pawns
		clock := NewManualClock(0)
		model, rec := newTestModel(clock, testSettings())
		for _, guid := range []string{"G0", "G1", "G2"} {
			model.Apply(ctx, intent.SpawnPawn{Pawn: pawn(guid, entity.PawnX)})
		}
		before := rec.last(t)

		// When: G1 is moved by v1 at now=500
		clock.Set(500)
		model.Apply(ctx, intent.PawnMoved{
			GUID:     "G1",
			NewPose:  entity.PosePatch{Position: &entity.Vector3{X: 3, Y: 0, Z: 1}},
			FromView: "v1",
		})
		after := rec.last(t)

		// Then: G1 has the new position and lease, the others are the very same objects
		require.Len(t, after.Pawns, 3)
		assert.Same(t, before.Pawns[0], after.Pawns[0])
		assert.Same(t, before.Pawns[2], after.Pawns[2])
		assert.NotSame(t, before.Pawns[1], after.Pawns[1])

		moved := after.Pawns[1]
		assert.Equal(t, entity.Vector3{X: 3, Z: 1}, moved.NodeState.Pose.Position)
		assert.Equal(t, entity.Quaternion{W: 1}, moved.NodeState.Pose.Rotation)
		assert.Equal(t, entity.Control{Owner: "v1", Expiration: 1500}, moved.NodeState.Properties.Control)

		// And: the previously published snapshot was not touched
		assert.Equal(t, entity.Vector3{Y: 5}, before.Pawns[1].NodeState.Pose.Position)
		assert.Equal(t, entity.Control{}, before.Pawns[1].NodeState.Properties.Control)
	})

	t.Run("Unknown guid leaves the state unchanged", func(t *testing.T) {
		// Given: a model with one pawn
		model, rec := newTestModel(NewManualClock(0), testSettings())
		model.Apply(ctx, intent.SpawnPawn{Pawn: pawn("p1", entity.PawnX)})
		before := rec.last(t)

		// When: a missing pawn is moved
		model.Apply(ctx, intent.PawnMoved{GUID: "nope", FromView: "v1", NewPose: entity.PosePatch{Scale: &entity.Vector3{}}})

		// Then: the state is equal to the one before
		assert.Equal(t, before, rec.last(t))
	})

	t.Run("Last writer wins", func(t *testing.T) {
		clock := NewManualClock(0)
		model, rec := newTestModel(clock, testSettings())
		model.Apply(ctx, intent.SpawnPawn{Pawn: pawn("p1", entity.PawnX)})

		clock.Set(10)
		model.Apply(ctx, intent.PawnMoved{GUID: "p1", FromView: "v1"})
		clock.Set(20)
		model.Apply(ctx, intent.PawnMoved{GUID: "p1", FromView: "v2"})

		assert.Equal(t, entity.Control{Owner: "v2", Expiration: 1020}, rec.last(t).Pawns[0].NodeState.Properties.Control)
	})

	t.Run("Taking a live lease is logged", func(t *testing.T) {
		var logs bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

		clock := NewManualClock(0)
		model := NewModel(logger, clock, &recorder{}, testSettings(), entity.NewGameState())
		model.Apply(ctx, intent.SpawnPawn{Pawn: pawn("p1", entity.PawnX)})

		// Given: v1 holds the pawn and keeps moving it
		clock.Set(10)
		model.Apply(ctx, intent.PawnMoved{GUID: "p1", FromView: "v1"})
		clock.Set(20)
		model.Apply(ctx, intent.PawnMoved{GUID: "p1", FromView: "v1"})
		assert.NotContains(t, logs.String(), "lease taken over")

		// When: v2 grabs it while v1's lease runs
		clock.Set(30)
		model.Apply(ctx, intent.PawnMoved{GUID: "p1", FromView: "v2"})

		// Then: the takeover is logged
		assert.Contains(t, logs.String(), "lease taken over")
		assert.Contains(t, logs.String(), "from=v1")

		// When: v1 grabs it once v2's lease ran out
		logs.Reset()
		clock.Set(2000)
		model.Apply(ctx, intent.PawnMoved{GUID: "p1", FromView: "v1"})

		// Then: nothing was taken from anyone
		assert.NotContains(t, logs.String(), "lease taken over")
	})
}

func TestModel_BoardMoved(t *testing.T) {
	ctx := context.Background()

	// Given: a board with a custom scale
	clock := NewManualClock(0)
	model, rec := newTestModel(clock, testSettings())
	model.Apply(ctx, intent.BoardMoved{NewPose: entity.PosePatch{Scale: &entity.Vector3{X: 2, Y: 2, Z: 2}}, FromView: "v1"})

	// When: a move only reports a rotation
	clock.Set(10)
	model.Apply(ctx, intent.BoardMoved{NewPose: entity.PosePatch{Rotation: &entity.Quaternion{Y: 1}}, FromView: "v2"})

	// Then: the scale survives the shallow merge and the lease moves to v2
	board := rec.last(t).Board
	assert.Equal(t, entity.Vector3{X: 2, Y: 2, Z: 2}, board.Pose.Scale)
	assert.Equal(t, entity.Quaternion{Y: 1}, board.Pose.Rotation)
	assert.Equal(t, entity.Control{Owner: "v2", Expiration: 1010}, board.Properties.Control)
}

func TestModel_Tick(t *testing.T) {
	ctx := context.Background()

	t.Run("Board lease is cleared exactly once", func(t *testing.T) {
		// Given: a board leased until 1100
		clock := NewManualClock(100)
		model, rec := newTestModel(clock, testSettings())
		model.Apply(ctx, intent.BoardMoved{FromView: "v1"})

		// When: ticks run before, at and after expiration
		clock.Set(1000)
		model.Tick(ctx)
		assert.Equal(t, entity.ViewID("v1"), rec.last(t).Board.Properties.Control.Owner)

		clock.Set(1100)
		model.Tick(ctx)
		assert.Equal(t, entity.ViewID("v1"), rec.last(t).Board.Properties.Control.Owner)

		clock.Set(1101)
		model.Tick(ctx)
		cleared := rec.last(t)

		clock.Set(5000)
		model.Tick(ctx)
		later := rec.last(t)

		// Then: the lease is cleared on the first tick past expiration and stays cleared
		assert.Equal(t, entity.Control{}, cleared.Board.Properties.Control)
		assert.Equal(t, cleared, later)
	})

	t.Run("Pawn leases expire on tick", func(t *testing.T) {
		clock := NewManualClock(0)
		model, rec := newTestModel(clock, testSettings())
		model.Apply(ctx, intent.SpawnPawn{Pawn: pawn("a", entity.PawnX)})
		model.Apply(ctx, intent.SpawnPawn{Pawn: pawn("b", entity.PawnO)})
		model.Apply(ctx, intent.PawnMoved{GUID: "a", FromView: "v1", NewPose: entity.PosePatch{Position: &entity.Vector3{X: 9}}})
		before := rec.last(t)

		clock.Set(2000)
		model.Tick(ctx)
		after := rec.last(t)

		assert.Equal(t, entity.Control{}, after.Pawns[0].NodeState.Properties.Control)
		assert.Equal(t, entity.Vector3{X: 9}, after.Pawns[0].NodeState.Pose.Position)
		assert.Same(t, before.Pawns[1], after.Pawns[1])
	})

	t.Run("Board only expiration keeps pawn leases", func(t *testing.T) {
		settings := testSettings()
		settings.ExpirePawnLeases = false

		clock := NewManualClock(0)
		model, rec := newTestModel(clock, settings)
		model.Apply(ctx, intent.SpawnPawn{Pawn: pawn("a", entity.PawnX)})
		model.Apply(ctx, intent.PawnMoved{GUID: "a", FromView: "v1"})
		model.Apply(ctx, intent.BoardMoved{FromView: "v1"})

		clock.Set(2000)
		model.Tick(ctx)
		state := rec.last(t)

		assert.Equal(t, entity.Control{}, state.Board.Properties.Control)
		assert.Equal(t, entity.ViewID("v1"), state.Pawns[0].NodeState.Properties.Control.Owner)
		assert.Equal(t, entity.NoOwner, state.Pawns[0].NodeState.Properties.Control.ActiveOwner(2000))
	})
}

func TestModel_UnknownIntent(t *testing.T) {
	ctx := context.Background()

	// Given: a model that published once
	model, rec := newTestModel(NewManualClock(0), testSettings())
	model.Apply(ctx, intent.Reset{})
	before := rec.published()

	// When: an unknown intent and a nil intent arrive
	model.Apply(ctx, intent.Unknown{Type: "board_destroyed"})
	model.Apply(ctx, nil)

	// Then: nothing is published and the state is unchanged
	assert.Equal(t, before, rec.published())
	assert.Equal(t, before[len(before)-1], model.Snapshot())
}

func TestModel_Run(t *testing.T) {
	// Given: a running model fed by a channel
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model, rec := newTestModel(NewMonotonicClock(), testSettings())
	intents := make(chan intent.Intent)

	done := make(chan error, 1)
	go func() { done <- model.Run(ctx, intents) }()

	// When: an intent is sent and the intent stream is then closed
	intents <- intent.SpawnPawn{Pawn: pawn("p1", entity.PawnX)}
	close(intents)

	// Then: the pawn shows up and ticks keep publishing
	require.Eventually(t, func() bool {
		return len(model.Snapshot().Pawns) == 1
	}, time.Second, 5*time.Millisecond)

	published := len(rec.published())
	require.Eventually(t, func() bool {
		return len(rec.published()) > published+2
	}, time.Second, 5*time.Millisecond)

	// When: the session is torn down
	cancel()

	// Then: Run returns cleanly
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("model did not stop")
	}
}
