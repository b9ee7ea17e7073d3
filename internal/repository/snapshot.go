package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/tictactoe-sync/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
)

// SnapshotRepository keeps the last state each session published, so a new
// model can pick up where a previous one stopped.
type SnapshotRepository interface {
	Save(ctx context.Context, sessionID string, state entity.GameState) error
	GetByID(ctx context.Context, sessionID string) (entity.GameState, error)
	DeleteByID(ctx context.Context, sessionID string) error
}

type dbSnapshot struct {
	client *redis.Client
}

func NewSnapshotRepository(client *redis.Client) SnapshotRepository {
	return &dbSnapshot{
		client: client,
	}
}

func snapshotKey(sessionID string) string {
	return "session:" + sessionID + ":state"
}

func (that *dbSnapshot) Save(ctx context.Context, sessionID string, state entity.GameState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("could not marshal state: %w", err)
	}

	if err = that.client.Set(ctx, snapshotKey(sessionID), stateJSON, 0).Err(); err != nil {
		return fmt.Errorf("failed to set state: %w", err)
	}

	return nil
}

func (that *dbSnapshot) GetByID(ctx context.Context, sessionID string) (entity.GameState, error) {
	response, err := that.client.Get(ctx, snapshotKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return entity.GameState{}, apperror.ErrSnapshotNotFound
	}

	if err != nil {
		return entity.GameState{}, fmt.Errorf("failed to get state: %w", err)
	}

	var state entity.GameState
	if err = json.Unmarshal([]byte(response), &state); err != nil {
		return entity.GameState{}, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	if state.Pawns == nil {
		state.Pawns = []*entity.Pawn{}
	}

	return state, nil
}

func (that *dbSnapshot) DeleteByID(ctx context.Context, sessionID string) error {
	deleted, err := that.client.Del(ctx, snapshotKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}

	if deleted == 0 {
		return apperror.ErrSnapshotNotFound
	}

	return nil
}
