// Package session starts and stops the pieces of a table: one transport, at
// most one model across all instances, and the views attached locally.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rocketscienceinc/tictactoe-sync/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sync/internal/bus"
	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sync/internal/replica"
	"github.com/rocketscienceinc/tictactoe-sync/internal/repository"
	"github.com/rocketscienceinc/tictactoe-sync/internal/view"
)

// leaseTicks is how many tick periods the model lease outlives its last
// refresh.
const leaseTicks = 10

// TransportFactory opens the transport of a session.
type TransportFactory func(ctx context.Context, sessionID string) (bus.Transport, error)

// Options holds the manager's optional collaborators. Without Snapshots every
// session starts from the initial state; without Leases this instance always
// runs the model.
type Options struct {
	Snapshots repository.SnapshotRepository
	Leases    repository.ModelLeaseRepository
	// NewClock defaults to replica.NewMonotonicClock.
	NewClock func() replica.Clock
}

type Manager struct {
	logger     *slog.Logger
	settings   replica.Settings
	transports TransportFactory
	snapshots  repository.SnapshotRepository
	leases     repository.ModelLeaseRepository
	newClock   func() replica.Clock
	instanceID string

	mu       sync.Mutex
	sessions map[string]*session
}

func NewManager(logger *slog.Logger, settings replica.Settings, transports TransportFactory, opts Options) *Manager {
	newClock := opts.NewClock
	if newClock == nil {
		newClock = func() replica.Clock { return replica.NewMonotonicClock() }
	}

	return &Manager{
		logger:     logger.With("component", "session"),
		settings:   settings,
		transports: transports,
		snapshots:  opts.Snapshots,
		leases:     opts.Leases,
		newClock:   newClock,
		instanceID: uuid.NewString(),
		sessions:   make(map[string]*session),
	}
}

// InstanceID names this manager in model leases.
func (that *Manager) InstanceID() string {
	return that.instanceID
}

// Join attaches a view to the session, starting the session first if needed.
// The view's presenter receives the current state, then every later one.
func (that *Manager) Join(ctx context.Context, sessionID string, viewID entity.ViewID, presenter view.Presenter) (*view.Adapter, error) {
	log := that.logger.With("method", "Join", "sessionID", sessionID, "viewID", viewID)

	that.mu.Lock()
	defer that.mu.Unlock()

	sess, ok := that.sessions[sessionID]
	if !ok {
		var err error
		sess, err = that.start(ctx, sessionID)
		if err != nil {
			log.Error("could not start session", "error", err)
			return nil, fmt.Errorf("failed to start session %s: %w", sessionID, err)
		}

		that.sessions[sessionID] = sess
	}

	adapter := view.New(that.logger, viewID, sess.transport, presenter)
	sess.attach(adapter)

	log.Info("view joined", "views", len(sess.views))

	return adapter, nil
}

// Leave detaches the view Join returned. The session stops with its last view.
// A view that was replaced by a later Join under the same id is already gone,
// so leaving with it changes nothing.
func (that *Manager) Leave(sessionID string, adapter *view.Adapter) error {
	log := that.logger.With("method", "Leave", "sessionID", sessionID, "viewID", adapter.ID())

	that.mu.Lock()
	sess, ok := that.sessions[sessionID]
	if !ok {
		that.mu.Unlock()
		return apperror.ErrSessionNotFound
	}

	attached, remaining := sess.detach(adapter)
	if !attached {
		that.mu.Unlock()
		log.Info("view was replaced by a reconnect")
		return nil
	}

	if remaining > 0 {
		that.mu.Unlock()
		log.Info("view left", "views", remaining)
		return nil
	}

	delete(that.sessions, sessionID)
	that.mu.Unlock()

	log.Info("last view left, stopping session")

	return sess.stop()
}

// State returns the session's current state: the running model's snapshot if
// this instance runs it, otherwise the recorded one.
func (that *Manager) State(ctx context.Context, sessionID string) (entity.GameState, error) {
	that.mu.Lock()
	sess, ok := that.sessions[sessionID]
	that.mu.Unlock()

	if ok {
		if model := sess.currentModel(); model != nil {
			return model.Snapshot(), nil
		}
	}

	if that.snapshots == nil {
		if ok {
			return entity.GameState{}, that.notLeader(ctx, sessionID)
		}
		return entity.GameState{}, apperror.ErrSessionNotFound
	}

	state, err := that.snapshots.GetByID(ctx, sessionID)
	if errors.Is(err, apperror.ErrSnapshotNotFound) {
		return entity.GameState{}, apperror.ErrSessionNotFound
	}

	if err != nil {
		return entity.GameState{}, fmt.Errorf("failed to get session state: %w", err)
	}

	return state, nil
}

// Discard deletes the recorded state of a session no instance is running, so
// the next Join starts it from the initial state.
func (that *Manager) Discard(ctx context.Context, sessionID string) error {
	log := that.logger.With("method", "Discard", "sessionID", sessionID)

	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.sessions[sessionID]; ok {
		return apperror.ErrSessionRunning
	}

	if that.snapshots == nil {
		return apperror.ErrSessionNotFound
	}

	if that.leases != nil {
		holder, err := that.leases.Holder(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to check model lease: %w", err)
		}

		if holder != "" {
			return fmt.Errorf("%w on instance %s", apperror.ErrSessionRunning, holder)
		}
	}

	err := that.snapshots.DeleteByID(ctx, sessionID)
	if errors.Is(err, apperror.ErrSnapshotNotFound) {
		return apperror.ErrSessionNotFound
	}

	if err != nil {
		return fmt.Errorf("failed to discard session: %w", err)
	}

	log.Info("recorded state discarded")

	return nil
}

// Close stops every session of this instance.
func (that *Manager) Close() error {
	that.mu.Lock()
	sessions := that.sessions
	that.sessions = make(map[string]*session)
	that.mu.Unlock()

	var errs []error
	for _, sess := range sessions {
		if err := sess.stop(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (that *Manager) start(ctx context.Context, sessionID string) (*session, error) {
	transport, err := that.transports(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to open transport: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	sess := &session{
		id:        sessionID,
		manager:   that,
		logger:    that.logger.With("sessionID", sessionID),
		transport: transport,
		cancel:    cancel,
		views:     make(map[entity.ViewID]*attachment),
	}

	leader, err := that.acquire(ctx, sessionID)
	if err != nil {
		cancel()
		_ = transport.Close()
		return nil, err
	}

	if leader {
		if err = sess.startModel(ctx, runCtx); err != nil {
			cancel()
			_ = transport.Close()
			that.release(sessionID)
			return nil, err
		}
	}

	if that.leases != nil {
		sess.wg.Add(1)
		go func() {
			defer sess.wg.Done()
			sess.keepLease(runCtx)
		}()
	}

	return sess, nil
}

func (that *Manager) leaseTTL() time.Duration {
	return that.settings.TickRate * leaseTicks
}

func (that *Manager) acquire(ctx context.Context, sessionID string) (bool, error) {
	if that.leases == nil {
		return true, nil
	}

	acquired, err := that.leases.Acquire(ctx, sessionID, that.instanceID, that.leaseTTL())
	if err != nil {
		return false, fmt.Errorf("failed to acquire model lease: %w", err)
	}

	return acquired, nil
}

// notLeader names the instance running the model when the lease store knows it.
func (that *Manager) notLeader(ctx context.Context, sessionID string) error {
	if that.leases == nil {
		return apperror.ErrNotLeader
	}

	holder, err := that.leases.Holder(ctx, sessionID)
	if err != nil || holder == "" {
		return apperror.ErrNotLeader
	}

	return fmt.Errorf("%w: %s", apperror.ErrNotLeader, holder)
}

func (that *Manager) release(sessionID string) {
	if that.leases == nil {
		return
	}

	if err := that.leases.Release(context.Background(), sessionID, that.instanceID); err != nil {
		that.logger.Error("could not release model lease", "sessionID", sessionID, "error", err)
	}
}

// seed is the state a new model starts from. Recorded leases are dropped since
// the new model's clock did not issue them.
func (that *Manager) seed(ctx context.Context, sessionID string) (entity.GameState, error) {
	if that.snapshots == nil {
		return entity.NewGameState(), nil
	}

	state, err := that.snapshots.GetByID(ctx, sessionID)
	if errors.Is(err, apperror.ErrSnapshotNotFound) {
		return entity.NewGameState(), nil
	}

	if err != nil {
		return entity.GameState{}, fmt.Errorf("failed to load snapshot: %w", err)
	}

	return state.Unleased(), nil
}
