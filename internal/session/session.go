package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rocketscienceinc/tictactoe-sync/internal/bus"
	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sync/internal/replica"
	"github.com/rocketscienceinc/tictactoe-sync/internal/view"
)

type session struct {
	id        string
	manager   *Manager
	logger    *slog.Logger
	transport bus.Transport

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// guarded by manager.mu
	views map[entity.ViewID]*attachment

	modelMu     sync.Mutex
	model       *replica.Model
	modelCancel context.CancelFunc
}

// attachment is one running view. The adapter pointer tells a reconnect
// under the same view id apart from the connection it replaced.
type attachment struct {
	adapter *view.Adapter
	cancel  context.CancelFunc
}

func (that *session) attach(adapter *view.Adapter) {
	if previous, ok := that.views[adapter.ID()]; ok {
		// reconnect under the same id replaces the old view
		previous.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	that.views[adapter.ID()] = &attachment{adapter: adapter, cancel: cancel}

	that.wg.Add(1)
	go func() {
		defer that.wg.Done()

		if err := adapter.Run(ctx); err != nil {
			that.logger.Warn("view stopped", "viewID", adapter.ID(), "error", err)
		}
	}()
}

// detach stops adapter unless a newer view took its id over. It reports
// whether adapter was attached and how many views remain.
func (that *session) detach(adapter *view.Adapter) (bool, int) {
	current, ok := that.views[adapter.ID()]
	if !ok || current.adapter != adapter {
		return false, len(that.views)
	}

	current.cancel()
	delete(that.views, adapter.ID())

	return true, len(that.views)
}

func (that *session) currentModel() *replica.Model {
	that.modelMu.Lock()
	defer that.modelMu.Unlock()

	return that.model
}

// startModel seeds and runs the model, plus the recorder persisting what it
// publishes. runCtx bounds both.
func (that *session) startModel(ctx, runCtx context.Context) error {
	seed, err := that.manager.seed(ctx, that.id)
	if err != nil {
		return err
	}

	modelCtx, cancel := context.WithCancel(runCtx)
	// intents sent while another instance held the model are its business
	intents := that.transport.Intents(modelCtx)
	model := replica.NewModel(that.logger, that.manager.newClock(), that.transport, that.manager.settings, seed)

	if that.manager.snapshots != nil {
		sub, err := that.transport.SubscribeState(ctx)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to subscribe recorder: %w", err)
		}

		that.wg.Add(1)
		go func() {
			defer that.wg.Done()
			that.record(modelCtx, sub)
		}()
	}

	that.modelMu.Lock()
	that.model = model
	that.modelCancel = cancel
	that.modelMu.Unlock()

	that.wg.Add(1)
	go func() {
		defer that.wg.Done()

		if err := model.Run(modelCtx, intents); err != nil {
			that.logger.Error("model stopped", "error", err)
		}
	}()

	that.logger.Info("model started", "instanceID", that.manager.instanceID, "pawns", len(seed.Pawns))

	return nil
}

func (that *session) stopModel() {
	that.modelMu.Lock()
	defer that.modelMu.Unlock()

	if that.modelCancel != nil {
		that.modelCancel()
	}
	that.model = nil
	that.modelCancel = nil
}

// record keeps the latest published state in the snapshot repository.
func (that *session) record(ctx context.Context, sub *bus.Subscription) {
	log := that.logger.With("method", "record")
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case state, ok := <-sub.States():
			if !ok {
				return
			}

			if err := that.manager.snapshots.Save(ctx, that.id, state); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("could not record state", "error", err)
			}
		}
	}
}

// keepLease refreshes the model lease while this instance holds it and tries
// to take it over while it does not.
func (that *session) keepLease(ctx context.Context) {
	log := that.logger.With("method", "keepLease")
	leases := that.manager.leases
	ttl := that.manager.leaseTTL()

	ticker := time.NewTicker(that.manager.settings.TickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if that.currentModel() != nil {
				held, err := leases.Refresh(ctx, that.id, that.manager.instanceID, ttl)
				if err != nil {
					log.Error("could not refresh model lease", "error", err)
					continue
				}

				if !held {
					log.Warn("model lease lost, stopping model")
					that.stopModel()
				}
				continue
			}

			acquired, err := leases.Acquire(ctx, that.id, that.manager.instanceID, ttl)
			if err != nil {
				log.Error("could not acquire model lease", "error", err)
				continue
			}

			if !acquired {
				continue
			}

			log.Info("model lease taken over")
			if err = that.startModel(ctx, ctx); err != nil {
				log.Error("could not start model", "error", err)
				that.manager.release(that.id)
			}
		}
	}
}

func (that *session) stop() error {
	that.cancel()
	that.stopModel()

	that.manager.mu.Lock()
	for viewID, attached := range that.views {
		attached.cancel()
		delete(that.views, viewID)
	}
	that.manager.mu.Unlock()

	that.wg.Wait()
	that.manager.release(that.id)

	if err := that.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport of session %s: %w", that.id, err)
	}

	return nil
}
