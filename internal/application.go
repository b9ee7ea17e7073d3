package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/tictactoe-sync/internal/bus"
	"github.com/rocketscienceinc/tictactoe-sync/internal/config"
	"github.com/rocketscienceinc/tictactoe-sync/internal/repository"
	"github.com/rocketscienceinc/tictactoe-sync/internal/repository/storage"
	"github.com/rocketscienceinc/tictactoe-sync/internal/session"
	"github.com/rocketscienceinc/tictactoe-sync/internal/transport/redis"
	"github.com/rocketscienceinc/tictactoe-sync/transport/rest"
	"github.com/rocketscienceinc/tictactoe-sync/transport/websocket"
)

var ErrAddrNotFound = errors.New("redis address string is empty")

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	manager, closeStorage, err := newSessionManager(ctx, logger, conf)
	if err != nil {
		return err
	}

	defer closeStorage()
	defer func() {
		if err := manager.Close(); err != nil {
			log.Error("could not stop sessions", "error", err)
		}
	}()

	// run HTTP server
	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		if httpErr := rest.Start(ctx, conf.HTTPPort, rest.NewRouter(logger, manager)); httpErr != nil {
			log.Error("HTTP server error", "error", httpErr)
			httpErrCh <- httpErr
		}
	}()

	// run Websocket server
	wsErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "port", conf.SocketPort)
		wsServer := websocket.New(logger, manager, conf.Game.SessionID)
		if wsErr := wsServer.Start(ctx, conf.SocketPort); wsErr != nil {
			log.Error("WebSocket server error", "error", wsErr)
			wsErrCh <- wsErr
		}
	}()

	select {
	case err = <-httpErrCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case err = <-wsErrCh:
		return fmt.Errorf("WebSocket server error: %w", err)
	case <-ctx.Done():
		log.Info("Application context canceled, shutting down")
		return nil
	}
}

// newSessionManager picks the transport from config. The redis transport also
// brings snapshot recording and model leader election.
func newSessionManager(ctx context.Context, logger *slog.Logger, conf *config.Config) (*session.Manager, func(), error) {
	log := logger.With("component", "app")
	settings := conf.Game.Settings()

	if conf.Transport == config.TransportLocal {
		manager := session.NewManager(logger, settings, func(context.Context, string) (bus.Transport, error) {
			return bus.NewLocal(), nil
		}, session.Options{})

		return manager, func() {}, nil
	}

	redisAddrString := conf.Redis.GetRedisAddr()
	if redisAddrString == "" {
		return nil, nil, ErrAddrNotFound
	}

	redisStorage, err := storage.New(ctx, redisAddrString)
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to redis storage: %w", err)
	}

	closeStorage := func() {
		if err := redisStorage.Close(); err != nil {
			log.Error("could not close redis storage", "error", err)
		}
	}

	snapshotRepo := repository.NewSnapshotRepository(redisStorage)
	leaseRepo := repository.NewModelLeaseRepository(redisStorage)

	manager := session.NewManager(logger, settings, redisTransports(logger, redisStorage, snapshotRepo), session.Options{
		Snapshots: snapshotRepo,
		Leases:    leaseRepo,
	})

	return manager, closeStorage, nil
}

func redisTransports(
	logger *slog.Logger,
	client *goredis.Client,
	snapshots repository.SnapshotRepository,
) session.TransportFactory {
	return func(ctx context.Context, sessionID string) (bus.Transport, error) {
		transport, err := redis.New(ctx, logger, client, snapshots, sessionID)
		if err != nil {
			return nil, err
		}

		return transport, nil
	}
}
