package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sync/internal/view"
)

const shutdownTimeout = 5 * time.Second

type sessions interface {
	Join(ctx context.Context, sessionID string, viewID entity.ViewID, presenter view.Presenter) (*view.Adapter, error)
	Leave(sessionID string, adapter *view.Adapter) error
}

type Server struct {
	logger         *slog.Logger
	sessions       sessions
	defaultSession string
	upgrader       websocket.Upgrader

	handlers map[string]func(ctx context.Context, client *client, message *Message) error
}

func New(logger *slog.Logger, sessions sessions, defaultSession string) *Server {
	server := &Server{
		logger:         logger.With("component", "websocket"),
		sessions:       sessions,
		defaultSession: defaultSession,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},

		handlers: make(map[string]func(context.Context, *client, *Message) error),
	}

	server.handlers[actionConnect] = server.handleConnect
	server.handlers[actionStateUpdate] = server.handleStateUpdate

	return server
}

func (that *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", that.upgradeToWebSocket)

	return mux
}

// Start - starts WebSocket server and stops it when ctx is done.
func (that *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           that.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// upgradeToWebSocket - upgrades the connection to WebSocket.
func (that *Server) upgradeToWebSocket(writer http.ResponseWriter, req *http.Request) {
	log := that.logger.With("method", "upgradeToWebSocket")

	wsConn, err := that.upgrader.Upgrade(writer, req, nil)
	if err != nil {
		log.Error("failed to upgrade connection", "error", err)
		return
	}

	c := &client{conn: &conn{Conn: wsConn}}
	defer func() {
		that.leave(c)
		_ = wsConn.Close()
	}()

	log.Info("WebSocket connection established")

	if err = that.handleMessages(req.Context(), c); err != nil {
		log.Info("connection closed", "error", err)
	}
}

// handleMessages - processes messages from the client until the connection
// breaks.
func (that *Server) handleMessages(ctx context.Context, c *client) error {
	log := that.logger.With("method", "handleMessages")

	for {
		_, reqBody, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}

		var message Message
		if err = json.Unmarshal(reqBody, &message); err != nil {
			log.Warn("failed to unmarshal message", "error", err)
			continue
		}

		handler, ok := that.handlers[message.Action]
		if !ok {
			log.Warn("unknown action", "action", message.Action)
			if err = c.conn.sendErrorResponse(message.Action, "unknown action"); err != nil {
				return err
			}
			continue
		}

		if err = handler(ctx, c, &message); err != nil {
			log.Error("error processing message", "action", message.Action, "error", err)
		}
	}
}

func (that *Server) leave(c *client) {
	if c.adapter == nil {
		return
	}

	if err := that.sessions.Leave(c.sessionID, c.adapter); err != nil {
		that.logger.Error("could not leave session", "sessionID", c.sessionID, "error", err)
	}
}
