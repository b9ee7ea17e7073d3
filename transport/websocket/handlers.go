package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-sync/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sync/internal/intent"
	"github.com/rocketscienceinc/tictactoe-sync/internal/view"
)

// client is one websocket connection. Only the read loop touches sessionID and
// adapter.
type client struct {
	conn      *conn
	sessionID string
	adapter   *view.Adapter
}

// Present forwards a snapshot to the browser or headset.
func (that *client) Present(_ context.Context, state entity.GameState) error {
	return that.conn.sendMessage(actionStateHasUpdated, state)
}

func (that *Server) handleConnect(ctx context.Context, c *client, msg *Message) error {
	log := that.logger.With("method", "handleConnect")

	if c.adapter != nil {
		return c.conn.sendErrorResponse(msg.Action, "already connected")
	}

	var payloadReq ConnectPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payloadReq); err != nil {
			return c.conn.sendErrorResponse(msg.Action, "invalid connect payload")
		}
	}

	sessionID := payloadReq.SessionID
	if sessionID == "" {
		sessionID = that.defaultSession
	}

	viewID := payloadReq.ViewID
	if viewID == entity.NoOwner {
		viewID = view.NewViewID()
	}

	// the id goes out before the first state does
	payloadResp := ConnectPayload{SessionID: sessionID, ViewID: viewID}
	if err := c.conn.sendMessage(msg.Action, payloadResp); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}

	adapter, err := that.sessions.Join(ctx, sessionID, viewID, c)
	if err != nil {
		log.Error("failed to join session", "sessionID", sessionID, "error", err)
		return c.conn.sendErrorResponse(msg.Action, "failed to join session")
	}

	c.sessionID = sessionID
	c.adapter = adapter

	log.Info("successfully connected view", "sessionID", sessionID, "viewID", viewID)

	return nil
}

func (that *Server) handleStateUpdate(ctx context.Context, c *client, msg *Message) error {
	log := that.logger.With("method", "handleStateUpdate")

	if c.adapter == nil {
		return c.conn.sendErrorResponse(msg.Action, "connect first")
	}

	in, err := intent.Decode(msg.Payload)
	if errors.Is(err, apperror.ErrUnknownIntent) {
		// the model decides what to do with types it does not know
		log.Warn("forwarding unknown intent", "error", err)
	} else if err != nil {
		log.Warn("dropping malformed intent", "viewID", c.adapter.ID(), "error", err)
		return c.conn.sendErrorResponse(msg.Action, "malformed intent")
	}

	if err = c.adapter.Emit(ctx, in); err != nil {
		return fmt.Errorf("failed to emit intent: %w", err)
	}

	return nil
}
