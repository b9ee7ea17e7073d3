package websocket

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rocketscienceinc/tictactoe-sync/internal/bus"
	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
)

const (
	actionConnect         = "connect"
	actionStateUpdate     = bus.TopicStateUpdate
	actionStateHasUpdated = bus.TopicStateHasUpdated
)

// Message represents a WebSocket message with an action type and a payload.
type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnectPayload is sent by the client to join a session and echoed back with
// the view id the server assigned.
type ConnectPayload struct {
	SessionID string        `json:"sessionId,omitempty"`
	ViewID    entity.ViewID `json:"viewId,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// conn serializes writes; gorilla allows one concurrent writer.
type conn struct {
	*websocket.Conn
	writeMu sync.Mutex
}

func (that *conn) sendMessage(action string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", action, err)
	}

	that.writeMu.Lock()
	defer that.writeMu.Unlock()

	if err = that.WriteJSON(Message{Action: action, Payload: raw}); err != nil {
		return fmt.Errorf("failed to write %s message: %w", action, err)
	}

	return nil
}

func (that *conn) sendErrorResponse(action, text string) error {
	return that.sendMessage(action, ErrorPayload{Error: text})
}
