package intent

import (
	"encoding/json"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-sync/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sync/internal/entity"
)

// Envelope is the wire form of an intent.
type Envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ToEnvelope wraps an intent for the wire.
func ToEnvelope(in Intent) (Envelope, error) {
	var data any

	switch typed := in.(type) {
	case Reset:
		data = struct{}{}
	case SpawnPawn:
		data = typed.Pawn
	case BoardMoved, PawnMoved:
		data = typed
	case Unknown:
		return Envelope{Type: Kind(typed.Type), Data: typed.Data}, nil
	default:
		return Envelope{}, fmt.Errorf("%w: %T", apperror.ErrUnknownIntent, in)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s data: %w", in.Kind(), err)
	}

	return Envelope{Type: in.Kind(), Data: raw}, nil
}

// FromEnvelope decodes the payload matching the envelope type. An unknown type
// yields an Unknown intent together with ErrUnknownIntent so callers can log
// it and move on.
func FromEnvelope(envelope Envelope) (Intent, error) {
	switch envelope.Type {
	case KindReset:
		return Reset{}, nil

	case KindSpawnPawn:
		var pawn entity.Pawn
		if err := unmarshalData(envelope, &pawn); err != nil {
			return nil, err
		}
		return SpawnPawn{Pawn: &pawn}, nil

	case KindBoardMoved:
		var moved BoardMoved
		if err := unmarshalData(envelope, &moved); err != nil {
			return nil, err
		}
		return moved, nil

	case KindPawnMoved:
		var moved PawnMoved
		if err := unmarshalData(envelope, &moved); err != nil {
			return nil, err
		}
		return moved, nil

	default:
		unknown := Unknown{Type: string(envelope.Type), Data: envelope.Data}
		return unknown, fmt.Errorf("%w: %q", apperror.ErrUnknownIntent, envelope.Type)
	}
}

// Encode marshals an intent into its envelope bytes.
func Encode(in Intent) ([]byte, error) {
	envelope, err := ToEnvelope(in)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	return raw, nil
}

// Decode parses envelope bytes. See FromEnvelope for unknown types.
func Decode(raw []byte) (Intent, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", apperror.ErrMalformedIntent, err)
	}

	return FromEnvelope(envelope)
}

func unmarshalData(envelope Envelope, target any) error {
	if len(envelope.Data) == 0 {
		return fmt.Errorf("%w: %s without data", apperror.ErrMalformedIntent, envelope.Type)
	}

	if err := json.Unmarshal(envelope.Data, target); err != nil {
		return fmt.Errorf("%w: %s: %w", apperror.ErrMalformedIntent, envelope.Type, err)
	}

	return nil
}
