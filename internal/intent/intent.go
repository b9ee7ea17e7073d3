// Package intent defines the closed set of requests a view may send to the
// model, and their {"type", "data"} wire form.
package intent

import "github.com/rocketscienceinc/tictactoe-sync/internal/entity"

type Kind string

const (
	KindReset      Kind = "reset"
	KindBoardMoved Kind = "board_moved"
	KindSpawnPawn  Kind = "spawn_pawn"
	KindPawnMoved  Kind = "pawn_moved"
)

// Intent is implemented only by the types of this package.
type Intent interface {
	Kind() Kind
	sealed()
}

// Reset removes every pawn from the table.
type Reset struct{}

// SpawnPawn appends a pawn built by the sender.
type SpawnPawn struct {
	Pawn *entity.Pawn
}

// BoardMoved reports a new board pose from the view that holds it.
type BoardMoved struct {
	NewPose  entity.PosePatch `json:"newPose"`
	FromView entity.ViewID    `json:"fromView,omitempty"`
}

// PawnMoved reports a new pose for one pawn.
type PawnMoved struct {
	GUID     string           `json:"guid"`
	NewPose  entity.PosePatch `json:"newPose"`
	FromView entity.ViewID    `json:"fromView,omitempty"`
}

// Unknown carries an envelope whose type this build does not understand.
// The model ignores it.
type Unknown struct {
	Type string
	Data []byte
}

func (Reset) Kind() Kind { return KindReset }
func (SpawnPawn) Kind() Kind { return KindSpawnPawn }
func (BoardMoved) Kind() Kind { return KindBoardMoved }
func (PawnMoved) Kind() Kind { return KindPawnMoved }
func (that Unknown) Kind() Kind { return Kind(that.Type) }

func (Reset) sealed() {}
func (SpawnPawn) sealed() {}
func (BoardMoved) sealed() {}
func (PawnMoved) sealed() {}
func (Unknown) sealed() {}

// Stamp attributes a move to the view that sent it. Any sender value already
// present is overwritten: the model trusts only what the adapter stamped.
func Stamp(in Intent, from entity.ViewID) Intent {
	switch typed := in.(type) {
	case BoardMoved:
		typed.FromView = from
		return typed
	case PawnMoved:
		typed.FromView = from
		return typed
	default:
		return in
	}
}
