package entity

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/rocketscienceinc/tictactoe-sync/internal/apperror"
)

type PawnType string

const (
	PawnX PawnType = "x"
	PawnO PawnType = "o"
)

// spawn height above the board, in board units
const spawnHeight = 5

type Pawn struct {
	GUID      string    `json:"guid"`
	Type      PawnType  `json:"type"`
	NodeState NodeState `json:"nodeState"`
}

func (that PawnType) IsValid() bool {
	return that == PawnX || that == PawnO
}

// NewPawn builds a fresh unowned pawn hovering above the board with a random guid.
func NewPawn(pawnType PawnType) *Pawn {
	pose := IdentityPose()
	pose.Position.Y = spawnHeight

	return &Pawn{
		GUID:      uuid.NewString(),
		Type:      pawnType,
		NodeState: NodeState{Pose: pose},
	}
}

func (that *Pawn) Validate() error {
	if that == nil {
		return fmt.Errorf("%w: missing pawn", apperror.ErrInvalidPawn)
	}

	if that.GUID == "" {
		return fmt.Errorf("%w: empty guid", apperror.ErrInvalidPawn)
	}

	if !that.Type.IsValid() {
		return fmt.Errorf("%w: type %q", apperror.ErrInvalidPawn, that.Type)
	}

	return nil
}
