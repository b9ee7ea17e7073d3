package entity

// ViewID identifies a connected participant. The empty value means "no owner".
type ViewID string

const NoOwner ViewID = ""

// GameState is the shared state of one table. The Model is its only writer;
// everybody else holds published snapshots and must not modify them.
type GameState struct {
	Board Board   `json:"board"`
	Pawns []*Pawn `json:"pawns"`
}

// Board is the single movable game board.
type Board struct {
	NodeState
}

// NewGameState returns the fixed state a session starts from.
func NewGameState() GameState {
	return GameState{
		Board: Board{NodeState: NodeState{Pose: IdentityPose()}},
		Pawns: []*Pawn{},
	}
}

// Clone returns a state sharing every pawn with the receiver but owning its
// own slice, so appending or replacing entries does not leak into the
// receiver.
func (that GameState) Clone() GameState {
	pawns := make([]*Pawn, len(that.Pawns))
	copy(pawns, that.Pawns)

	return GameState{
		Board: that.Board,
		Pawns: pawns,
	}
}

// FindPawn returns the index of the pawn with the given guid or -1.
func (that GameState) FindPawn(guid string) int {
	for i, pawn := range that.Pawns {
		if pawn.GUID == guid {
			return i
		}
	}

	return -1
}

// Unleased returns a copy with every lease cleared. Lease expirations are only
// meaningful to the clock that issued them.
func (that GameState) Unleased() GameState {
	state := that.Clone()
	state.Board.NodeState = state.Board.Release()

	for i, pawn := range state.Pawns {
		if pawn.NodeState.Properties.Control == (Control{}) {
			continue
		}

		released := *pawn
		released.NodeState = released.NodeState.Release()
		state.Pawns[i] = &released
	}

	return state
}
