package entity

type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is stored as given; normalization is the sender's business.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

type Pose struct {
	Position Vector3    `json:"position"`
	Rotation Quaternion `json:"rotation"`
	Scale    Vector3    `json:"scale"`
}

// PosePatch carries the pose fields a move reported. Absent fields keep their
// previous value.
type PosePatch struct {
	Position *Vector3    `json:"position,omitempty"`
	Rotation *Quaternion `json:"rotation,omitempty"`
	Scale    *Vector3    `json:"scale,omitempty"`
}

// Control is a time-bound ownership lease on a movable object.
type Control struct {
	Owner      ViewID `json:"owner,omitempty"`
	Expiration int64  `json:"expiration"`
}

type Properties struct {
	Control Control `json:"control"`
}

// NodeState is the replicated part of anything that can be grabbed and moved.
type NodeState struct {
	Pose       Pose       `json:"pose"`
	Properties Properties `json:"properties"`
}

func IdentityPose() Pose {
	return Pose{
		Rotation: Quaternion{W: 1},
		Scale:    Vector3{X: 1, Y: 1, Z: 1},
	}
}

// Merge returns the pose with every field present in patch replaced.
func (that Pose) Merge(patch PosePatch) Pose {
	if patch.Position != nil {
		that.Position = *patch.Position
	}

	if patch.Rotation != nil {
		that.Rotation = *patch.Rotation
	}

	if patch.Scale != nil {
		that.Scale = *patch.Scale
	}

	return that
}

// IsEmpty reports whether the patch carries no field at all.
func (that PosePatch) IsEmpty() bool {
	return that.Position == nil && that.Rotation == nil && that.Scale == nil
}

// ActiveOwner returns the owner if the lease is still valid at now. A lease
// whose expiration has been reached is unowned even if no tick cleared it.
func (that Control) ActiveOwner(now int64) ViewID {
	if that.Owner == NoOwner || now >= that.Expiration {
		return NoOwner
	}

	return that.Owner
}

// Expired reports whether a tick at now must clear the lease.
func (that Control) Expired(now int64) bool {
	return that.Owner != NoOwner && that.Expiration < now
}

// Grant returns the node moved by patch and leased to owner until expiration.
func (that NodeState) Grant(patch PosePatch, owner ViewID, expiration int64) NodeState {
	that.Pose = that.Pose.Merge(patch)
	that.Properties.Control = Control{
		Owner:      owner,
		Expiration: expiration,
	}

	return that
}

// Release returns the node with its lease cleared.
func (that NodeState) Release() NodeState {
	that.Properties.Control = Control{}

	return that
}
