package apperror

import "errors"

var (
	ErrUnknownIntent    = errors.New("unknown intent type")
	ErrMalformedIntent  = errors.New("malformed intent")
	ErrInvalidPawn      = errors.New("invalid pawn")
	ErrDuplicatePawn    = errors.New("pawn already exists")
	ErrPawnNotFound     = errors.New("pawn not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionRunning   = errors.New("session is running")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrNotLeader        = errors.New("model lease is held by another instance")
)
