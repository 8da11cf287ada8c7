package domain

import "errors"

var (
	ErrNegotiationFailed    = errors.New("negotiation failed")
	ErrMalformedToken       = errors.New("malformed signal token")
	ErrUnexpectedSignalKind = errors.New("unexpected signal kind")
	ErrChannelUnavailable   = errors.New("channel unavailable")
	ErrConnectionNotFound   = errors.New("connection not found")
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrSelfConnection       = errors.New("cannot connect to self")
	ErrLockDenied           = errors.New("lock denied")
	ErrUnknownMessageType   = errors.New("unknown message type")
	ErrObjectNotFound       = errors.New("object not found")
	ErrInvalidObject        = errors.New("invalid object")
	ErrInvalidCollection    = errors.New("invalid collection")
	ErrRoomNotFound         = errors.New("room not found")
	ErrInvalidImport        = errors.New("invalid room import")
)
