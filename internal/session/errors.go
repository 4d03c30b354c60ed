package session

import "errors"

var (
	ErrAlreadyInCall = errors.New("already in a call")
	ErrNotInCall     = errors.New("not in a call")
	ErrInvalidRoomID = errors.New("invalid room id")
	ErrClosed        = errors.New("session closed")
)
