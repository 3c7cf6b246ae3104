package domain

import "errors"

var (
	ErrInvalidRoomID       = errors.New("invalid room id")
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomFull            = errors.New("room is full")
	ErrNotInRoom           = errors.New("participant is not in a room")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrPeerUnreachable     = errors.New("peer unreachable")
	ErrTransportLost       = errors.New("signal transport lost")
	ErrNegotiationFailed   = errors.New("negotiation failed")

	// Capture failures reported by the media collaborator.
	ErrPermissionDenied  = errors.New("capture permission denied")
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	ErrNotSupported      = errors.New("capture not supported")
	ErrUserCancelled     = errors.New("capture cancelled by user")

	ErrUnauthorized  = errors.New("unauthorized")
	ErrMeetingExists = errors.New("meeting already in history")
	ErrInvalidSignal = errors.New("invalid signal message")
)
