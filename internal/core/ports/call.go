package ports

import (
	"context"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/media"
)

// SignalTransport is the client's outbound half of the relay connection.
type SignalTransport interface {
	JoinCall(room domain.RoomID, displayName string) error
	LeaveCall() error
	SendSignal(to domain.ParticipantID, msg domain.SignalMessage) error
	SendChat(text, displayName string) error
	SendMediaHint(hint domain.MediaHint) error
}

// Capturer acquires local capture sources.
type Capturer interface {
	// AcquireLocalMedia fails with domain.ErrDeviceUnavailable or domain.ErrPermissionDenied.
	AcquireLocalMedia(ctx context.Context, wantVideo, wantAudio bool) (media.Source, error)
	// AcquireDisplayCapture fails with domain.ErrNotSupported or domain.ErrUserCancelled.
	AcquireDisplayCapture(ctx context.Context) (media.Source, error)
}

type Renderer interface {
	RenderStream(participantID domain.ParticipantID, stream *media.RemoteStream)
	RemoveStream(participantID domain.ParticipantID)
}

// CallObserver receives what the user interface has to show.
type CallObserver interface {
	ChatReceived(msg domain.ChatMessage)
	MediaHint(participantID domain.ParticipantID, hint domain.MediaHint)
	MediaError(kind media.Kind, err error)
	// RelayError carries a rejection reported by the relay, such as a full room.
	RelayError(message string)
	TransportLost(err error)
}

// CallEventHandler consumes the relay's events on the client side.
type CallEventHandler interface {
	Connected(self domain.ParticipantID)
	UserJoined(id domain.ParticipantID, members []domain.ParticipantID)
	UserLeft(id domain.ParticipantID)
	SignalReceived(from domain.ParticipantID, msg domain.SignalMessage)
	ChatReceived(msg domain.ChatMessage)
	MediaHintReceived(id domain.ParticipantID, hint domain.MediaHint)
	RelayError(message string)
	TransportLost(err error)
}
