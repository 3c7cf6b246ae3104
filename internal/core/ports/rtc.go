package ports

import (
	"meshcall/internal/core/domain"
	"meshcall/internal/core/media"

	"github.com/pion/webrtc/v3"
)

// PeerConnection is the subset of a WebRTC peer connection a peer link drives.
// Callbacks may fire on any goroutine.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (TrackSender, error)
	OnICECandidate(fn func(candidate webrtc.ICECandidateInit))
	OnTrack(fn func(track media.RemoteTrack))
	OnConnectionStateChange(fn func(state webrtc.PeerConnectionState))
	Close() error
}

// TrackSender is satisfied by *webrtc.RTPSender.
type TrackSender interface {
	Track() webrtc.TrackLocal
	ReplaceTrack(track webrtc.TrackLocal) error
}

type PeerConnectionFactory interface {
	NewPeerConnection(remote domain.ParticipantID) (PeerConnection, error)
}
