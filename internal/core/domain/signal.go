package domain

import (
	"fmt"

	"github.com/pion/webrtc/v3"
)

// SignalMessage is the negotiation payload exchanged between two peers.
// Exactly one of Description or Candidate is set. The relay never looks inside.
type SignalMessage struct {
	Description *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"ice,omitempty"`
}

func (m SignalMessage) Validate() error {
	switch {
	case m.Description != nil && m.Candidate != nil:
		return fmt.Errorf("%w: both sdp and ice set", ErrInvalidSignal)
	case m.Description == nil && m.Candidate == nil:
		return fmt.Errorf("%w: empty payload", ErrInvalidSignal)
	}
	return nil
}

// MediaHint is an informational notice that a participant toggled a media kind.
type MediaHint string

const (
	HintVideoOn  MediaHint = "video-on"
	HintVideoOff MediaHint = "video-off"
	HintAudioOn  MediaHint = "audio-on"
	HintAudioOff MediaHint = "audio-off"
)

func (h MediaHint) Valid() bool {
	switch h {
	case HintVideoOn, HintVideoOff, HintAudioOn, HintAudioOff:
		return true
	}
	return false
}
