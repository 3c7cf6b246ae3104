package mesh

import (
	"fmt"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/media"
	"meshcall/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// NegotiationState is the offer/answer state of one peer link. ICE candidates
// flow independently of it.
type NegotiationState int

const (
	StateIdle NegotiationState = iota
	StateOfferPending
	StateStable
)

func (s NegotiationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferPending:
		return "offer-pending"
	case StateStable:
		return "stable"
	}
	return fmt.Sprintf("NegotiationState(%d)", int(s))
}

// peerLink is the connection toward one remote participant. It is only ever
// touched from the orchestrator's event loop.
type peerLink struct {
	o      *Orchestrator
	log    *zap.SugaredLogger
	self   domain.ParticipantID
	remote domain.ParticipantID
	pc     ports.PeerConnection

	senders map[media.Kind]ports.TrackSender

	state      NegotiationState
	everStable bool
	// renegotiate re-triggers an offer once the in-flight one is answered.
	renegotiate bool
	// dirty marks outgoing track changes that no completed offer has carried yet.
	dirty bool

	hasRemoteDescription bool
	pendingCandidates    []webrtc.ICECandidateInit

	timer        *time.Timer
	timerVersion uint64

	closed bool
}

func newPeerLink(o *Orchestrator, remote domain.ParticipantID, pc ports.PeerConnection) *peerLink {
	l := &peerLink{
		o:       o,
		log:     o.log.With("remote_id", remote),
		self:    o.self,
		remote:  remote,
		pc:      pc,
		senders: make(map[media.Kind]ports.TrackSender),
		state:   StateIdle,
	}

	pc.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		o.loop.post(func() { l.localCandidate(candidate) })
	})
	pc.OnTrack(func(track media.RemoteTrack) {
		o.loop.post(func() {
			if !l.closed {
				o.remoteTrack(l, track)
			}
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		o.loop.post(func() { l.connectionStateChanged(state) })
	})
	return l
}

// yields reports whether this side gives way when both sides offer at once.
func (l *peerLink) yields() bool {
	return l.self < l.remote
}

// syncTracks makes the outgoing senders carry the tracks of state, replacing a
// sender's track of the same kind or adding a new sender. It reports whether
// anything changed.
func (l *peerLink) syncTracks(state LocalMediaState) (bool, error) {
	changed := false
	for _, kind := range media.Kinds {
		track := state.Track(kind)
		if track == nil {
			continue
		}
		local := track.Local()

		sender, ok := l.senders[kind]
		switch {
		case !ok:
			s, err := l.pc.AddTrack(local)
			if err != nil {
				return changed, fmt.Errorf("failed to add %s track: %w", kind, err)
			}
			l.senders[kind] = s
			changed = true
		case sender.Track() != local:
			if err := sender.ReplaceTrack(local); err != nil {
				return changed, fmt.Errorf("failed to replace %s track: %w", kind, err)
			}
			changed = true
		}
	}
	if changed {
		l.dirty = true
	}
	return changed, nil
}

// negotiate starts an offer. While one is in flight it only records that
// another round is needed.
func (l *peerLink) negotiate() {
	if l.closed {
		return
	}
	if l.state == StateOfferPending {
		l.renegotiate = true
		return
	}
	l.renegotiate = false

	offer, err := l.pc.CreateOffer()
	if err != nil {
		l.fail(fmt.Errorf("create offer: %w", err))
		return
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		l.fail(fmt.Errorf("set local offer: %w", err))
		return
	}

	l.state = StateOfferPending
	l.dirty = false
	l.o.sendSignal(l.remote, domain.SignalMessage{Description: &offer})
	l.armTimeout()
	l.o.negotiationStarted(l)
}

func (l *peerLink) handleDescription(desc webrtc.SessionDescription) {
	if l.closed {
		return
	}

	switch desc.Type {
	case webrtc.SDPTypeOffer:
		if l.state == StateOfferPending {
			if !l.yields() {
				l.log.Debugw("glare: keeping local offer, ignoring remote offer")
				return
			}
			l.log.Debugw("glare: rolling back local offer")
			l.cancelTimeout()
			if err := l.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
				l.fail(fmt.Errorf("rollback local offer: %w", err))
				return
			}
			l.state = StateStable
			l.renegotiate = true
		}
		l.answer(desc)

	case webrtc.SDPTypeAnswer:
		if l.state != StateOfferPending {
			l.log.Debugw("dropping answer outside offer-pending", "state", l.state)
			return
		}
		if err := l.pc.SetRemoteDescription(desc); err != nil {
			l.fail(fmt.Errorf("set remote answer: %w", err))
			return
		}
		l.cancelTimeout()
		l.remoteDescriptionApplied()
		l.becomeStable()

	default:
		l.log.Debugw("ignoring description", "type", desc.Type.String())
	}
}

func (l *peerLink) answer(offer webrtc.SessionDescription) {
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		l.fail(fmt.Errorf("set remote offer: %w", err))
		return
	}
	l.remoteDescriptionApplied()

	answer, err := l.pc.CreateAnswer()
	if err != nil {
		l.fail(fmt.Errorf("create answer: %w", err))
		return
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		l.fail(fmt.Errorf("set local answer: %w", err))
		return
	}
	l.dirty = false
	l.o.sendSignal(l.remote, domain.SignalMessage{Description: &answer})
	l.becomeStable()
}

func (l *peerLink) becomeStable() {
	l.state = StateStable
	l.everStable = true
	l.o.negotiationCompleted(l)
	if l.renegotiate {
		l.negotiate()
	}
}

func (l *peerLink) remoteDescriptionApplied() {
	l.hasRemoteDescription = true
	pending := l.pendingCandidates
	l.pendingCandidates = nil
	for _, c := range pending {
		l.applyCandidate(c)
	}
}

func (l *peerLink) handleCandidate(candidate webrtc.ICECandidateInit) {
	if l.closed {
		return
	}
	if !l.hasRemoteDescription {
		l.pendingCandidates = append(l.pendingCandidates, candidate)
		return
	}
	l.applyCandidate(candidate)
}

func (l *peerLink) applyCandidate(candidate webrtc.ICECandidateInit) {
	if err := l.pc.AddICECandidate(candidate); err != nil {
		l.log.Warnw("failed to add ice candidate", "error", err)
	}
}

func (l *peerLink) localCandidate(candidate webrtc.ICECandidateInit) {
	if l.closed {
		return
	}
	l.o.sendSignal(l.remote, domain.SignalMessage{Candidate: &candidate})
}

func (l *peerLink) connectionStateChanged(state webrtc.PeerConnectionState) {
	if l.closed {
		return
	}
	l.log.Debugw("connection state changed", "state", state.String())
	if state == webrtc.PeerConnectionStateFailed {
		l.o.connectionFailed(l)
	}
}

func (l *peerLink) armTimeout() {
	l.cancelTimeout()
	version := l.timerVersion
	l.timer = l.o.loop.afterFunc(l.o.negotiationTimeout, func() {
		if l.closed || version != l.timerVersion || l.state != StateOfferPending {
			return
		}
		l.fail(fmt.Errorf("no answer within %s", l.o.negotiationTimeout))
	})
}

func (l *peerLink) cancelTimeout() {
	l.timerVersion++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *peerLink) fail(err error) {
	l.cancelTimeout()
	l.log.Warnw("negotiation failed", "state", l.state, "error", err)
	l.o.negotiationFailed(l, fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, err))
}

// restoreStable puts a link that once negotiated back into its last good state.
func (l *peerLink) restoreStable() {
	if l.state == StateOfferPending {
		if err := l.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			l.log.Debugw("rollback after failure", "error", err)
		}
	}
	l.state = StateStable
	l.renegotiate = false
	l.dirty = true
}

func (l *peerLink) close() {
	if l.closed {
		return
	}
	l.closed = true
	l.cancelTimeout()
	l.pendingCandidates = nil
	if err := l.pc.Close(); err != nil {
		l.log.Debugw("failed to close peer connection", "error", err)
	}
}
