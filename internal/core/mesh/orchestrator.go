package mesh

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/media"
	"meshcall/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const DefaultNegotiationTimeout = 15 * time.Second

type Config struct {
	DisplayName        string
	NegotiationTimeout time.Duration
}

type Dependencies struct {
	Transport ports.SignalTransport
	Factory   ports.PeerConnectionFactory
	Capturer  ports.Capturer
	Renderer  ports.Renderer
	Observer  ports.CallObserver
	Logger    *zap.SugaredLogger
}

// Snapshot is a point in time copy of the orchestrator's state.
type Snapshot struct {
	Self              domain.ParticipantID
	Room              domain.RoomID
	Joined            bool
	Roster            []domain.ParticipantID
	Links             map[domain.ParticipantID]NegotiationState
	Streams           map[domain.ParticipantID]*media.RemoteStream
	Media             LocalMediaState
	Negotiations      int
	FailedNegotiation int
	FailedConnections int
}

// Orchestrator keeps one peer link per remote room member and drives them
// from local media changes and relay events. Every exported method may be
// called from any goroutine; the work itself runs on a private event loop.
type Orchestrator struct {
	loop      *eventLoop
	log       *zap.SugaredLogger
	transport ports.SignalTransport
	factory   ports.PeerConnectionFactory
	renderer  ports.Renderer
	observer  ports.CallObserver
	media     *MediaManager

	displayName        string
	negotiationTimeout time.Duration

	self   domain.ParticipantID
	room   domain.RoomID
	joined bool
	// confirmed is set by our own user-joined for the current room. Peer
	// events before it belong to a room we already left.
	confirmed bool
	links     map[domain.ParticipantID]*peerLink
	roster    map[domain.ParticipantID]struct{}
	streams   map[domain.ParticipantID]*media.RemoteStream

	negotiations      int
	failedNegotiation int
	failedConnections int
}

var _ ports.CallEventHandler = (*Orchestrator)(nil)

func NewOrchestrator(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if deps.Transport == nil || deps.Factory == nil || deps.Capturer == nil {
		return nil, errors.New("transport, peer connection factory and capturer are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Renderer == nil {
		deps.Renderer = nopRenderer{}
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = DefaultNegotiationTimeout
	}

	substitute, err := media.NewSyntheticSource()
	if err != nil {
		return nil, fmt.Errorf("failed to create substitute media: %w", err)
	}

	loop := newEventLoop()
	o := &Orchestrator{
		loop:               loop,
		log:                deps.Logger,
		transport:          deps.Transport,
		factory:            deps.Factory,
		renderer:           deps.Renderer,
		observer:           deps.Observer,
		displayName:        cfg.DisplayName,
		negotiationTimeout: cfg.NegotiationTimeout,
		links:              make(map[domain.ParticipantID]*peerLink),
		roster:             make(map[domain.ParticipantID]struct{}),
		streams:            make(map[domain.ParticipantID]*media.RemoteStream),
	}
	o.media = newMediaManager(loop, deps.Logger, deps.Capturer, substitute)
	o.media.onChange = o.broadcastLocalMediaChange
	o.media.onHint = o.sendMediaHint
	o.media.onError = o.mediaError

	go loop.run()
	return o, nil
}

// StartMedia acquires the initial local capture.
func (o *Orchestrator) StartMedia(wantVideo, wantAudio bool) {
	o.loop.post(func() { o.media.start(wantVideo, wantAudio) })
}

func (o *Orchestrator) Join(room domain.RoomID) error {
	id, err := domain.NormalizeRoomID(string(room))
	if err != nil {
		return err
	}

	var joinErr error
	o.loop.do(func() {
		rejoin := o.joined && o.room == id
		if !rejoin {
			o.teardownAll()
			o.confirmed = false
		}
		if joinErr = o.transport.JoinCall(id, o.displayName); joinErr != nil {
			return
		}
		o.room = id
		o.joined = true
	})
	return joinErr
}

func (o *Orchestrator) Leave() error {
	var err error
	o.loop.do(func() {
		if !o.joined {
			return
		}
		err = o.transport.LeaveCall()
		o.teardownAll()
		o.joined = false
		o.confirmed = false
		o.room = ""
	})
	return err
}

// SendChat sends text to the room and shows it locally right away.
func (o *Orchestrator) SendChat(text string) error {
	var err error
	o.loop.do(func() {
		if !o.joined {
			err = domain.ErrNotInRoom
			return
		}
		if err = o.transport.SendChat(text, o.displayName); err != nil {
			return
		}
		o.observer.ChatReceived(domain.ChatMessage{
			From:   o.self,
			Sender: o.displayName,
			Text:   text,
			SentAt: time.Now(),
		})
	})
	return err
}

func (o *Orchestrator) SetVideoEnabled(enabled bool) {
	o.loop.post(func() { o.media.setEnabled(media.KindVideo, enabled) })
}

func (o *Orchestrator) SetAudioEnabled(enabled bool) {
	o.loop.post(func() { o.media.setEnabled(media.KindAudio, enabled) })
}

func (o *Orchestrator) StartScreenShare() {
	o.loop.post(o.media.startScreenShare)
}

func (o *Orchestrator) StopScreenShare() {
	o.loop.post(o.media.stopScreenShare)
}

// BroadcastLocalMediaChange re-syncs every link with the local media state.
func (o *Orchestrator) BroadcastLocalMediaChange() {
	o.loop.post(o.broadcastLocalMediaChange)
}

func (o *Orchestrator) Snapshot() Snapshot {
	var s Snapshot
	o.loop.do(func() {
		s = Snapshot{
			Self:              o.self,
			Room:              o.room,
			Joined:            o.joined,
			Links:             make(map[domain.ParticipantID]NegotiationState, len(o.links)),
			Streams:           make(map[domain.ParticipantID]*media.RemoteStream, len(o.streams)),
			Media:             o.media.State(),
			Negotiations:      o.negotiations,
			FailedNegotiation: o.failedNegotiation,
			FailedConnections: o.failedConnections,
		}
		for id := range o.roster {
			s.Roster = append(s.Roster, id)
		}
		sort.Slice(s.Roster, func(i, j int) bool { return s.Roster[i] < s.Roster[j] })
		for id, l := range o.links {
			s.Links[id] = l.state
		}
		for id, stream := range o.streams {
			cp := media.NewRemoteStream(stream.ID)
			for kind, t := range stream.Tracks {
				cp.Tracks[kind] = t
			}
			s.Streams[id] = cp
		}
	})
	return s
}

// Close tears down every link, stops local capture and ends the event loop.
func (o *Orchestrator) Close() {
	o.loop.do(func() {
		o.teardownAll()
		o.media.close()
	})
	o.loop.stop()
}

func (o *Orchestrator) Connected(self domain.ParticipantID) {
	o.loop.post(func() {
		o.log = o.log.With("self_id", self)
		o.self = self
	})
}

func (o *Orchestrator) UserJoined(id domain.ParticipantID, members []domain.ParticipantID) {
	o.loop.post(func() {
		if !o.joined {
			o.log.Debugw("ignoring user-joined outside a room", "id", id)
			return
		}
		if id == o.self {
			o.confirmed = true
			for _, member := range members {
				if member == o.self {
					continue
				}
				o.roster[member] = struct{}{}
				o.ensureLink(member)
			}
			return
		}

		if !o.confirmed {
			o.log.Debugw("ignoring user-joined before our own join", "id", id)
			return
		}
		o.roster[id] = struct{}{}
		if l := o.ensureLink(id); l != nil {
			l.negotiate()
		}
	})
}

func (o *Orchestrator) UserLeft(id domain.ParticipantID) {
	o.loop.post(func() {
		if !o.confirmed {
			return
		}
		delete(o.roster, id)
		o.teardown(id)
	})
}

func (o *Orchestrator) SignalReceived(from domain.ParticipantID, msg domain.SignalMessage) {
	o.loop.post(func() {
		if err := msg.Validate(); err != nil {
			o.log.Debugw("dropping signal", "from", from, "error", err)
			return
		}
		if from == o.self {
			return
		}
		if !o.confirmed {
			o.log.Debugw("dropping signal outside a room", "from", from)
			return
		}

		l := o.links[from]
		if l == nil {
			if msg.Description != nil && msg.Description.Type != webrtc.SDPTypeOffer {
				o.log.Debugw("dropping description for unknown peer", "from", from, "type", msg.Description.Type.String())
				return
			}
			// an offer or candidate from a member whose link was torn down
			o.roster[from] = struct{}{}
			if l = o.ensureLink(from); l == nil {
				return
			}
		}

		if msg.Description != nil {
			l.handleDescription(*msg.Description)
			return
		}
		l.handleCandidate(*msg.Candidate)
	})
}

func (o *Orchestrator) ChatReceived(msg domain.ChatMessage) {
	o.loop.post(func() { o.observer.ChatReceived(msg) })
}

func (o *Orchestrator) MediaHintReceived(id domain.ParticipantID, hint domain.MediaHint) {
	o.loop.post(func() { o.observer.MediaHint(id, hint) })
}

func (o *Orchestrator) RelayError(message string) {
	o.loop.post(func() {
		o.log.Warnw("relay rejected request", "message", message)
		o.observer.RelayError(message)
	})
}

func (o *Orchestrator) TransportLost(err error) {
	o.loop.post(func() {
		o.log.Warnw("signal transport lost", "error", err)
		o.teardownAll()
		o.joined = false
		o.confirmed = false
		o.room = ""
		o.observer.TransportLost(fmt.Errorf("%w: %v", domain.ErrTransportLost, err))
	})
}

func (o *Orchestrator) ensureLink(remote domain.ParticipantID) *peerLink {
	if l, ok := o.links[remote]; ok {
		return l
	}

	pc, err := o.factory.NewPeerConnection(remote)
	if err != nil {
		o.log.Errorw("failed to create peer connection", "remote_id", remote, "error", err)
		return nil
	}
	l := newPeerLink(o, remote, pc)
	if _, err := l.syncTracks(o.media.State()); err != nil {
		o.log.Errorw("failed to attach local tracks", "remote_id", remote, "error", err)
		l.close()
		return nil
	}
	o.links[remote] = l
	return l
}

func (o *Orchestrator) broadcastLocalMediaChange() {
	state := o.media.State()

	for id := range o.roster {
		if _, ok := o.links[id]; ok {
			continue
		}
		if l := o.ensureLink(id); l != nil {
			l.negotiate()
		}
	}

	for id, l := range o.links {
		changed, err := l.syncTracks(state)
		if err != nil {
			o.log.Warnw("failed to sync local tracks", "remote_id", id, "error", err)
		}
		if changed || l.dirty {
			l.negotiate()
		}
	}
}

func (o *Orchestrator) teardown(id domain.ParticipantID) {
	if l, ok := o.links[id]; ok {
		l.close()
		delete(o.links, id)
	}
	if _, ok := o.streams[id]; ok {
		delete(o.streams, id)
		o.renderer.RemoveStream(id)
	}
}

func (o *Orchestrator) teardownAll() {
	for id := range o.links {
		o.teardown(id)
	}
	for id := range o.streams {
		o.teardown(id)
	}
	o.roster = make(map[domain.ParticipantID]struct{})
}

func (o *Orchestrator) remoteTrack(l *peerLink, track media.RemoteTrack) {
	if o.links[l.remote] != l {
		return
	}

	stream := o.streams[l.remote]
	if stream == nil || stream.ID != track.StreamID() {
		next := media.NewRemoteStream(track.StreamID())
		if stream != nil {
			// tracks of the other kinds are still live on the same link
			for kind, t := range stream.Tracks {
				next.Tracks[kind] = t
			}
		}
		stream = next
		o.streams[l.remote] = stream
	}
	stream.Tracks[track.Kind()] = track
	o.renderer.RenderStream(l.remote, stream)
}

func (o *Orchestrator) sendSignal(to domain.ParticipantID, msg domain.SignalMessage) {
	if err := o.transport.SendSignal(to, msg); err != nil {
		o.log.Warnw("failed to send signal", "to", to, "error", err)
	}
}

func (o *Orchestrator) sendMediaHint(hint domain.MediaHint) {
	if !o.joined {
		return
	}
	if err := o.transport.SendMediaHint(hint); err != nil {
		o.log.Debugw("failed to send media hint", "hint", hint, "error", err)
	}
}

func (o *Orchestrator) mediaError(kind media.Kind, err error) {
	if captureErrorIsUserFacing(err) {
		o.observer.MediaError(kind, err)
	}
}

func (o *Orchestrator) negotiationStarted(*peerLink) {
	o.negotiations++
}

func (o *Orchestrator) negotiationCompleted(l *peerLink) {
	l.log.Debugw("negotiation stable")
}

func (o *Orchestrator) negotiationFailed(l *peerLink, err error) {
	o.failedNegotiation++
	if o.links[l.remote] != l {
		return
	}
	if l.everStable {
		l.restoreStable()
		return
	}
	// the next local media change recreates the link for this roster member
	l.log.Infow("tearing down link that never connected", "error", err)
	o.teardown(l.remote)
}

func (o *Orchestrator) connectionFailed(l *peerLink) {
	o.failedConnections++
	l.log.Warnw("peer connection failed")
}

type nopRenderer struct{}

func (nopRenderer) RenderStream(domain.ParticipantID, *media.RemoteStream) {}
func (nopRenderer) RemoveStream(domain.ParticipantID)                      {}

type nopObserver struct{}

func (nopObserver) ChatReceived(domain.ChatMessage)                  {}
func (nopObserver) MediaHint(domain.ParticipantID, domain.MediaHint) {}
func (nopObserver) MediaError(media.Kind, error)                     {}
func (nopObserver) RelayError(string)                                {}
func (nopObserver) TransportLost(error)                              {}
