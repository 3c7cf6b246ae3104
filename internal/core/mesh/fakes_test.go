package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/media"
	"meshcall/internal/core/ports"
	"meshcall/internal/core/services"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeNetwork connects fake peer connections through their descriptions: a
// description names the connection that produced it, and applying it exposes
// that connection's senders as remote tracks.
type fakeNetwork struct {
	mu     sync.Mutex
	seq    int
	pcs    map[string]*fakePC
	latest map[string]*fakePC
	tracks map[webrtc.TrackLocal]media.Track

	emitCandidates bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		pcs:            make(map[string]*fakePC),
		latest:         make(map[string]*fakePC),
		tracks:         make(map[webrtc.TrackLocal]media.Track),
		emitCandidates: true,
	}
}

func pairKey(owner, remote domain.ParticipantID) string {
	return string(owner) + "->" + string(remote)
}

func (n *fakeNetwork) factory(owner domain.ParticipantID) ports.PeerConnectionFactory {
	return fakeFactory{net: n, owner: owner}
}

func (n *fakeNetwork) newPC(owner, remote domain.ParticipantID) *fakePC {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	pc := &fakePC{
		net:          n,
		id:           fmt.Sprintf("%s#%d", pairKey(owner, remote), n.seq),
		owner:        owner,
		remote:       remote,
		signaling:    webrtc.SignalingStateStable,
		remoteTracks: make(map[string]*fakeRemoteTrack),
		emit:         n.emitCandidates,
	}
	n.pcs[pc.id] = pc
	n.latest[pairKey(owner, remote)] = pc
	return pc
}

func (n *fakeNetwork) pc(owner, remote domain.ParticipantID) *fakePC {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.latest[pairKey(owner, remote)]
}

func (n *fakeNetwork) lookup(id string) *fakePC {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pcs[id]
}

func (n *fakeNetwork) register(t media.Track) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tracks[t.Local()] = t
}

func (n *fakeNetwork) resolve(local webrtc.TrackLocal) media.Track {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tracks[local]
}

type fakeFactory struct {
	net   *fakeNetwork
	owner domain.ParticipantID
}

func (f fakeFactory) NewPeerConnection(remote domain.ParticipantID) (ports.PeerConnection, error) {
	return f.net.newPC(f.owner, remote), nil
}

type fakeSender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
}

func (s *fakeSender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = track
	return nil
}

// fakeRemoteTrack reads through to the sending side, so enabled flags and
// replaced tracks are visible to the receiver without renegotiation.
type fakeRemoteTrack struct {
	net    *fakeNetwork
	sender *fakeSender
}

func (t *fakeRemoteTrack) ID() string       { return t.sender.Track().ID() }
func (t *fakeRemoteTrack) StreamID() string { return t.sender.Track().StreamID() }
func (t *fakeRemoteTrack) Kind() media.Kind { return media.KindFromCodecType(t.sender.Track().Kind()) }

func (t *fakeRemoteTrack) ReadPacket() (*rtp.Packet, error) { return nil, io.EOF }

func (t *fakeRemoteTrack) Enabled() bool {
	local := t.net.resolve(t.sender.Track())
	return local != nil && local.Enabled()
}

type fakePC struct {
	net    *fakeNetwork
	id     string
	owner  domain.ParticipantID
	remote domain.ParticipantID
	emit   bool

	mu            sync.Mutex
	signaling     webrtc.SignalingState
	senders       []*fakeSender
	hasRemote     bool
	remoteTracks  map[string]*fakeRemoteTrack
	candidates    []webrtc.ICECandidateInit
	rollbacks     int
	offers        int
	closed        bool
	candidateSeq  int
	failSetRemote error

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(media.RemoteTrack)
	onState func(webrtc.PeerConnectionState)
}

func (pc *fakePC) sdp() string {
	return fmt.Sprintf("v=fake\npc=%s\nsenders=%d\n", pc.id, len(pc.senders))
}

func (pc *fakePC) currentSDP() string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.sdp()
}

func parseFakeSDP(sdp string) (string, int) {
	var id string
	var n int
	for _, line := range strings.Split(sdp, "\n") {
		switch {
		case strings.HasPrefix(line, "pc="):
			id = strings.TrimPrefix(line, "pc=")
		case strings.HasPrefix(line, "senders="):
			n, _ = strconv.Atoi(strings.TrimPrefix(line, "senders="))
		}
	}
	return id, n
}

func (pc *fakePC) CreateOffer() (webrtc.SessionDescription, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.closed {
		return webrtc.SessionDescription{}, errors.New("closed")
	}
	pc.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: pc.sdp()}, nil
}

func (pc *fakePC) CreateAnswer() (webrtc.SessionDescription, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.signaling != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer in %s", pc.signaling)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: pc.sdp()}, nil
}

func (pc *fakePC) SetLocalDescription(desc webrtc.SessionDescription) error {
	pc.mu.Lock()
	switch {
	case desc.Type == webrtc.SDPTypeOffer && pc.signaling == webrtc.SignalingStateStable:
		pc.signaling = webrtc.SignalingStateHaveLocalOffer
	case desc.Type == webrtc.SDPTypeAnswer && pc.signaling == webrtc.SignalingStateHaveRemoteOffer:
		pc.signaling = webrtc.SignalingStateStable
	case desc.Type == webrtc.SDPTypeRollback && pc.signaling == webrtc.SignalingStateHaveLocalOffer:
		pc.signaling = webrtc.SignalingStateStable
		pc.rollbacks++
		pc.mu.Unlock()
		return nil
	default:
		state := pc.signaling
		pc.mu.Unlock()
		return fmt.Errorf("set local %s in %s", desc.Type, state)
	}

	var candidate *webrtc.ICECandidateInit
	if pc.emit && pc.onICE != nil {
		pc.candidateSeq++
		candidate = &webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%s:%d", pc.id, pc.candidateSeq)}
	}
	onICE := pc.onICE
	pc.mu.Unlock()

	if candidate != nil {
		onICE(*candidate)
	}
	return nil
}

func (pc *fakePC) SetRemoteDescription(desc webrtc.SessionDescription) error {
	pc.mu.Lock()
	if pc.failSetRemote != nil {
		err := pc.failSetRemote
		pc.failSetRemote = nil
		pc.mu.Unlock()
		return err
	}
	switch {
	case desc.Type == webrtc.SDPTypeOffer && pc.signaling == webrtc.SignalingStateStable:
		pc.signaling = webrtc.SignalingStateHaveRemoteOffer
	case desc.Type == webrtc.SDPTypeAnswer && pc.signaling == webrtc.SignalingStateHaveLocalOffer:
		pc.signaling = webrtc.SignalingStateStable
	default:
		state := pc.signaling
		pc.mu.Unlock()
		return fmt.Errorf("set remote %s in %s", desc.Type, state)
	}
	pc.hasRemote = true
	onTrack := pc.onTrack
	pc.mu.Unlock()

	originID, n := parseFakeSDP(desc.SDP)
	origin := pc.net.lookup(originID)
	if origin == nil {
		return nil
	}

	origin.mu.Lock()
	senders := append([]*fakeSender(nil), origin.senders...)
	origin.mu.Unlock()

	var arrived []*fakeRemoteTrack
	pc.mu.Lock()
	for i := 0; i < n && i < len(senders); i++ {
		key := fmt.Sprintf("%s/%d", originID, i)
		if _, ok := pc.remoteTracks[key]; ok {
			continue
		}
		rt := &fakeRemoteTrack{net: pc.net, sender: senders[i]}
		pc.remoteTracks[key] = rt
		arrived = append(arrived, rt)
	}
	pc.mu.Unlock()

	if onTrack != nil {
		for _, rt := range arrived {
			onTrack(rt)
		}
	}
	return nil
}

func (pc *fakePC) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if !pc.hasRemote {
		return errors.New("remote description not set")
	}
	pc.candidates = append(pc.candidates, candidate)
	return nil
}

func (pc *fakePC) AddTrack(track webrtc.TrackLocal) (ports.TrackSender, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	s := &fakeSender{track: track}
	pc.senders = append(pc.senders, s)
	return s, nil
}

func (pc *fakePC) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onICE = fn
}

func (pc *fakePC) OnTrack(fn func(media.RemoteTrack)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onTrack = fn
}

func (pc *fakePC) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onState = fn
}

func (pc *fakePC) Close() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.closed = true
	return nil
}

func (pc *fakePC) fireState(state webrtc.PeerConnectionState) {
	pc.mu.Lock()
	fn := pc.onState
	pc.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (pc *fakePC) snapshot() (signaling webrtc.SignalingState, rollbacks, offers int, candidates []webrtc.ICECandidateInit, closed bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.signaling, pc.rollbacks, pc.offers, append([]webrtc.ICECandidateInit(nil), pc.candidates...), pc.closed
}

func (pc *fakePC) senderCount() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return len(pc.senders)
}

// fakeRelay mirrors the relay's routing on top of the real room registry.
type fakeRelay struct {
	mu       sync.Mutex
	registry ports.RoomRegistry
	handlers map[domain.ParticipantID]ports.CallEventHandler
	held     bool
	queue    []func()
	offers   map[domain.ParticipantID]int
	answers  map[domain.ParticipantID]int
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		registry: services.NewRoomRegistry(8, 50),
		handlers: make(map[domain.ParticipantID]ports.CallEventHandler),
		offers:   make(map[domain.ParticipantID]int),
		answers:  make(map[domain.ParticipantID]int),
	}
}

func (r *fakeRelay) transport(id domain.ParticipantID) *relayTransport {
	return &relayTransport{relay: r, id: id}
}

func (r *fakeRelay) connect(id domain.ParticipantID, h ports.CallEventHandler) {
	r.mu.Lock()
	r.handlers[id] = h
	r.mu.Unlock()
	h.Connected(id)
}

func (r *fakeRelay) disconnect(id domain.ParticipantID) {
	r.mu.Lock()
	h := r.handlers[id]
	delete(r.handlers, id)
	r.mu.Unlock()

	r.leave(id)
	if h != nil {
		h.TransportLost(errors.New("connection closed"))
	}
}

func (r *fakeRelay) handler(id domain.ParticipantID) ports.CallEventHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handlers[id]
}

func (r *fakeRelay) hold() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held = true
}

func (r *fakeRelay) release() {
	r.mu.Lock()
	queue := r.queue
	r.queue = nil
	r.held = false
	r.mu.Unlock()
	for _, fn := range queue {
		fn()
	}
}

func (r *fakeRelay) descriptionCounts(id domain.ParticipantID) (offers, answers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offers[id], r.answers[id]
}

func (r *fakeRelay) leave(id domain.ParticipantID) {
	res, ok := r.registry.Leave(id)
	if !ok {
		return
	}
	for _, member := range res.Remaining {
		if h := r.handler(member); h != nil {
			h.UserLeft(id)
		}
	}
}

type relayTransport struct {
	relay *fakeRelay
	id    domain.ParticipantID
}

func (t *relayTransport) JoinCall(room domain.RoomID, name string) error {
	r := t.relay
	res, err := r.registry.Join(room, &domain.Participant{ID: t.id, DisplayName: name})
	if err != nil {
		return err
	}
	if res.Left != nil {
		for _, member := range res.Left.Remaining {
			if h := r.handler(member); h != nil {
				h.UserLeft(t.id)
			}
		}
	}

	members := make([]domain.ParticipantID, 0, len(res.Existing))
	for _, p := range res.Existing {
		members = append(members, p.ID)
	}
	if h := r.handler(t.id); h != nil {
		h.UserJoined(t.id, members)
	}
	if res.Rejoined {
		return nil
	}
	for _, member := range members {
		if h := r.handler(member); h != nil {
			h.UserJoined(t.id, nil)
		}
	}
	return nil
}

func (t *relayTransport) LeaveCall() error {
	t.relay.leave(t.id)
	return nil
}

func (t *relayTransport) SendSignal(to domain.ParticipantID, msg domain.SignalMessage) error {
	r := t.relay
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if msg.Description != nil {
		switch msg.Description.Type {
		case webrtc.SDPTypeOffer:
			r.offers[t.id]++
		case webrtc.SDPTypeAnswer:
			r.answers[t.id]++
		}
	}
	from := t.id
	deliver := func() {
		if !r.registry.SharesRoom(from, to) {
			return
		}
		var decoded domain.SignalMessage
		if err := json.Unmarshal(data, &decoded); err != nil {
			return
		}
		if h := r.handler(to); h != nil {
			h.SignalReceived(from, decoded)
		}
	}
	if r.held {
		r.queue = append(r.queue, deliver)
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()
	deliver()
	return nil
}

func (t *relayTransport) SendChat(text, name string) error {
	msg, recipients, err := t.relay.registry.AppendChat(t.id, text)
	if err != nil {
		return err
	}
	msg.Sender = name
	for _, id := range recipients {
		if h := t.relay.handler(id); h != nil {
			h.ChatReceived(msg)
		}
	}
	return nil
}

func (t *relayTransport) SendMediaHint(hint domain.MediaHint) error {
	for _, id := range t.relay.registry.Peers(t.id) {
		if h := t.relay.handler(id); h != nil {
			h.MediaHintReceived(t.id, hint)
		}
	}
	return nil
}

// recordingTransport captures what a lone client sends.
type recordingTransport struct {
	mu      sync.Mutex
	signals []sentSignal
	chats   []string
	hints   []domain.MediaHint
	rooms   []domain.RoomID
	leaves  int
}

type sentSignal struct {
	to  domain.ParticipantID
	msg domain.SignalMessage
}

func (t *recordingTransport) JoinCall(room domain.RoomID, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rooms = append(t.rooms, room)
	return nil
}

func (t *recordingTransport) LeaveCall() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaves++
	return nil
}

func (t *recordingTransport) SendSignal(to domain.ParticipantID, msg domain.SignalMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.signals = append(t.signals, sentSignal{to: to, msg: msg})
	return nil
}

func (t *recordingTransport) SendChat(text, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chats = append(t.chats, text)
	return nil
}

func (t *recordingTransport) SendMediaHint(hint domain.MediaHint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hints = append(t.hints, hint)
	return nil
}

func (t *recordingTransport) descriptions(to domain.ParticipantID, typ webrtc.SDPType) []webrtc.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []webrtc.SessionDescription
	for _, s := range t.signals {
		if s.to == to && s.msg.Description != nil && s.msg.Description.Type == typ {
			out = append(out, *s.msg.Description)
		}
	}
	return out
}

func (t *recordingTransport) sentHints() []domain.MediaHint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.MediaHint(nil), t.hints...)
}

// fakeCapturer hands out real sample tracks and registers them with the
// network so receivers can resolve them.
type fakeCapturer struct {
	net *fakeNetwork

	mu         sync.Mutex
	seq        int
	localErr   error
	displayErr error
	gate       chan struct{}
	tracks     []*media.LocalTrack
	displays   []*media.LocalTrack
}

func (c *fakeCapturer) setGate(gate chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate = gate
}

func (c *fakeCapturer) setLocalErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localErr = err
}

func (c *fakeCapturer) wait() {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (c *fakeCapturer) newTrack(kind media.Kind, prefix string, seq int) (*media.LocalTrack, error) {
	t, err := media.NewLocalTrack(kind, fmt.Sprintf("%s-%s-%d", prefix, kind, seq), fmt.Sprintf("%s-%d", prefix, seq))
	if err != nil {
		return nil, err
	}
	if c.net != nil {
		c.net.register(t)
	}
	return t, nil
}

func (c *fakeCapturer) AcquireLocalMedia(_ context.Context, wantVideo, wantAudio bool) (media.Source, error) {
	c.wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.localErr != nil {
		return nil, c.localErr
	}
	c.seq++

	var tracks []media.Track
	for _, kind := range media.Kinds {
		if (kind == media.KindVideo && !wantVideo) || (kind == media.KindAudio && !wantAudio) {
			continue
		}
		t, err := c.newTrack(kind, "camera", c.seq)
		if err != nil {
			return nil, err
		}
		c.tracks = append(c.tracks, t)
		tracks = append(tracks, t)
	}
	return media.NewSource(media.SourceCamera, tracks...), nil
}

func (c *fakeCapturer) AcquireDisplayCapture(context.Context) (media.Source, error) {
	c.wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.displayErr != nil {
		return nil, c.displayErr
	}
	c.seq++
	t, err := c.newTrack(media.KindVideo, "screen", c.seq)
	if err != nil {
		return nil, err
	}
	c.displays = append(c.displays, t)
	return media.NewSource(media.SourceDisplay, t), nil
}

func (c *fakeCapturer) allTracks() []*media.LocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*media.LocalTrack(nil), c.tracks...)
}

func (c *fakeCapturer) display(i int) *media.LocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.displays) {
		return nil
	}
	return c.displays[i]
}

type recordingRenderer struct {
	mu      sync.Mutex
	streams map[domain.ParticipantID]*media.RemoteStream
	renders int
	removed []domain.ParticipantID
}

func newRecordingRenderer() *recordingRenderer {
	return &recordingRenderer{streams: make(map[domain.ParticipantID]*media.RemoteStream)}
}

func (r *recordingRenderer) RenderStream(id domain.ParticipantID, stream *media.RemoteStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[id] = stream
	r.renders++
}

func (r *recordingRenderer) RemoveStream(id domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
	r.removed = append(r.removed, id)
}

func (r *recordingRenderer) track(id domain.ParticipantID, kind media.Kind) media.RemoteTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	stream := r.streams[id]
	if stream == nil {
		return nil
	}
	return stream.Tracks[kind]
}

func (r *recordingRenderer) removedIDs() []domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ParticipantID(nil), r.removed...)
}

type recordingObserver struct {
	mu          sync.Mutex
	chats       []domain.ChatMessage
	hints       []domain.MediaHint
	mediaErrors []error
	lost        []error
	relayErrors []string
}

func (o *recordingObserver) ChatReceived(msg domain.ChatMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chats = append(o.chats, msg)
}

func (o *recordingObserver) MediaHint(_ domain.ParticipantID, hint domain.MediaHint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hints = append(o.hints, hint)
}

func (o *recordingObserver) MediaError(_ media.Kind, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mediaErrors = append(o.mediaErrors, err)
}

func (o *recordingObserver) RelayError(message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.relayErrors = append(o.relayErrors, message)
}

func (o *recordingObserver) TransportLost(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lost = append(o.lost, err)
}

func (o *recordingObserver) snapshot() (chats []domain.ChatMessage, hints []domain.MediaHint, mediaErrors, lost []error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.ChatMessage(nil), o.chats...),
		append([]domain.MediaHint(nil), o.hints...),
		append([]error(nil), o.mediaErrors...),
		append([]error(nil), o.lost...)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type testClient struct {
	*Orchestrator
	id       domain.ParticipantID
	capturer *fakeCapturer
	renderer *recordingRenderer
	observer *recordingObserver
}

func newTestClient(t *testing.T, net *fakeNetwork, transport ports.SignalTransport, id domain.ParticipantID, timeout time.Duration) *testClient {
	t.Helper()
	c := &testClient{
		id:       id,
		capturer: &fakeCapturer{net: net},
		renderer: newRecordingRenderer(),
		observer: &recordingObserver{},
	}
	o, err := NewOrchestrator(Config{DisplayName: "user-" + string(id), NegotiationTimeout: timeout}, Dependencies{
		Transport: transport,
		Factory:   net.factory(id),
		Capturer:  c.capturer,
		Renderer:  c.renderer,
		Observer:  c.observer,
		Logger:    zap.NewNop().Sugar(),
	})
	require.NoError(t, err)
	c.Orchestrator = o
	t.Cleanup(o.Close)
	return c
}

// newRelayClient connects a client to the relay and waits for its camera.
func newRelayClient(t *testing.T, net *fakeNetwork, relay *fakeRelay, id domain.ParticipantID) *testClient {
	t.Helper()
	c := newTestClient(t, net, relay.transport(id), id, time.Second)
	relay.connect(id, c.Orchestrator)
	c.StartMedia(true, true)
	require.Eventually(t, func() bool {
		s := c.Snapshot().Media
		return isReal(s.VideoTrack) && isReal(s.AudioTrack)
	}, waitFor, tick)
	return c
}

func (c *testClient) linkState(remote domain.ParticipantID) (NegotiationState, bool) {
	state, ok := c.Snapshot().Links[remote]
	return state, ok
}

func (c *testClient) stable(remote domain.ParticipantID) bool {
	state, ok := c.linkState(remote)
	return ok && state == StateStable
}
