package webrtc

import (
	"fmt"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/media"
	"meshcall/internal/core/ports"
	"meshcall/pkg/config"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// NewConfig converts the webrtc section of the config file.
func NewConfig(cfg *config.Config) Config {
	var c Config
	for _, server := range cfg.WebRTC.ICEServers {
		ice := webrtc.ICEServer{URLs: server.URLs}
		if server.Username != "" {
			ice.Username = server.Username
			ice.Credential = server.Credential
			ice.CredentialType = webrtc.ICECredentialTypePassword
		}
		c.ICEServers = append(c.ICEServers, ice)
	}
	c.PortRange.Min = cfg.WebRTC.PortRange.Min
	c.PortRange.Max = cfg.WebRTC.PortRange.Max
	return c
}

// PeerConnectionFactory builds pion peer connections sharing one API
// instance (codecs, interceptors, port range).
type PeerConnectionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
	logger *zap.SugaredLogger
}

func NewPeerConnectionFactory(cfg Config, logger *zap.SugaredLogger) (*PeerConnectionFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}

	return &PeerConnectionFactory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(settingEngine),
		),
		config: webrtc.Configuration{
			ICEServers:   cfg.ICEServers,
			SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
		},
		logger: logger,
	}, nil
}

func (f *PeerConnectionFactory) NewPeerConnection(remote domain.ParticipantID) (ports.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return &peerConnection{
		pc:  pc,
		log: f.logger.With("remote_id", remote),
	}, nil
}

type peerConnection struct {
	pc  *webrtc.PeerConnection
	log *zap.SugaredLogger
}

func (p *peerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *peerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

// SetLocalDescription accepts a bare rollback. pion parses the SDP even for
// rollbacks, so the pending offer is passed back in.
func (p *peerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	if desc.Type == webrtc.SDPTypeRollback && desc.SDP == "" {
		if pending := p.pc.PendingLocalDescription(); pending != nil {
			desc.SDP = pending.SDP
		}
	}
	return p.pc.SetLocalDescription(desc)
}

func (p *peerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *peerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// AddTrack attaches track and starts draining the sender's RTCP so the
// interceptors keep running.
func (p *peerConnection) AddTrack(track webrtc.TrackLocal) (ports.TrackSender, error) {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	go p.readSenderRTCP(sender)
	return sender, nil
}

func (p *peerConnection) readSenderRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			switch pkt := packet.(type) {
			case *rtcp.PictureLossIndication:
				p.log.Debugw("remote requested keyframe", "media_ssrc", pkt.MediaSSRC)
			case *rtcp.ReceiverReport:
				for _, report := range pkt.Reports {
					p.log.Debugw("receiver report",
						"ssrc", report.SSRC,
						"fraction_lost", report.FractionLost,
						"jitter", report.Jitter,
					)
				}
			}
		}
	}
}

func (p *peerConnection) OnICECandidate(fn func(candidate webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

func (p *peerConnection) OnTrack(fn func(track media.RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.log.Infow("remote track started",
			"track_id", track.ID(),
			"stream_id", track.StreamID(),
			"codec", track.Codec().MimeType,
		)
		fn(&remoteTrack{track: track})
	})
}

func (p *peerConnection) OnConnectionStateChange(fn func(state webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *peerConnection) Close() error {
	return p.pc.Close()
}

type remoteTrack struct {
	track *webrtc.TrackRemote
}

func (t *remoteTrack) ID() string       { return t.track.ID() }
func (t *remoteTrack) StreamID() string { return t.track.StreamID() }
func (t *remoteTrack) Kind() media.Kind { return media.KindFromCodecType(t.track.Kind()) }

func (t *remoteTrack) ReadPacket() (*rtp.Packet, error) {
	pkt, _, err := t.track.ReadRTP()
	return pkt, err
}
