package media

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Kinds lists the media kinds every peer link carries, in negotiation order.
var Kinds = []Kind{KindAudio, KindVideo}

func KindFromCodecType(t webrtc.RTPCodecType) Kind {
	if t == webrtc.RTPCodecTypeVideo {
		return KindVideo
	}
	return KindAudio
}

// Track is an outgoing media track. The enabled flag is read by every link
// that carries the track, so toggling it never needs renegotiation.
type Track interface {
	ID() string
	Kind() Kind
	Enabled() bool
	SetEnabled(enabled bool)
	Synthetic() bool
	Local() webrtc.TrackLocal
	Done() <-chan struct{}
	Stop()
}

// LocalTrack is a sample based track backed by pion.
type LocalTrack struct {
	kind      Kind
	local     *webrtc.TrackLocalStaticSample
	synthetic bool

	enabled  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

func codecFor(kind Kind) webrtc.RTPCodecCapability {
	if kind == KindVideo {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}

func NewLocalTrack(kind Kind, id, streamID string) (*LocalTrack, error) {
	local, err := webrtc.NewTrackLocalStaticSample(codecFor(kind), id, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s track: %w", kind, err)
	}
	t := &LocalTrack{
		kind:  kind,
		local: local,
		done:  make(chan struct{}),
	}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalTrack) ID() string               { return t.local.ID() }
func (t *LocalTrack) Kind() Kind               { return t.kind }
func (t *LocalTrack) Enabled() bool            { return t.enabled.Load() }
func (t *LocalTrack) Synthetic() bool          { return t.synthetic }
func (t *LocalTrack) Local() webrtc.TrackLocal { return t.local }
func (t *LocalTrack) Done() <-chan struct{}    { return t.done }

// SetEnabled toggles the track in place. Synthetic tracks stay disabled.
func (t *LocalTrack) SetEnabled(enabled bool) {
	if t.synthetic {
		return
	}
	t.enabled.Store(enabled)
}

// WriteSample forwards a captured sample. Disabled or ended tracks drop it.
func (t *LocalTrack) WriteSample(s pionmedia.Sample) error {
	if !t.Enabled() || t.Ended() {
		return nil
	}
	return t.local.WriteSample(s)
}

func (t *LocalTrack) Ended() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Stop ends the track. Watchers of Done observe the end exactly once.
func (t *LocalTrack) Stop() {
	t.stopOnce.Do(func() {
		t.enabled.Store(false)
		close(t.done)
	})
}
