package media

import "fmt"

const syntheticStreamID = "synthetic"

// SyntheticSource is the placeholder used when no real capture is available:
// one blank video track and one silent audio track, both permanently disabled.
// It never writes a sample; it only keeps outgoing track slots non-empty.
type SyntheticSource struct {
	video *LocalTrack
	audio *LocalTrack
}

func NewSyntheticSource() (*SyntheticSource, error) {
	video, err := newSyntheticTrack(KindVideo)
	if err != nil {
		return nil, err
	}
	audio, err := newSyntheticTrack(KindAudio)
	if err != nil {
		return nil, err
	}
	return &SyntheticSource{video: video, audio: audio}, nil
}

func newSyntheticTrack(kind Kind) (*LocalTrack, error) {
	t, err := NewLocalTrack(kind, fmt.Sprintf("synthetic-%s", kind), syntheticStreamID)
	if err != nil {
		return nil, err
	}
	t.enabled.Store(false)
	t.synthetic = true
	return t, nil
}

func (s *SyntheticSource) Kind() SourceKind { return SourceSynthetic }

func (s *SyntheticSource) Track(kind Kind) Track {
	if kind == KindVideo {
		return s.video
	}
	return s.audio
}

// Stop is a no-op: the substitute is shared by every link for the client's lifetime.
func (s *SyntheticSource) Stop() {}
