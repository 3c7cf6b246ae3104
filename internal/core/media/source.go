package media

type SourceKind string

const (
	SourceCamera    SourceKind = "camera"
	SourceDisplay   SourceKind = "display"
	SourceSynthetic SourceKind = "synthetic"
)

// Source is a capture source: a camera/microphone, a display capture or the
// synthetic substitute. Track returns nil for a kind the source lacks.
type Source interface {
	Kind() SourceKind
	Track(kind Kind) Track
	Stop()
}

type trackSource struct {
	kind   SourceKind
	tracks map[Kind]Track
}

// NewSource groups captured tracks into a Source.
func NewSource(kind SourceKind, tracks ...Track) Source {
	s := &trackSource{kind: kind, tracks: make(map[Kind]Track, len(tracks))}
	for _, t := range tracks {
		if t != nil {
			s.tracks[t.Kind()] = t
		}
	}
	return s
}

func (s *trackSource) Kind() SourceKind { return s.kind }

func (s *trackSource) Track(kind Kind) Track { return s.tracks[kind] }

func (s *trackSource) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}
