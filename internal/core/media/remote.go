package media

import "github.com/pion/rtp"

// RemoteTrack is an incoming track delivered by a peer link.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() Kind
	ReadPacket() (*rtp.Packet, error)
}

// RemoteStream groups the incoming tracks of one remote participant.
type RemoteStream struct {
	ID     string
	Tracks map[Kind]RemoteTrack
}

func NewRemoteStream(id string) *RemoteStream {
	return &RemoteStream{ID: id, Tracks: make(map[Kind]RemoteTrack)}
}

func (s *RemoteStream) Track(kind Kind) RemoteTrack {
	return s.Tracks[kind]
}
