package render

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/media"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRemoteTrack struct {
	id, stream string
	kind       media.Kind

	mu      sync.Mutex
	packets []*rtp.Packet
	release chan struct{}
}

func newFakeRemoteTrack(id string, kind media.Kind, payloads ...[]byte) *fakeRemoteTrack {
	t := &fakeRemoteTrack{id: id, stream: "s1", kind: kind, release: make(chan struct{})}
	for i, p := range payloads {
		t.packets = append(t.packets, &rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: uint16(i + 1), Timestamp: uint32(960 * (i + 1)), Marker: true},
			Payload: p,
		})
	}
	return t
}

func (t *fakeRemoteTrack) ID() string       { return t.id }
func (t *fakeRemoteTrack) StreamID() string { return t.stream }
func (t *fakeRemoteTrack) Kind() media.Kind { return t.kind }

// ReadPacket hands out the queued packets, then blocks until release and
// reports EOF.
func (t *fakeRemoteTrack) ReadPacket() (*rtp.Packet, error) {
	t.mu.Lock()
	if len(t.packets) > 0 {
		p := t.packets[0]
		t.packets = t.packets[1:]
		t.mu.Unlock()
		return p, nil
	}
	t.mu.Unlock()
	<-t.release
	return nil, io.EOF
}

func TestPacketRenderer_CountsPerKind(t *testing.T) {
	r := NewPacketRenderer("", zap.NewNop().Sugar())

	audio := newFakeRemoteTrack("a1", media.KindAudio, []byte{1, 2, 3}, []byte{4, 5})
	stream := media.NewRemoteStream("s1")
	stream.Tracks[media.KindAudio] = audio
	r.RenderStream("bob", stream)

	video := newFakeRemoteTrack("v1", media.KindVideo, []byte{1, 2, 3, 4})
	stream.Tracks[media.KindVideo] = video
	// re-rendering keeps draining the audio track only once
	r.RenderStream("bob", stream)

	require.Eventually(t, func() bool {
		s := r.Stats()["bob"]
		return s.Kinds[media.KindAudio].Packets == 2 && s.Kinds[media.KindVideo].Packets == 1
	}, time.Second, 5*time.Millisecond)

	s := r.Stats()["bob"]
	assert.Equal(t, "s1", s.StreamID)
	assert.Equal(t, uint64(5), s.Kinds[media.KindAudio].Bytes)
	assert.Equal(t, uint64(4), s.Kinds[media.KindVideo].Bytes)

	r.RemoveStream("bob")
	assert.NotContains(t, r.Stats(), domain.ParticipantID("bob"))

	close(audio.release)
	close(video.release)
	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drain goroutines did not finish")
	}
}

func TestPacketRenderer_RecordsAudio(t *testing.T) {
	dir := t.TempDir()
	r := NewPacketRenderer(dir, zap.NewNop().Sugar())

	audio := newFakeRemoteTrack("a/1", media.KindAudio, []byte{0xfc, 0xff, 0xfe}, []byte{0xfc, 0xff, 0xfe})
	close(audio.release)
	stream := media.NewRemoteStream("s1")
	stream.Tracks[media.KindAudio] = audio

	r.RenderStream("p:1", stream)
	r.Wait()

	info, err := os.Stat(filepath.Join(dir, "p_1-audio-a_1.ogg"))
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestConsoleObserver(t *testing.T) {
	var buf bytes.Buffer
	o := NewConsoleObserver(&buf)

	o.ChatReceived(domain.ChatMessage{Sender: "ann", Text: "hello", SentAt: time.Now()})
	o.MediaHint("bob", domain.HintVideoOff)
	o.MediaError(media.KindVideo, domain.ErrPermissionDenied)
	o.RelayError("room is full")

	out := buf.String()
	assert.Contains(t, out, "ann: hello")
	assert.Contains(t, out, "* bob: video-off")
	assert.Contains(t, out, "! video capture failed: capture permission denied")
	assert.Contains(t, out, "! relay: room is full")

	boom := errors.New("eof")
	o.TransportLost(boom)
	o.TransportLost(errors.New("second"))

	assert.Equal(t, boom, <-o.Lost())
	_, open := <-o.Lost()
	assert.False(t, open)
}
