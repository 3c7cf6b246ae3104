package render

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/media"
	"meshcall/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"go.uber.org/zap"
)

// rtpWriter is satisfied by pion's ivfwriter and oggwriter.
type rtpWriter interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

type kindCounters struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
}

type participantStats struct {
	stream string
	kinds  map[media.Kind]*kindCounters
	tracks map[string]struct{}
}

// TrackStats counts what arrived on one media kind.
type TrackStats struct {
	Packets uint64
	Bytes   uint64
}

type StreamStats struct {
	StreamID string
	Kinds    map[media.Kind]TrackStats
}

// PacketRenderer drains remote tracks for a headless client. It counts
// packets and, when recordDir is set, writes video to IVF and audio to Ogg.
type PacketRenderer struct {
	recordDir string
	logger    *zap.SugaredLogger

	mu           sync.Mutex
	participants map[domain.ParticipantID]*participantStats
	wg           sync.WaitGroup
}

var _ ports.Renderer = (*PacketRenderer)(nil)

func NewPacketRenderer(recordDir string, logger *zap.SugaredLogger) *PacketRenderer {
	return &PacketRenderer{
		recordDir:    recordDir,
		logger:       logger,
		participants: make(map[domain.ParticipantID]*participantStats),
	}
}

func (r *PacketRenderer) RenderStream(participantID domain.ParticipantID, stream *media.RemoteStream) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := r.participants[participantID]
	if stats == nil {
		stats = &participantStats{
			kinds:  make(map[media.Kind]*kindCounters),
			tracks: make(map[string]struct{}),
		}
		r.participants[participantID] = stats
	}
	stats.stream = stream.ID

	for kind, track := range stream.Tracks {
		if _, draining := stats.tracks[track.ID()]; draining {
			continue
		}
		stats.tracks[track.ID()] = struct{}{}

		counters := stats.kinds[kind]
		if counters == nil {
			counters = &kindCounters{}
			stats.kinds[kind] = counters
		}

		writer := r.openRecording(participantID, kind, track.ID())
		r.wg.Add(1)
		go r.drain(participantID, track, counters, writer)

		r.logger.Infow("rendering remote track", "participant_id", participantID, "kind", kind, "track_id", track.ID())
	}
}

func (r *PacketRenderer) RemoveStream(participantID domain.ParticipantID) {
	r.mu.Lock()
	delete(r.participants, participantID)
	r.mu.Unlock()
	r.logger.Infow("remote stream removed", "participant_id", participantID)
}

func (r *PacketRenderer) openRecording(participantID domain.ParticipantID, kind media.Kind, trackID string) rtpWriter {
	if r.recordDir == "" {
		return nil
	}

	base := filepath.Join(r.recordDir, sanitize(fmt.Sprintf("%s-%s-%s", participantID, kind, trackID)))
	var (
		w   rtpWriter
		err error
	)
	if kind == media.KindVideo {
		w, err = ivfwriter.New(base + ".ivf")
	} else {
		w, err = oggwriter.New(base+".ogg", 48000, 2)
	}
	if err != nil {
		r.logger.Warnw("cannot record remote track", "participant_id", participantID, "kind", kind, "error", err)
		return nil
	}
	return w
}

func (r *PacketRenderer) drain(participantID domain.ParticipantID, track media.RemoteTrack, counters *kindCounters, writer rtpWriter) {
	defer r.wg.Done()
	if writer != nil {
		defer writer.Close()
	}

	for {
		pkt, err := track.ReadPacket()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Debugw("remote track ended", "participant_id", participantID, "track_id", track.ID(), "error", err)
			}
			return
		}

		counters.packets.Add(1)
		counters.bytes.Add(uint64(len(pkt.Payload)))

		if writer != nil {
			if err := writer.WriteRTP(pkt); err != nil {
				r.logger.Debugw("failed to record packet", "track_id", track.ID(), "error", err)
			}
		}
	}
}

func (r *PacketRenderer) Stats() map[domain.ParticipantID]StreamStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[domain.ParticipantID]StreamStats, len(r.participants))
	for id, p := range r.participants {
		s := StreamStats{StreamID: p.stream, Kinds: make(map[media.Kind]TrackStats, len(p.kinds))}
		for kind, c := range p.kinds {
			s.Kinds[kind] = TrackStats{Packets: c.packets.Load(), Bytes: c.bytes.Load()}
		}
		out[id] = s
	}
	return out
}

// Wait blocks until every drained track has ended.
func (r *PacketRenderer) Wait() {
	r.wg.Wait()
}

func sanitize(name string) string {
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			return c
		}
		return '_'
	}, name)
}
