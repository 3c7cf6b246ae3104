package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync/atomic"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/media"

	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"go.uber.org/zap"
)

const oggPageDuration = 20 * time.Millisecond

// Files names the recordings that stand in for capture devices. Video and
// screen are VP8 in IVF containers, audio is Opus in Ogg.
type Files struct {
	Video  string
	Audio  string
	Screen string
}

// FileCapturer plays recordings from disk in a loop. A kind without a file
// behaves like a missing device.
type FileCapturer struct {
	files  Files
	logger *zap.SugaredLogger
	seq    atomic.Uint64
}

func NewFileCapturer(files Files, logger *zap.SugaredLogger) *FileCapturer {
	return &FileCapturer{files: files, logger: logger}
}

func (c *FileCapturer) AcquireLocalMedia(ctx context.Context, wantVideo, wantAudio bool) (media.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := fmt.Sprintf("camera-%d", c.seq.Add(1))
	var tracks []media.Track

	fail := func(err error) (media.Source, error) {
		for _, t := range tracks {
			t.Stop()
		}
		return nil, err
	}

	if wantVideo {
		track, err := c.playIVF(c.files.Video, media.KindVideo, streamID)
		if err != nil {
			return fail(err)
		}
		tracks = append(tracks, track)
	}
	if wantAudio {
		track, err := c.playOgg(c.files.Audio, streamID)
		if err != nil {
			return fail(err)
		}
		tracks = append(tracks, track)
	}

	return media.NewSource(media.SourceCamera, tracks...), nil
}

func (c *FileCapturer) AcquireDisplayCapture(ctx context.Context) (media.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.files.Screen == "" {
		return nil, domain.ErrNotSupported
	}

	track, err := c.playIVF(c.files.Screen, media.KindVideo, fmt.Sprintf("screen-%d", c.seq.Add(1)))
	if err != nil {
		return nil, err
	}
	return media.NewSource(media.SourceDisplay, track), nil
}

func openRecording(path string, kind media.Kind) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no %s source configured", domain.ErrDeviceUnavailable, kind)
	}
	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}
	return f, nil
}

func (c *FileCapturer) playIVF(path string, kind media.Kind, streamID string) (*media.LocalTrack, error) {
	f, err := openRecording(path, kind)
	if err != nil {
		return nil, err
	}
	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not an IVF file: %v", domain.ErrDeviceUnavailable, path, err)
	}

	track, err := media.NewLocalTrack(kind, streamID+"-"+string(kind), streamID)
	if err != nil {
		f.Close()
		return nil, err
	}

	frameDuration := time.Second
	if header.TimebaseDenominator > 0 {
		frameDuration = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}

	go func() {
		defer f.Close()
		ticker := time.NewTicker(frameDuration)
		defer ticker.Stop()

		for {
			select {
			case <-track.Done():
				return
			case <-ticker.C:
			}

			frame, _, err := reader.ParseNextFrame()
			if errors.Is(err, io.EOF) {
				if _, err = f.Seek(0, io.SeekStart); err == nil {
					reader, _, err = ivfreader.NewWith(f)
				}
				if err != nil {
					c.logger.Warnw("cannot rewind recording", "path", path, "error", err)
					track.Stop()
					return
				}
				continue
			}
			if err != nil {
				c.logger.Warnw("bad IVF frame, stopping track", "path", path, "error", err)
				track.Stop()
				return
			}

			if err := track.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
				c.logger.Debugw("write sample failed", "track_id", track.ID(), "error", err)
			}
		}
	}()
	return track, nil
}

func (c *FileCapturer) playOgg(path, streamID string) (*media.LocalTrack, error) {
	f, err := openRecording(path, media.KindAudio)
	if err != nil {
		return nil, err
	}
	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not an Ogg file: %v", domain.ErrDeviceUnavailable, path, err)
	}

	track, err := media.NewLocalTrack(media.KindAudio, streamID+"-audio", streamID)
	if err != nil {
		f.Close()
		return nil, err
	}

	go func() {
		defer f.Close()
		ticker := time.NewTicker(oggPageDuration)
		defer ticker.Stop()

		var lastGranule uint64
		for {
			select {
			case <-track.Done():
				return
			case <-ticker.C:
			}

			page, pageHeader, err := reader.ParseNextPage()
			if errors.Is(err, io.EOF) {
				lastGranule = 0
				if _, err = f.Seek(0, io.SeekStart); err == nil {
					reader, _, err = oggreader.NewWith(f)
				}
				if err != nil {
					c.logger.Warnw("cannot rewind recording", "path", path, "error", err)
					track.Stop()
					return
				}
				continue
			}
			if err != nil {
				c.logger.Warnw("bad Ogg page, stopping track", "path", path, "error", err)
				track.Stop()
				return
			}

			// granule positions count 48kHz samples
			samples := pageHeader.GranulePosition - lastGranule
			lastGranule = pageHeader.GranulePosition
			duration := time.Duration(float64(samples) / 48000 * float64(time.Second))

			if err := track.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
				c.logger.Debugw("write sample failed", "track_id", track.ID(), "error", err)
			}
		}
	}()
	return track, nil
}
