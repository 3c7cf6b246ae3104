package mesh

import (
	"context"
	"errors"
	"fmt"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/media"
	"meshcall/internal/core/ports"

	"go.uber.org/zap"
)

// LocalMediaState is what every peer link sends. The slots are never empty
// once the manager has started: a missing real track is covered by the
// synthetic substitute.
type LocalMediaState struct {
	VideoEnabled bool
	AudioEnabled bool
	VideoTrack   media.Track
	AudioTrack   media.Track
	ScreenShare  bool
}

func (s LocalMediaState) Track(kind media.Kind) media.Track {
	if kind == media.KindVideo {
		return s.VideoTrack
	}
	return s.AudioTrack
}

func (s LocalMediaState) Enabled(kind media.Kind) bool {
	if kind == media.KindVideo {
		return s.VideoEnabled
	}
	return s.AudioEnabled
}

func (s *LocalMediaState) set(kind media.Kind, track media.Track) {
	if kind == media.KindVideo {
		s.VideoTrack = track
	} else {
		s.AudioTrack = track
	}
}

func (s *LocalMediaState) setEnabled(kind media.Kind, enabled bool) {
	if kind == media.KindVideo {
		s.VideoEnabled = enabled
	} else {
		s.AudioEnabled = enabled
	}
}

func isReal(t media.Track) bool {
	return t != nil && !t.Synthetic()
}

func hintFor(kind media.Kind, enabled bool) domain.MediaHint {
	switch {
	case kind == media.KindVideo && enabled:
		return domain.HintVideoOn
	case kind == media.KindVideo:
		return domain.HintVideoOff
	case enabled:
		return domain.HintAudioOn
	}
	return domain.HintAudioOff
}

// MediaManager owns the local capture sources. It lives on the orchestrator's
// event loop; capture calls run on their own goroutines and report back
// through the loop.
type MediaManager struct {
	loop       *eventLoop
	log        *zap.SugaredLogger
	capturer   ports.Capturer
	substitute *media.SyntheticSource

	state  LocalMediaState
	owners map[media.Kind]media.Source
	// generation is bumped per kind whenever a request supersedes earlier ones.
	generation map[media.Kind]uint64

	onChange func()
	onHint   func(domain.MediaHint)
	onError  func(media.Kind, error)

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

func newMediaManager(loop *eventLoop, log *zap.SugaredLogger, capturer ports.Capturer, substitute *media.SyntheticSource) *MediaManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &MediaManager{
		loop:       loop,
		log:        log.With("component", "media"),
		capturer:   capturer,
		substitute: substitute,
		owners:     make(map[media.Kind]media.Source),
		generation: make(map[media.Kind]uint64),
		onChange:   func() {},
		onHint:     func(domain.MediaHint) {},
		onError:    func(media.Kind, error) {},
		ctx:        ctx,
		cancel:     cancel,
	}
	m.state.VideoTrack = substitute.Track(media.KindVideo)
	m.state.AudioTrack = substitute.Track(media.KindAudio)
	return m
}

func (m *MediaManager) State() LocalMediaState {
	return m.state
}

// start acquires the initial capture for the wanted kinds.
func (m *MediaManager) start(wantVideo, wantAudio bool) {
	m.state.VideoEnabled = wantVideo
	m.state.AudioEnabled = wantAudio

	var kinds []media.Kind
	for _, kind := range media.Kinds {
		if m.state.Enabled(kind) {
			kinds = append(kinds, kind)
		}
	}
	if len(kinds) == 0 {
		m.installSubstitute()
		return
	}
	m.acquire(kinds...)
}

func (m *MediaManager) setEnabled(kind media.Kind, enabled bool) {
	if m.closed {
		return
	}
	if m.state.Enabled(kind) == enabled {
		return
	}
	m.state.setEnabled(kind, enabled)
	m.onHint(hintFor(kind, enabled))

	track := m.state.Track(kind)
	if enabled {
		if isReal(track) {
			track.SetEnabled(true)
			return
		}
		m.acquire(kind)
		return
	}

	// cancel any capture still in flight for this kind
	m.generation[kind]++
	if isReal(track) {
		track.SetEnabled(false)
	}
	if !m.state.VideoEnabled && !m.state.AudioEnabled {
		m.installSubstitute()
	}
}

// installSubstitute stops every real capture and puts the synthetic tracks in
// both slots.
func (m *MediaManager) installSubstitute() {
	changed := false
	for _, kind := range media.Kinds {
		m.generation[kind]++
		if isReal(m.state.Track(kind)) {
			m.release(kind)
			changed = true
		}
		m.state.set(kind, m.substitute.Track(kind))
	}
	m.state.ScreenShare = false
	if changed {
		m.onChange()
	}
}

// release stops the real track in kind's slot and its source once no other
// slot uses it. The slot itself is left for the caller to refill.
func (m *MediaManager) release(kind media.Kind) {
	if track := m.state.Track(kind); isReal(track) {
		track.Stop()
	}
	src, ok := m.owners[kind]
	if !ok {
		return
	}
	delete(m.owners, kind)
	for _, other := range m.owners {
		if other == src {
			return
		}
	}
	src.Stop()
}

func (m *MediaManager) acquire(kinds ...media.Kind) {
	gens := make(map[media.Kind]uint64, len(kinds))
	wantVideo, wantAudio := false, false
	for _, kind := range kinds {
		m.generation[kind]++
		gens[kind] = m.generation[kind]
		if kind == media.KindVideo {
			wantVideo = true
		} else {
			wantAudio = true
		}
	}

	ctx := m.ctx
	go func() {
		src, err := m.capturer.AcquireLocalMedia(ctx, wantVideo, wantAudio)
		if !m.loop.post(func() { m.captureDone(gens, src, err) }) && src != nil {
			src.Stop()
		}
	}()
}

func (m *MediaManager) current(kind media.Kind, gen uint64) bool {
	return !m.closed && m.generation[kind] == gen
}

func (m *MediaManager) captureDone(gens map[media.Kind]uint64, src media.Source, err error) {
	if err != nil {
		for kind, gen := range gens {
			if m.current(kind, gen) {
				m.captureFailed(kind, err)
			}
		}
		return
	}

	installed := false
	for _, kind := range media.Kinds {
		gen, requested := gens[kind]
		track := src.Track(kind)
		if !requested || !m.current(kind, gen) {
			if track != nil {
				track.Stop()
			}
			continue
		}
		if track == nil {
			m.captureFailed(kind, fmt.Errorf("%w: no %s track", domain.ErrDeviceUnavailable, kind))
			continue
		}

		m.release(kind)
		track.SetEnabled(m.state.Enabled(kind))
		m.state.set(kind, track)
		m.owners[kind] = src
		if kind == media.KindVideo {
			m.state.ScreenShare = src.Kind() == media.SourceDisplay
		}
		installed = true
	}

	if !installed {
		src.Stop()
	}
	m.onChange()
}

// captureFailed degrades kind to the substitute and reports the error.
func (m *MediaManager) captureFailed(kind media.Kind, err error) {
	m.log.Warnw("capture failed", "kind", kind, "error", err)
	if m.state.Enabled(kind) {
		m.state.setEnabled(kind, false)
		m.onHint(hintFor(kind, false))
	}
	if isReal(m.state.Track(kind)) {
		m.release(kind)
	}
	m.state.set(kind, m.substitute.Track(kind))
	if kind == media.KindVideo {
		m.state.ScreenShare = false
	}
	m.onError(kind, err)
	m.onChange()
}

func (m *MediaManager) startScreenShare() {
	if m.closed || m.state.ScreenShare {
		return
	}
	m.generation[media.KindVideo]++
	gen := m.generation[media.KindVideo]

	ctx := m.ctx
	go func() {
		src, err := m.capturer.AcquireDisplayCapture(ctx)
		if !m.loop.post(func() { m.displayDone(gen, src, err) }) && src != nil {
			src.Stop()
		}
	}()
}

func (m *MediaManager) displayDone(gen uint64, src media.Source, err error) {
	if !m.current(media.KindVideo, gen) {
		if src != nil {
			src.Stop()
		}
		return
	}
	if err != nil {
		m.log.Infow("screen share not started", "error", err)
		m.onError(media.KindVideo, err)
		// the request superseded any camera capture still in flight
		if m.state.VideoEnabled && !isReal(m.state.VideoTrack) {
			m.acquire(media.KindVideo)
		}
		return
	}

	track := src.Track(media.KindVideo)
	if track == nil {
		src.Stop()
		m.onError(media.KindVideo, fmt.Errorf("%w: display capture without video", domain.ErrNotSupported))
		return
	}

	m.release(media.KindVideo)
	m.state.set(media.KindVideo, track)
	m.owners[media.KindVideo] = src
	m.state.ScreenShare = true
	m.watchDisplay(track)
	m.onChange()
}

// watchDisplay falls back to the camera when the display track ends, which
// also covers sharing stopped from outside the call.
func (m *MediaManager) watchDisplay(track media.Track) {
	done := m.ctx.Done()
	go func() {
		select {
		case <-track.Done():
			m.loop.post(func() {
				if m.state.ScreenShare && m.state.VideoTrack == track {
					m.log.Infow("screen share ended")
					m.fallbackFromScreen()
				}
			})
		case <-done:
		}
	}()
}

func (m *MediaManager) stopScreenShare() {
	if m.closed || !m.state.ScreenShare {
		return
	}
	m.fallbackFromScreen()
}

func (m *MediaManager) fallbackFromScreen() {
	m.state.ScreenShare = false
	m.generation[media.KindVideo]++
	m.release(media.KindVideo)
	m.state.set(media.KindVideo, m.substitute.Track(media.KindVideo))

	if m.state.VideoEnabled {
		m.acquire(media.KindVideo)
		return
	}
	m.onChange()
}

func (m *MediaManager) close() {
	if m.closed {
		return
	}
	m.closed = true
	m.cancel()
	for _, kind := range media.Kinds {
		m.release(kind)
		m.state.set(kind, m.substitute.Track(kind))
	}
	m.state.ScreenShare = false
}

// captureErrorIsUserFacing reports whether err is one a user can act on.
func captureErrorIsUserFacing(err error) bool {
	return errors.Is(err, domain.ErrPermissionDenied) || errors.Is(err, domain.ErrDeviceUnavailable)
}
