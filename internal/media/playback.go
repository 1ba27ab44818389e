package media

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aviarylabs/voice-console/internal/observability"
)

// ErrPlaybackBlocked indicates the output sink refused to start because it
// has not been activated by a user gesture yet.
var ErrPlaybackBlocked = errors.New("playback is blocked until a user gesture")

const (
	pumpInterval   = 20 * time.Millisecond
	pumpChunkBytes = 4096
)

// PCMSource yields raw PCM bytes. Remote tracks implement this.
type PCMSource interface {
	ReadPCM(p []byte) int
}

// Sink renders audio tracks. Play may fail with ErrPlaybackBlocked.
type Sink interface {
	Play(t Track) error
	Stop(trackID string)
	StopAll()
}

// GestureSource delivers user gestures. The callback registered with
// OnNextGesture fires at most once; re-register for subsequent gestures.
type GestureSource interface {
	OnNextGesture(fn func())
}

// Gestures is a GestureSource fed by the console input loop
type Gestures struct {
	mu      sync.Mutex
	pending []func()
}

// NewGestures creates an empty gesture source
func NewGestures() *Gestures {
	return &Gestures{}
}

// OnNextGesture registers fn to run on the next gesture only
func (g *Gestures) OnNextGesture(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = append(g.pending, fn)
}

// Fire delivers a gesture, draining all one-shot listeners
func (g *Gestures) Fire() {
	g.mu.Lock()
	fns := g.pending
	g.pending = nil
	g.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Player attaches subscribed tracks to a sink and recovers from blocked
// playback. When Play fails with ErrPlaybackBlocked the track is parked and
// a single one-shot gesture listener is armed; the next gesture retries every
// parked track at once.
type Player struct {
	sink     Sink
	gestures GestureSource
	logger   zerolog.Logger

	mu       sync.Mutex
	attached map[string]Track
	blocked  map[string]Track
	armed    bool
	retries  func()
}

// NewPlayer creates a player rendering to sink and recovering via gestures
func NewPlayer(sink Sink, gestures GestureSource, logger zerolog.Logger) *Player {
	return &Player{
		sink:     sink,
		gestures: gestures,
		logger:   logger.With().Str("component", "player").Logger(),
		attached: make(map[string]Track),
		blocked:  make(map[string]Track),
	}
}

// SetRetryHook installs a callback invoked after each gesture retry pass
func (p *Player) SetRetryHook(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries = fn
}

// Attach starts playback for a track, parking it for gesture recovery if the
// sink is blocked
func (p *Player) Attach(t Track) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attached[t.ID()] = t
	if err := p.sink.Play(t); err != nil {
		if errors.Is(err, ErrPlaybackBlocked) {
			p.logger.Debug().Str("track_id", t.ID()).Msg("Playback blocked, waiting for gesture")
			p.blocked[t.ID()] = t
			p.armLocked()
			return
		}
		p.logger.Warn().Err(err).Str("track_id", t.ID()).Msg("Failed to play track")
		return
	}
	delete(p.blocked, t.ID())
}

// DetachAll stops every track and clears all recovery state
func (p *Player) DetachAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sink.StopAll()
	p.attached = make(map[string]Track)
	p.blocked = make(map[string]Track)
	// A previously armed listener may still fire; retryBlocked finds an
	// empty blocked set and does nothing.
	p.armed = false
}

// BlockedCount returns the number of tracks parked for gesture recovery
func (p *Player) BlockedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.blocked)
}

// armLocked registers the one-shot gesture listener. At most one listener is
// outstanding regardless of how many tracks are blocked.
func (p *Player) armLocked() {
	if p.armed {
		return
	}
	p.armed = true
	p.gestures.OnNextGesture(p.retryBlocked)
}

func (p *Player) retryBlocked() {
	p.mu.Lock()
	p.armed = false
	pending := make([]Track, 0, len(p.blocked))
	for _, t := range p.blocked {
		pending = append(pending, t)
	}
	sink := p.sink
	p.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	stillBlocked := make([]Track, 0)
	for _, t := range pending {
		if err := sink.Play(t); err != nil {
			if errors.Is(err, ErrPlaybackBlocked) {
				stillBlocked = append(stillBlocked, t)
				continue
			}
			p.logger.Warn().Err(err).Str("track_id", t.ID()).Msg("Retry failed")
			continue
		}
		p.logger.Debug().Str("track_id", t.ID()).Msg("Playback recovered after gesture")
	}
	observability.RecordPlaybackRetry()

	p.mu.Lock()
	p.blocked = make(map[string]Track)
	for _, t := range stillBlocked {
		// Only re-park tracks that are still attached
		if _, ok := p.attached[t.ID()]; ok {
			p.blocked[t.ID()] = t
		}
	}
	if len(p.blocked) > 0 {
		p.armLocked()
	}
	hook := p.retries
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// renderState is one playing track's render buffer and its pump lifetime
type renderState struct {
	buf  *RingBuffer
	stop chan struct{}
}

// BufferedSink renders tracks by draining their PCM into per-track buffers.
// It refuses to start playback until Activate is called, mirroring output
// devices that require explicit user consent. Tracks that expose a PCMSource
// are drained continuously by a per-track pump goroutine until stopped.
type BufferedSink struct {
	mu      sync.Mutex
	active  bool
	playing map[string]*renderState
	depth   int
}

// NewBufferedSink creates an inactive sink with the given per-track buffer depth
func NewBufferedSink(depth int) *BufferedSink {
	if depth <= 0 {
		depth = 8192
	}
	return &BufferedSink{
		playing: make(map[string]*renderState),
		depth:   depth,
	}
}

// Activate unblocks the sink. Safe to call more than once.
func (s *BufferedSink) Activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
}

// Play begins rendering a track, or returns ErrPlaybackBlocked when inactive
func (s *BufferedSink) Play(t Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return ErrPlaybackBlocked
	}
	if _, ok := s.playing[t.ID()]; ok {
		return nil
	}

	st := &renderState{
		buf:  NewRingBuffer(s.depth),
		stop: make(chan struct{}),
	}
	s.playing[t.ID()] = st
	if src, ok := t.(PCMSource); ok {
		go s.pump(src, st)
	}
	return nil
}

// pump moves audio from the track's source into its render buffer
func (s *BufferedSink) pump(src PCMSource, st *renderState) {
	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()

	scratch := make([]byte, pumpChunkBytes)
	for {
		select {
		case <-st.stop:
			return
		case <-ticker.C:
			if n := src.ReadPCM(scratch); n > 0 {
				st.buf.Write(scratch[:n])
			}
		}
	}
}

// Stop halts rendering of a single track
func (s *BufferedSink) Stop(trackID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.playing[trackID]; ok {
		close(st.stop)
		delete(s.playing, trackID)
	}
}

// StopAll halts rendering of every track
func (s *BufferedSink) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.playing {
		close(st.stop)
		delete(s.playing, id)
	}
}

// IsPlaying reports whether a track is being rendered
func (s *BufferedSink) IsPlaying(trackID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.playing[trackID]
	return ok
}

// Buffered returns the number of rendered bytes queued for a track
func (s *BufferedSink) Buffered(trackID string) int {
	s.mu.Lock()
	st, ok := s.playing[trackID]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return st.buf.Available()
}

var _ Sink = (*BufferedSink)(nil)
var _ GestureSource = (*Gestures)(nil)
