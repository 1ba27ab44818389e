// Package session owns the voice session lifecycle: credential checks,
// microphone acquisition, token fetch, room connection and teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aviarylabs/voice-console/internal/config"
	"github.com/aviarylabs/voice-console/internal/media"
	"github.com/aviarylabs/voice-console/internal/observability"
	"github.com/aviarylabs/voice-console/internal/token"
	"github.com/aviarylabs/voice-console/internal/transcript"
	"github.com/aviarylabs/voice-console/internal/transport"
)

// State is the session lifecycle state
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// TokenSource issues room connection grants
type TokenSource interface {
	Fetch(ctx context.Context, voice, personality string, speed float64) (token.Grant, error)
}

// Controller drives the session state machine. All transitions happen
// through Start, Stop and the room disconnect callback; external code only
// observes state.
type Controller struct {
	cfg     config.Config
	room    transport.Room
	devices media.Devices
	tokens  TokenSource
	rec     *transcript.Reconciler
	player  *media.Player
	mic     *Microphone
	logger  zerolog.Logger

	mu            sync.Mutex
	state         State
	stopRequested bool
	lastErr       error
	micTrack      media.CaptureTrack
	metrics       *observability.SessionMetrics

	// OnStateChange is invoked after every transition, outside the lock
	OnStateChange func(s State)
}

// NewController wires a session controller
func NewController(cfg config.Config, room transport.Room, devices media.Devices,
	tokens TokenSource, rec *transcript.Reconciler, player *media.Player, logger zerolog.Logger) *Controller {
	return &Controller{
		cfg:     cfg,
		room:    room,
		devices: devices,
		tokens:  tokens,
		rec:     rec,
		player:  player,
		mic:     NewMicrophone(room),
		logger:  logger.With().Str("component", "session").Logger(),
		state:   StateDisconnected,
	}
}

// Start runs the connect sequence. Blocking; returns once the session is
// connected or the attempt failed. Failures leave the controller in
// StateError, ready for a fresh Start.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return fmt.Errorf("session already active in state %s", c.state)
	}
	c.stopRequested = false
	c.lastErr = nil
	c.mu.Unlock()

	// A new attempt always begins with an empty conversation
	c.rec.Clear()
	c.setState(StateConnecting)

	if c.cfg.TokenServiceURL == "" {
		return c.fail(ErrCredentialMissing)
	}

	// The microphone must be acquired before the token fetch: the room's
	// address resolution depends on capture being granted first.
	micTrack, err := c.devices.AcquireMicrophone(ctx, media.CaptureConfig{
		SampleRate: uint32(c.cfg.CaptureSampleRate),
		Channels:   1,
	})
	if err != nil {
		switch {
		case errors.Is(err, media.ErrCaptureDenied):
			return c.fail(fmt.Errorf("%w: %v", ErrPermissionDenied, err))
		case errors.Is(err, media.ErrCaptureUnsupported):
			return c.fail(fmt.Errorf("%w: %v", ErrUnsupportedEnvironment, err))
		default:
			return c.fail(fmt.Errorf("%w: %v", ErrPermissionDenied, err))
		}
	}

	grant, err := c.tokens.Fetch(ctx, c.cfg.Voice, c.cfg.Personality, c.cfg.Speed)
	if err != nil {
		micTrack.Close()
		return c.fail(fmt.Errorf("%w: %v", ErrTokenFetchFailed, err))
	}

	// Handlers must be installed before Connect so no early event is lost
	c.room.RegisterHandlers(transport.Handlers{
		OnParticipantConnected:    c.onParticipantConnected,
		OnParticipantDisconnected: c.onParticipantDisconnected,
		OnTrackSubscribed:         c.onTrackSubscribed,
		OnTranscription:           c.onTranscription,
		OnDataReceived:            c.onDataReceived,
		OnDisconnected:            c.onDisconnected,
	})

	if err := c.room.Connect(ctx, grant.Address, grant.Token); err != nil {
		micTrack.Close()
		return c.fail(fmt.Errorf("%w: %v", ErrTransportConnectFailed, err))
	}

	c.mu.Lock()
	if c.stopRequested {
		// Stop arrived while the connect was in flight. The session must
		// settle at disconnected, never connected.
		c.mu.Unlock()
		c.room.Disconnect()
		micTrack.Close()
		c.setState(StateDisconnected)
		c.logger.Info().Msg("Session stopped during connect")
		return nil
	}
	c.micTrack = micTrack
	c.metrics = observability.NewSessionMetrics()
	c.metrics.RecordSessionStart()
	c.mu.Unlock()

	c.rec.SetLocalIdentity(c.room.LocalParticipant().Identity)

	if err := c.room.PublishTrack(micTrack); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to publish microphone track")
	}
	if err := c.mic.Sync(true); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to sync microphone state")
	}

	c.setState(StateConnected)
	c.logger.Info().Str("identity", c.room.LocalParticipant().Identity).Msg("Session connected")
	return nil
}

// Stop ends the session. During an in-flight connect it latches a stop
// request that is honored once the connect settles.
func (c *Controller) Stop() {
	c.mu.Lock()
	switch c.state {
	case StateConnecting:
		c.stopRequested = true
		c.mu.Unlock()
		c.logger.Info().Msg("Stop requested during connect")
		return
	case StateConnected:
		c.mu.Unlock()
		// Blocks until the room's disconnect callback has run
		c.room.Disconnect()
		return
	default:
		c.mu.Unlock()
	}
}

// SendText publishes typed user input to the agent and records it locally
func (c *Controller) SendText(text string) error {
	if c.State() != StateConnected {
		return fmt.Errorf("session is not connected")
	}
	if err := c.room.SendData([]byte(text), "chat"); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	c.rec.AddLocalText(text)
	return nil
}

// ClearTranscript discards the conversation transcript
func (c *Controller) ClearTranscript() {
	c.rec.Clear()
}

// Microphone returns the microphone controller
func (c *Controller) Microphone() *Microphone {
	return c.mic
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the failure that produced StateError, if any
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) fail(err error) error {
	c.mu.Lock()
	if c.stopRequested {
		// A stop issued during the attempt wins over the failure: the
		// session settles at disconnected either way.
		c.mu.Unlock()
		c.setState(StateDisconnected)
		c.logger.Info().Err(err).Msg("Session stopped during connect")
		return nil
	}
	c.lastErr = err
	c.mu.Unlock()

	c.setState(StateError)
	c.logger.Error().Err(err).Msg("Session start failed")
	return err
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	hook := c.OnStateChange
	c.mu.Unlock()

	observability.RecordStateTransition(string(s))
	if hook != nil {
		hook(s)
	}
}

func (c *Controller) onParticipantConnected(p transport.Participant) {
	c.logger.Info().Str("identity", p.Identity).Msg("Participant joined")
}

func (c *Controller) onParticipantDisconnected(p transport.Participant) {
	c.logger.Info().Str("identity", p.Identity).Msg("Participant left")
}

func (c *Controller) onTrackSubscribed(t transport.RemoteTrack) {
	if t.Kind() != transport.TrackKindAudio {
		return
	}
	c.player.Attach(t)
}

func (c *Controller) onTranscription(segments []transport.TranscriptionSegment, from transport.Participant) {
	c.rec.ApplySegments(segments, from)
}

func (c *Controller) onDataReceived(payload []byte, from transport.Participant, topic string) {
	// The agent publishes transcript events on the data channel; payloads
	// that do not decode are dropped inside the reconciler
	c.rec.ApplyAgentData(payload)
}

func (c *Controller) onDisconnected(reason string) {
	c.player.DetachAll()

	c.mu.Lock()
	if c.micTrack != nil {
		c.micTrack.Close()
		c.micTrack = nil
	}
	if c.metrics != nil {
		c.metrics.RecordSessionEnd()
		c.metrics = nil
	}
	c.mu.Unlock()

	c.rec.SetLocalIdentity("")
	c.setState(StateDisconnected)
	c.logger.Info().Str("reason", reason).Msg("Session disconnected")
}
