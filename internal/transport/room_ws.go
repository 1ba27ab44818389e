package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aviarylabs/voice-console/internal/media"
	"github.com/aviarylabs/voice-console/internal/observability"
)

const (
	connectTimeout   = 15 * time.Second
	remoteTrackDepth = 32 * 1024 // bytes of buffered PCM per remote track

	mediaFrameInterval = 20 * time.Millisecond
	mediaFrameBytes    = 4096
)

// envelope is the JSON frame exchanged with the room server
type envelope struct {
	Event       string                 `json:"event"`
	Participant *Participant           `json:"participant,omitempty"`
	Segments    []TranscriptionSegment `json:"segments,omitempty"`
	Track       *trackInfo             `json:"track,omitempty"`
	Topic       string                 `json:"topic,omitempty"`
	Payload     string                 `json:"payload,omitempty"` // Base64 encoded
	Enabled     *bool                  `json:"enabled,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
}

type trackInfo struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// WSRoom is a Room implementation speaking a JSON envelope protocol over a
// single websocket connection.
type WSRoom struct {
	logger zerolog.Logger

	handlers Handlers

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu         sync.RWMutex
	connected  bool
	leaving    bool
	local      Participant
	micEnabled bool
	remote     map[string]*wsRemoteTrack

	disconnectOnce sync.Once
	done           chan struct{}
}

// NewWSRoom creates a room client. Handlers must be registered before Connect.
func NewWSRoom(logger zerolog.Logger) *WSRoom {
	return &WSRoom{
		logger: logger.With().Str("component", "transport").Logger(),
		remote: make(map[string]*wsRemoteTrack),
	}
}

// RegisterHandlers installs event callbacks
func (r *WSRoom) RegisterHandlers(h Handlers) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = h
}

// Connect dials the room server and waits for the join acknowledgment
func (r *WSRoom) Connect(ctx context.Context, address, token string) error {
	wsURL, err := websocketURL(address)
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("room dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("room dial failed: %w", err)
	}

	if err := conn.WriteJSON(envelope{Event: "join"}); err != nil {
		conn.Close()
		return fmt.Errorf("send join: %w", err)
	}

	// The server speaks first with a joined ack carrying our identity
	_ = conn.SetReadDeadline(time.Now().Add(connectTimeout))
	var ack envelope
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return fmt.Errorf("read join ack: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	if ack.Event != "joined" || ack.Participant == nil {
		conn.Close()
		return fmt.Errorf("unexpected join ack event %q", ack.Event)
	}

	r.mu.Lock()
	r.conn = conn
	r.connected = true
	r.leaving = false
	r.local = *ack.Participant
	r.micEnabled = true
	r.remote = make(map[string]*wsRemoteTrack)
	r.done = make(chan struct{})
	r.disconnectOnce = sync.Once{}
	r.mu.Unlock()

	r.logger.Info().Str("identity", ack.Participant.Identity).Msg("Joined room")

	go r.readLoop(conn)
	return nil
}

// Disconnect leaves the room and tears down the connection
func (r *WSRoom) Disconnect() {
	r.mu.Lock()
	if !r.connected {
		r.mu.Unlock()
		return
	}
	r.leaving = true
	conn := r.conn
	r.mu.Unlock()

	r.writeMu.Lock()
	_ = conn.WriteJSON(envelope{Event: "leave"})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
	r.writeMu.Unlock()

	_ = conn.Close()
	<-r.done
}

// LocalParticipant returns the identity assigned by the room
func (r *WSRoom) LocalParticipant() Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local
}

// PublishTrack announces a local track to the room and starts streaming its
// audio as media frames
func (r *WSRoom) PublishTrack(t LocalTrack) error {
	if t == nil {
		return fmt.Errorf("track must not be nil")
	}
	if err := r.send(envelope{
		Event: "publish",
		Track: &trackInfo{ID: t.ID(), Kind: t.Kind()},
	}); err != nil {
		return err
	}

	r.mu.RLock()
	done := r.done
	r.mu.RUnlock()
	if src, ok := t.(media.PCMSource); ok && done != nil {
		go r.pumpOutbound(t.ID(), src, done)
	}
	return nil
}

// pumpOutbound drains a published track into outbound media envelopes until
// the connection tears down. Frames are withheld while the microphone is
// disabled.
func (r *WSRoom) pumpOutbound(trackID string, src media.PCMSource, done <-chan struct{}) {
	ticker := time.NewTicker(mediaFrameInterval)
	defer ticker.Stop()

	scratch := make([]byte, mediaFrameBytes)
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			n := src.ReadPCM(scratch)
			if n == 0 || !r.IsMicrophoneEnabled() {
				continue
			}
			ev := envelope{
				Event:   "media",
				Track:   &trackInfo{ID: trackID},
				Payload: base64.StdEncoding.EncodeToString(scratch[:n]),
			}
			if err := r.send(ev); err != nil {
				return
			}
		}
	}
}

// SendData sends an application payload on the given topic
func (r *WSRoom) SendData(payload []byte, topic string) error {
	err := r.send(envelope{
		Event:   "data",
		Topic:   topic,
		Payload: base64.StdEncoding.EncodeToString(payload),
	})
	if err == nil {
		observability.RecordDataBytes("out", int64(len(payload)))
	}
	return err
}

// SetMicrophoneEnabled toggles the published microphone track
func (r *WSRoom) SetMicrophoneEnabled(enabled bool) error {
	if err := r.send(envelope{Event: "microphone", Enabled: &enabled}); err != nil {
		return err
	}
	r.mu.Lock()
	r.micEnabled = enabled
	r.mu.Unlock()
	return nil
}

// IsMicrophoneEnabled reports the actual publish-enabled flag
func (r *WSRoom) IsMicrophoneEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.micEnabled
}

func (r *WSRoom) send(ev envelope) error {
	r.mu.RLock()
	connected := r.connected
	conn := r.conn
	r.mu.RUnlock()

	if !connected || conn == nil {
		return fmt.Errorf("room is not connected")
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return conn.WriteJSON(ev)
}

func (r *WSRoom) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			r.mu.RLock()
			leaving := r.leaving
			r.mu.RUnlock()

			reason := "connection closed"
			switch {
			case leaving:
				reason = "client requested disconnect"
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				reason = "remote hangup"
			default:
				r.logger.Warn().Err(err).Msg("Room read error")
			}
			r.teardown(reason)
			return
		}

		var ev envelope
		if err := json.Unmarshal(message, &ev); err != nil {
			r.logger.Debug().Err(err).Msg("Ignoring malformed room frame")
			continue
		}

		r.dispatch(ev)
	}
}

func (r *WSRoom) dispatch(ev envelope) {
	r.mu.RLock()
	h := r.handlers
	r.mu.RUnlock()

	switch ev.Event {
	case "participant_joined":
		if ev.Participant != nil && h.OnParticipantConnected != nil {
			h.OnParticipantConnected(*ev.Participant)
		}

	case "participant_left":
		if ev.Participant != nil && h.OnParticipantDisconnected != nil {
			h.OnParticipantDisconnected(*ev.Participant)
		}

	case "transcription":
		if len(ev.Segments) > 0 && ev.Participant != nil && h.OnTranscription != nil {
			h.OnTranscription(ev.Segments, *ev.Participant)
		}

	case "data":
		payload, err := base64.StdEncoding.DecodeString(ev.Payload)
		if err != nil {
			r.logger.Debug().Err(err).Msg("Ignoring undecodable data payload")
			return
		}
		observability.RecordDataBytes("in", int64(len(payload)))
		from := Participant{}
		if ev.Participant != nil {
			from = *ev.Participant
		}
		if h.OnDataReceived != nil {
			h.OnDataReceived(payload, from, ev.Topic)
		}

	case "track":
		if ev.Track == nil {
			return
		}
		track := r.subscribeTrack(ev)
		if h.OnTrackSubscribed != nil {
			h.OnTrackSubscribed(track)
		}

	case "media":
		// Inbound audio frames for a previously announced track
		if ev.Track == nil {
			return
		}
		r.mu.RLock()
		track := r.remote[ev.Track.ID]
		r.mu.RUnlock()
		if track == nil {
			return
		}
		if pcm, err := base64.StdEncoding.DecodeString(ev.Payload); err == nil {
			track.buf.Write(pcm)
		}

	case "disconnected":
		reason := ev.Reason
		if reason == "" {
			reason = "server disconnect"
		}
		r.teardown(reason)

	default:
		r.logger.Debug().Str("event", ev.Event).Msg("Ignoring unknown room event")
	}
}

func (r *WSRoom) subscribeTrack(ev envelope) *wsRemoteTrack {
	from := Participant{}
	if ev.Participant != nil {
		from = *ev.Participant
	}
	track := &wsRemoteTrack{
		id:          ev.Track.ID,
		kind:        ev.Track.Kind,
		participant: from,
		buf:         media.NewRingBuffer(remoteTrackDepth),
	}
	r.mu.Lock()
	r.remote[track.id] = track
	r.mu.Unlock()
	return track
}

func (r *WSRoom) teardown(reason string) {
	r.disconnectOnce.Do(func() {
		r.mu.Lock()
		r.connected = false
		r.local = Participant{}
		conn := r.conn
		r.conn = nil
		h := r.handlers
		r.mu.Unlock()

		if conn != nil {
			_ = conn.Close()
		}

		r.logger.Info().Str("reason", reason).Msg("Left room")
		if h.OnDisconnected != nil {
			h.OnDisconnected(reason)
		}
		close(r.done)
	})
}

// websocketURL normalizes an http(s) or ws(s) address to a websocket URL
func websocketURL(address string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("invalid room address: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("room address must use http(s) or ws(s), got %q", u.Scheme)
	}
	return u.String(), nil
}

// wsRemoteTrack buffers inbound PCM for playback
type wsRemoteTrack struct {
	id          string
	kind        string
	participant Participant
	buf         *media.RingBuffer
}

func (t *wsRemoteTrack) ID() string               { return t.id }
func (t *wsRemoteTrack) Kind() string             { return t.kind }
func (t *wsRemoteTrack) Participant() Participant { return t.participant }

// ReadPCM drains buffered audio into p, returning the number of bytes read
func (t *wsRemoteTrack) ReadPCM(p []byte) int {
	return t.buf.Read(p)
}

var _ Room = (*WSRoom)(nil)
var _ RemoteTrack = (*wsRemoteTrack)(nil)
