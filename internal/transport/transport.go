// Package transport defines the capability boundary to the media room this
// console connects to. The engine consumes the Room interface and never
// reaches into connection internals; event delivery happens exclusively
// through explicitly registered Handlers.
package transport

import "context"

// Participant identifies a room member
type Participant struct {
	Identity string `json:"identity"`
	Name     string `json:"name,omitempty"`
}

// TranscriptionSegment is one speech segment produced by the room's
// transcription pipeline. IDs are opaque and scoped to the room.
type TranscriptionSegment struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Track kinds
const (
	TrackKindAudio = "audio"
)

// LocalTrack is an opaque local media source that can be published to the room
type LocalTrack interface {
	ID() string
	Kind() string
	Close() error
}

// RemoteTrack is an opaque inbound media stream from another participant
type RemoteTrack interface {
	ID() string
	Kind() string
	Participant() Participant
}

// Handlers collects the callbacks a Room delivers events through.
// All handlers must be registered before Connect; nil handlers are skipped.
type Handlers struct {
	OnParticipantConnected    func(p Participant)
	OnParticipantDisconnected func(p Participant)
	OnTrackSubscribed         func(t RemoteTrack)
	OnTranscription           func(segments []TranscriptionSegment, from Participant)
	OnDataReceived            func(payload []byte, from Participant, topic string)
	OnDisconnected            func(reason string)
}

// Room is the media transport capability surface. Connection, ICE and codec
// machinery live behind it; callers only ever connect, publish, send data and
// react to events.
type Room interface {
	// RegisterHandlers installs event callbacks. Must be called before Connect.
	RegisterHandlers(h Handlers)

	// Connect joins the room at address using token. Blocks until the join is
	// acknowledged or fails.
	Connect(ctx context.Context, address, token string) error

	// Disconnect leaves the room. The OnDisconnected handler fires once the
	// connection has actually torn down.
	Disconnect()

	// LocalParticipant returns the local participant identity assigned by the
	// room. Only valid after Connect succeeds.
	LocalParticipant() Participant

	// PublishTrack publishes a local media track to the room.
	PublishTrack(t LocalTrack) error

	// SendData sends an application payload to the room on the given topic.
	SendData(payload []byte, topic string) error

	// SetMicrophoneEnabled enables or disables the published microphone track.
	SetMicrophoneEnabled(enabled bool) error

	// IsMicrophoneEnabled reports the actual publish-enabled flag.
	IsMicrophoneEnabled() bool
}
