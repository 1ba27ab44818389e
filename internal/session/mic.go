package session

import (
	"github.com/aviarylabs/voice-console/internal/transport"
)

// Microphone controls the publish-enabled flag of the local audio track. It
// holds no state of its own; the room's flag is always the source of truth.
type Microphone struct {
	room transport.Room
}

// NewMicrophone creates a controller bound to a room
func NewMicrophone(room transport.Room) *Microphone {
	return &Microphone{room: room}
}

// Toggle inverts the publish-enabled flag and returns the new state
func (m *Microphone) Toggle() (bool, error) {
	next := !m.room.IsMicrophoneEnabled()
	if err := m.room.SetMicrophoneEnabled(next); err != nil {
		return m.room.IsMicrophoneEnabled(), err
	}
	return next, nil
}

// Sync forces the flag to a known value, used on session reset where the
// microphone must start enabled
func (m *Microphone) Sync(enabled bool) error {
	return m.room.SetMicrophoneEnabled(enabled)
}

// Enabled reports the room's actual publish-enabled flag
func (m *Microphone) Enabled() bool {
	return m.room.IsMicrophoneEnabled()
}
