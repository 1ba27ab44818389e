// Package agent decodes the realtime event stream published by the voice
// agent on the room data channel.
package agent

import (
	"encoding/json"
	"fmt"
)

// Event types emitted by the agent
const (
	EventInputTranscriptionCompleted = "input_audio_transcription.completed"
	EventResponseTranscriptDelta     = "response.audio_transcript.delta"
	EventResponseTranscriptDone      = "response.audio_transcript.done"
)

// ServerEvent is one agent event. The agent publishes a flat object whose
// populated fields depend on Type.
type ServerEvent struct {
	Type string `json:"type"`

	// ItemID identifies the conversation item the event applies to
	ItemID string `json:"item_id,omitempty"`

	// Transcript carries the full text for completed and done events
	Transcript string `json:"transcript,omitempty"`

	// Delta carries an incremental text fragment for delta events
	Delta string `json:"delta,omitempty"`
}

// ParseServerEvent decodes an agent payload. Payloads that are not valid
// JSON objects or lack a type are rejected.
func ParseServerEvent(payload []byte) (ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ServerEvent{}, fmt.Errorf("malformed agent event: %w", err)
	}
	if ev.Type == "" {
		return ServerEvent{}, fmt.Errorf("agent event missing type")
	}
	return ev, nil
}
