// Package transcript merges two independently keyed event streams, room
// transcription segments and agent protocol messages, into one ordered
// conversation transcript.
package transcript

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aviarylabs/voice-console/internal/agent"
	"github.com/aviarylabs/voice-console/internal/observability"
	"github.com/aviarylabs/voice-console/internal/transport"
)

// Role identifies which side of the conversation produced an entry
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// RenderHandle is an opaque presentation reference returned by a Renderer
type RenderHandle any

// Renderer receives transcript changes for display
type Renderer interface {
	// EntryAdded is called once when an entry is first created and returns
	// the handle used for subsequent updates
	EntryAdded(e Entry) RenderHandle

	// EntryUpdated is called after an entry's text or interim flag changed
	EntryUpdated(handle RenderHandle, e Entry)

	// Cleared is called when the whole transcript is discarded
	Cleared()
}

// Entry is one conversational turn
type Entry struct {
	ID      string
	Role    Role
	Text    string
	Interim bool
}

// entry is the owned mutable record behind the identity tables
type entry struct {
	Entry
	handle RenderHandle
}

// Reconciler merges room segments and agent events into a single ordered
// transcript. Segment IDs and agent item IDs are disjoint identifier spaces;
// a user turn confirmed by the agent ends up indexed in both tables, aliasing
// one owned entry.
type Reconciler struct {
	mu sync.Mutex

	entries   []*entry
	bySegment map[string]*entry
	byItem    map[string]*entry

	// pendingUser is the most recent user entry created from a room segment
	// that the agent has not yet confirmed. Single slot: a newer user entry
	// evicts the previous reference. Rapid consecutive user turns before a
	// confirmation arrives can therefore attach the correction to the
	// newest turn rather than the one it belongs to.
	pendingUser *entry

	localIdentity string
	renderer      Renderer
	logger        zerolog.Logger
}

// NewReconciler creates an empty transcript bound to a renderer
func NewReconciler(renderer Renderer, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		bySegment: make(map[string]*entry),
		byItem:    make(map[string]*entry),
		renderer:  renderer,
		logger:    logger.With().Str("component", "transcript").Logger(),
	}
}

// SetLocalIdentity records the local participant identity used to attribute
// room segments to the user or the assistant
func (r *Reconciler) SetLocalIdentity(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localIdentity = identity
}

// ApplySegments merges a batch of room transcription segments
func (r *Reconciler) ApplySegments(segments []transport.TranscriptionSegment, from transport.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, seg := range segments {
		if seg.ID == "" {
			continue
		}

		if e, ok := r.bySegment[seg.ID]; ok {
			e.Text = seg.Text
			if seg.Final {
				e.Interim = false
			}
			r.notifyUpdated(e)
			observability.RecordReconcilerOp("segment_update")
			continue
		}

		role := RoleAssistant
		if from.Identity == r.localIdentity {
			role = RoleUser
		}
		e := r.addEntry(seg.ID, role, seg.Text, !seg.Final)
		r.bySegment[seg.ID] = e
		if role == RoleUser {
			r.pendingUser = e
		}
		observability.RecordReconcilerOp("segment_create")
	}
}

// ApplyAgentData merges one agent data payload. Malformed payloads and
// unrecognized event types are dropped without error.
func (r *Reconciler) ApplyAgentData(payload []byte) {
	ev, err := agent.ParseServerEvent(payload)
	if err != nil {
		r.logger.Debug().Err(err).Msg("Dropping undecodable agent payload")
		observability.RecordDroppedPayload("malformed")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case agent.EventInputTranscriptionCompleted:
		r.applyCompleted(ev)
	case agent.EventResponseTranscriptDelta:
		r.applyDelta(ev)
	case agent.EventResponseTranscriptDone:
		r.applyDone(ev)
	default:
		observability.RecordDroppedPayload("unknown_type")
	}
}

// applyCompleted handles the corrected final text of a user utterance
func (r *Reconciler) applyCompleted(ev agent.ServerEvent) {
	if e := r.lookup(ev.ItemID); e != nil {
		e.Text = ev.Transcript
		e.Interim = false
		r.byItem[ev.ItemID] = e
		if r.pendingUser == e {
			r.pendingUser = nil
		}
		r.notifyUpdated(e)
		observability.RecordReconcilerOp("completed_update")
		return
	}

	if r.pendingUser != nil {
		// Re-key the unconfirmed user entry: it becomes addressable by the
		// agent item ID while keeping its original segment mapping
		e := r.pendingUser
		e.Text = ev.Transcript
		e.Interim = false
		r.byItem[ev.ItemID] = e
		r.pendingUser = nil
		r.notifyUpdated(e)
		observability.RecordReconcilerOp("completed_rekey")
		return
	}

	e := r.addEntry(ev.ItemID, RoleUser, ev.Transcript, false)
	r.byItem[ev.ItemID] = e
	observability.RecordReconcilerOp("completed_create")
}

// applyDelta appends an assistant speech fragment
func (r *Reconciler) applyDelta(ev agent.ServerEvent) {
	if e := r.lookup(ev.ItemID); e != nil {
		e.Text += ev.Delta
		r.notifyUpdated(e)
		observability.RecordReconcilerOp("delta_append")
		return
	}

	e := r.addEntry(ev.ItemID, RoleAssistant, ev.Delta, true)
	r.byItem[ev.ItemID] = e
	observability.RecordReconcilerOp("delta_create")
}

// applyDone finalizes an assistant turn with its authoritative text
func (r *Reconciler) applyDone(ev agent.ServerEvent) {
	if e := r.lookup(ev.ItemID); e != nil {
		if ev.Transcript != "" {
			e.Text = ev.Transcript
		}
		e.Interim = false
		r.notifyUpdated(e)
		observability.RecordReconcilerOp("done_finalize")
		return
	}

	if ev.Transcript == "" {
		observability.RecordDroppedPayload("empty_done")
		return
	}
	e := r.addEntry(ev.ItemID, RoleAssistant, ev.Transcript, false)
	r.byItem[ev.ItemID] = e
	observability.RecordReconcilerOp("done_create")
}

// AddLocalText appends a display-only entry for typed user input. Its key is
// generated locally and never indexed, so no later event can address it.
func (r *Reconciler) AddLocalText(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.addEntry("local-"+uuid.New().String(), RoleUser, text, false)
	observability.RecordReconcilerOp("local_text")
}

// Clear atomically discards all entries and identity state. Idempotent.
func (r *Reconciler) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = nil
	r.bySegment = make(map[string]*entry)
	r.byItem = make(map[string]*entry)
	r.pendingUser = nil

	if r.renderer != nil {
		r.renderer.Cleared()
	}
	observability.RecordReconcilerOp("clear")
}

// Entries returns a snapshot of the transcript in first-creation order
func (r *Reconciler) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Entry
	}
	return out
}

// Lookup returns the entry currently filed under key, from either identifier
// space, and whether one exists
func (r *Reconciler) Lookup(key string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e := r.lookup(key); e != nil {
		return e.Entry, true
	}
	return Entry{}, false
}

// HasPendingUserCorrection reports whether an unconfirmed user entry exists
func (r *Reconciler) HasPendingUserCorrection() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingUser != nil
}

// lookup resolves a key against the item table first, then the segment table
func (r *Reconciler) lookup(key string) *entry {
	if e, ok := r.byItem[key]; ok {
		return e
	}
	if e, ok := r.bySegment[key]; ok {
		return e
	}
	return nil
}

// addEntry appends a new entry and notifies the renderer. Entries keep their
// position for life; updates never reorder.
func (r *Reconciler) addEntry(id string, role Role, text string, interim bool) *entry {
	e := &entry{Entry: Entry{
		ID:      id,
		Role:    role,
		Text:    text,
		Interim: interim,
	}}
	r.entries = append(r.entries, e)

	if r.renderer != nil {
		e.handle = r.renderer.EntryAdded(e.Entry)
	}
	observability.RecordTranscriptEntry(string(role))
	return e
}

func (r *Reconciler) notifyUpdated(e *entry) {
	if r.renderer != nil {
		r.renderer.EntryUpdated(e.handle, e.Entry)
	}
}
