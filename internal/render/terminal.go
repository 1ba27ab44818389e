// Package render displays the conversation transcript on a terminal.
package render

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/aviarylabs/voice-console/internal/transcript"
)

// Styles holds the transcript color scheme
type Styles struct {
	User      lipgloss.Style
	Assistant lipgloss.Style
	Interim   lipgloss.Style
	Notice    lipgloss.Style
}

// DefaultStyles returns the default transcript styles
func DefaultStyles() Styles {
	return Styles{
		User:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f")),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7aa2f7")),
		Interim:   lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")),
		Notice:    lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")).Italic(true),
	}
}

// Terminal renders transcript entries as console lines. The most recent
// interim entry is rewritten in place as updates stream in; once it
// finalizes, or a newer entry arrives, the line is committed and scrolls
// away like any other.
type Terminal struct {
	mu     sync.Mutex
	w      io.Writer
	styles Styles

	seq  int
	open int // handle of the in-place updatable line, 0 when none
}

// NewTerminal creates a renderer writing to w
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w, styles: DefaultStyles()}
}

// EntryAdded prints a new transcript line and returns its handle
func (t *Terminal) EntryAdded(e transcript.Entry) transcript.RenderHandle {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.commitOpen()
	t.seq++
	handle := t.seq

	if e.Interim {
		fmt.Fprint(t.w, t.formatLine(e))
		t.open = handle
	} else {
		fmt.Fprintln(t.w, t.formatLine(e))
	}
	return handle
}

// EntryUpdated redraws an entry. The open interim line is rewritten in
// place; updates to already committed lines are printed as amendments.
func (t *Terminal) EntryUpdated(handle transcript.RenderHandle, e transcript.Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := handle.(int)
	if ok && h == t.open {
		fmt.Fprint(t.w, "\r\033[K", t.formatLine(e))
		if !e.Interim {
			fmt.Fprintln(t.w)
			t.open = 0
		}
		return
	}

	// The line already scrolled away, print the corrected text below
	t.commitOpen()
	fmt.Fprintln(t.w, t.styles.Notice.Render("↳ ")+t.formatLine(e))
}

// Cleared marks a transcript reset
func (t *Terminal) Cleared() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.commitOpen()
	fmt.Fprintln(t.w, t.styles.Notice.Render("── transcript cleared ──"))
}

// commitOpen terminates the in-place line, if any
func (t *Terminal) commitOpen() {
	if t.open != 0 {
		fmt.Fprintln(t.w)
		t.open = 0
	}
}

func (t *Terminal) formatLine(e transcript.Entry) string {
	label := t.styles.Assistant.Render("agent")
	if e.Role == transcript.RoleUser {
		label = t.styles.User.Render("you")
	}

	text := e.Text
	if e.Interim {
		text = t.styles.Interim.Render(text)
	}
	return label + ": " + text
}

var _ transcript.Renderer = (*Terminal)(nil)
