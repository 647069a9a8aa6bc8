package handlers

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Results is the output region the handlers render into. Every settled handler calls exactly one
// of the two methods.
type Results interface {
	Show(message string)
	ShowError(err error)
}

// TerminalResults renders messages to a writer, errors in a distinct style. It is safe for
// concurrent use; each message is written in one piece.
type TerminalResults struct {
	mu         sync.Mutex
	w          io.Writer
	errorStyle lipgloss.Style
}

// NewTerminalResults returns a results region that writes to w.
func NewTerminalResults(w io.Writer) *TerminalResults {
	return &TerminalResults{
		w:          w,
		errorStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
}

func (r *TerminalResults) Show(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, message)
}

func (r *TerminalResults) ShowError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, r.errorStyle.Render("error: "+err.Error()))
}
