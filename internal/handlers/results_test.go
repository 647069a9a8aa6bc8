package handlers

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestTerminalResults expects messages verbatim and errors with a prefix.
func TestTerminalResults(t *testing.T) {
	var buf bytes.Buffer
	results := NewTerminalResults(&buf)
	results.Show("new item created")
	results.ShowError(errors.New("collection is empty"))

	out := buf.String()
	assert.Contains(t, out, "new item created\n")
	assert.Contains(t, out, "error: collection is empty")
}
