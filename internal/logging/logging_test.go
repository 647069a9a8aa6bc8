package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/config"
)

// TestNewLoggerFile expects entries to end up in the configured log file.
func TestNewLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.log")
	logger, err := NewLogger(config.LogConfig{Level: "debug", File: path})
	require.NoError(t, err)
	logger.Info("saved changes")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"saved changes"`)
}

func TestNewLoggerInvalidLevel(t *testing.T) {
	_, err := NewLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
