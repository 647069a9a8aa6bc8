package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, "http://localhost:8080/_vti_bin/listdata.svc", config.Client.Endpoint)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "mysql", config.Database.Driver)
	assert.True(t, config.Server.Logging)

	d, err := config.Client.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)
}

// TestLoadFile expects values of the file to override the defaults and the rest to be kept.
func TestLoadFile(t *testing.T) {
	for _, key := range []string{"LISTDATA_ENDPOINT", "LISTDATA_TIMEOUT", "DBDRIVER"} {
		t.Setenv(key, "")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[client]
endpoint = "https://contoso.example.com/_vti_bin/listdata.svc"

[database]
driver = "postgres"
`), 0o644))

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://contoso.example.com/_vti_bin/listdata.svc", config.Client.Endpoint)
	assert.Equal(t, "postgres", config.Database.Driver)
	assert.Equal(t, "30s", config.Client.Timeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

// TestApplyEnv expects environment variables to win over configured values.
func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LISTDATA_ENDPOINT": "http://other:9090/svc",
		"LISTDATA_TIMEOUT":  "5s",
		"PORT":              "9090",
		"DBUSER":            "dirk",
		"DBPWD":             "secret",
		"GIN_LOGGING":       "OFF",
		"LOG_DEV":           "true",
	}
	config := DefaultConfig()
	require.NoError(t, config.applyEnv(func(k string) string { return env[k] }))
	assert.Equal(t, "http://other:9090/svc", config.Client.Endpoint)
	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, "dirk", config.Database.User)
	assert.Equal(t, "secret", config.Database.Password)
	assert.False(t, config.Server.Logging)
	assert.True(t, config.Log.Development)
	d, err := config.Client.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
}

func TestApplyEnvInvalid(t *testing.T) {
	config := DefaultConfig()
	assert.Error(t, config.applyEnv(func(k string) string {
		if k == "PORT" {
			return "eighty"
		}
		return ""
	}))

	config.Client.Timeout = "-1s"
	_, err := config.Client.TimeoutDuration()
	assert.Error(t, err)
}
