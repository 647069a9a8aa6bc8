package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/client"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/listdatatest"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/metadata"
)

func newSession(t *testing.T, server *listdatatest.Server) *client.Session {
	store, err := metadata.NewContactStore()
	require.NoError(t, err)
	session, err := client.NewSession(client.DataService{ServiceName: server.ServiceName()}, store, metadata.ContactTypeName)
	require.NoError(t, err)
	return session
}

// TestWaitUntilAvailable expects one failed attempt to be reported before the service answers.
func TestWaitUntilAvailable(t *testing.T) {
	server := listdatatest.NewServer(t)
	server.FailNext(http.StatusServiceUnavailable, "starting")

	var waits []time.Duration
	err := waitUntilAvailable(context.Background(), newSession(t, server), 10*time.Millisecond, func(d time.Duration, err error) {
		waits = append(waits, d)
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, waits)
	assert.Equal(t, 2, server.RequestCount())
}

// TestWaitUntilAvailableGivesUp expects the context to end the waiting.
func TestWaitUntilAvailableGivesUp(t *testing.T) {
	server := listdatatest.NewServer(t)
	session := newSession(t, server)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := waitUntilAvailable(ctx, session, time.Millisecond, func(time.Duration, error) {})
	assert.ErrorIs(t, err, context.Canceled)
}
