package client

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/listdatatest"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/metadata"
	"gitlab.com/dirk.krummacker/listdata-contacts/pkg/model"
)

var seed = []model.Contact{
	{Id: 1, FirstName: "Erika", LastName: "Mustermann", EmailAddress: "erika@example.com"},
	{Id: 2, FirstName: "Rudi", LastName: "Völler", EmailAddress: "rudi@example.com"},
}

// newSession binds a session to a fake list-data service seeded with the given contacts.
func newSession(t *testing.T, opts []Option, contacts ...model.Contact) (*Session, *listdatatest.Server) {
	t.Helper()
	server := listdatatest.NewServer(t, contacts...)
	store, err := metadata.NewContactStore()
	require.NoError(t, err)
	session, err := NewSession(DataService{ServiceName: server.ServiceName()}, store, metadata.ContactTypeName, opts...)
	require.NoError(t, err)
	return session, server
}

// TestNewSessionRejectsServerMetadata expects the metadata handshake flag to be refused.
func TestNewSessionRejectsServerMetadata(t *testing.T) {
	store, _ := metadata.NewContactStore()
	_, err := NewSession(DataService{ServiceName: "http://localhost", HasServerMetadata: true}, store, metadata.ContactTypeName)
	assert.ErrorIs(t, err, ErrServerMetadataUnsupported)

	_, err = NewSession(DataService{ServiceName: "not a url"}, store, metadata.ContactTypeName)
	assert.Error(t, err)

	_, err = NewSession(DataService{ServiceName: "http://localhost"}, store, "Nope")
	assert.ErrorIs(t, err, metadata.ErrUnknownType)
}

// TestQuery expects all contacts to be returned in order and attached as unchanged entities.
func TestQuery(t *testing.T) {
	session, server := newSession(t, nil, seed...)

	entities, err := session.Query(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, seed[0], entities[0].Contact())
	assert.Equal(t, seed[1], entities[1].Contact())
	assert.Equal(t, Unchanged, entities[0].State())
	assert.Equal(t, []string{"GET " + listdatatest.ServicePath + "/Contacts"}, server.Requests())
	assert.False(t, session.HasChanges())
}

// TestQueryEmpty expects an empty collection to be a successful, empty result.
func TestQueryEmpty(t *testing.T) {
	session, _ := newSession(t, nil)
	entities, err := session.Query(context.Background(), Query{})
	require.NoError(t, err)
	assert.Empty(t, entities)
}

// TestQueryUnknownProjection expects an invalid projection to fail before the network.
func TestQueryUnknownProjection(t *testing.T) {
	session, server := newSession(t, nil, seed...)
	_, err := session.Query(context.Background(), Query{Select: "phone"})
	assert.Error(t, err)
	assert.Equal(t, 0, server.RequestCount())
}

// TestQueryKeepsLocalChanges expects a query not to overwrite a modified entity.
func TestQueryKeepsLocalChanges(t *testing.T) {
	session, _ := newSession(t, nil, seed...)
	entities, err := session.Query(context.Background(), Query{})
	require.NoError(t, err)
	require.NoError(t, entities[0].SetLastName("Local"))

	entities, err = session.Query(context.Background(), Query{})
	require.NoError(t, err)
	assert.Equal(t, "Local", entities[0].Contact().LastName)
	assert.Equal(t, Modified, entities[0].State())
}

// TestFetchEntityByKeyCache expects the second cache-first fetch of the same key to be served
// from the cache without another request.
func TestFetchEntityByKeyCache(t *testing.T) {
	session, server := newSession(t, nil, seed...)
	ctx := context.Background()

	first, err := session.FetchEntityByKey(ctx, 1, true)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, seed[0], first.Entity.Contact())

	second, err := session.FetchEntityByKey(ctx, 1, true)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Same(t, first.Entity, second.Entity)
	assert.Equal(t, 1, server.RequestCount())

	third, err := session.FetchEntityByKey(ctx, 1, false)
	require.NoError(t, err)
	assert.False(t, third.FromCache)
	assert.Equal(t, 2, server.RequestCount())
}

// TestFetchEntityByKeyNotFound expects an unknown key to yield ErrNotFound.
func TestFetchEntityByKeyNotFound(t *testing.T) {
	session, _ := newSession(t, nil, seed...)
	_, err := session.FetchEntityByKey(context.Background(), 99, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestFetchSkipsDeletedInCache expects an entity marked for deletion not to be served from the
// cache.
func TestFetchSkipsDeletedInCache(t *testing.T) {
	session, server := newSession(t, nil, seed...)
	ctx := context.Background()
	res, err := session.FetchEntityByKey(ctx, 2, true)
	require.NoError(t, err)
	require.NoError(t, res.Entity.SetDeleted())

	res, err = session.FetchEntityByKey(ctx, 2, true)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 2, server.RequestCount())
}

// TestCreateAndSave expects the server to assign an id and the entity to become unchanged.
func TestCreateAndSave(t *testing.T) {
	session, server := newSession(t, nil, seed...)
	ctx := context.Background()

	lewis := model.Contact{FirstName: "Lewis", LastName: "Hamilton", EmailAddress: "lewis.hamilton@mercedes.com"}
	entity, err := session.CreateEntity(lewis)
	require.NoError(t, err)
	assert.Equal(t, Added, entity.State())
	assert.NotEmpty(t, entity.TempKey())
	assert.Equal(t, int64(0), entity.Key())
	assert.True(t, session.HasChanges())

	result, err := session.SaveChanges(ctx)
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, int64(3), entity.Key())
	assert.Equal(t, Unchanged, entity.State())
	assert.False(t, session.HasChanges())

	lewis.Id = 3
	assert.Contains(t, server.Contacts(), lewis)

	cached, err := session.FetchEntityByKey(ctx, 3, true)
	require.NoError(t, err)
	assert.True(t, cached.FromCache)
	assert.Same(t, entity, cached.Entity)
}

// TestCreateWithId expects client-assigned ids to be refused.
func TestCreateWithId(t *testing.T) {
	session, _ := newSession(t, nil)
	_, err := session.CreateEntity(model.Contact{Id: 5})
	assert.ErrorIs(t, err, ErrIdentityAssigned)
}

// TestSaveInvalidEmail expects validation to fail before any request is sent.
func TestSaveInvalidEmail(t *testing.T) {
	session, server := newSession(t, nil)
	_, err := session.CreateEntity(model.Contact{FirstName: "Lewis", LastName: "Hamilton", EmailAddress: "not-an-email"})
	require.NoError(t, err)

	_, err = session.SaveChanges(context.Background())
	var verr *metadata.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "emailAddress", verr.Fields[0].Property)
	assert.Equal(t, 0, server.RequestCount())
	assert.True(t, session.HasChanges())
}

// TestSaveUpdateSendsOnlyChangedProperty expects an update to change only the targeted field.
func TestSaveUpdateSendsOnlyChangedProperty(t *testing.T) {
	session, server := newSession(t, nil, seed...)
	ctx := context.Background()

	res, err := session.FetchEntityByKey(ctx, 1, true)
	require.NoError(t, err)
	require.NoError(t, res.Entity.SetLastName("NewName"))
	assert.Equal(t, Modified, res.Entity.State())

	_, err = session.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, res.Entity.State())

	stored := server.Contacts()[0]
	assert.Equal(t, "NewName", stored.LastName)
	assert.Equal(t, seed[0].FirstName, stored.FirstName)
	assert.Equal(t, seed[0].EmailAddress, stored.EmailAddress)
}

// TestSetBackToOriginal expects reverting a change to leave the entity unchanged.
func TestSetBackToOriginal(t *testing.T) {
	session, _ := newSession(t, nil, seed...)
	res, err := session.FetchEntityByKey(context.Background(), 1, false)
	require.NoError(t, err)
	require.NoError(t, res.Entity.SetFirstName("Other"))
	require.NoError(t, res.Entity.SetFirstName(seed[0].FirstName))
	assert.Equal(t, Unchanged, res.Entity.State())
	assert.False(t, session.HasChanges())
}

// TestSaveDelete expects a deleted entity to be removed from the service and the cache.
func TestSaveDelete(t *testing.T) {
	session, server := newSession(t, nil, seed...)
	ctx := context.Background()

	entities, err := session.Query(ctx, Query{})
	require.NoError(t, err)
	last := entities[len(entities)-1]
	require.NoError(t, last.SetDeleted())
	assert.Equal(t, Deleted, last.State())

	_, err = session.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, Detached, last.State())
	assert.Equal(t, []model.Contact{seed[0]}, server.Contacts())
	assert.Len(t, session.CachedEntities(), 1)
	assert.ErrorIs(t, last.SetLastName("x"), ErrDetached)
}

// TestDeleteAdded expects deleting a never saved entity to just detach it.
func TestDeleteAdded(t *testing.T) {
	session, server := newSession(t, nil)
	entity, err := session.CreateEntity(model.Contact{FirstName: "a"})
	require.NoError(t, err)
	require.NoError(t, entity.SetDeleted())
	assert.Equal(t, Detached, entity.State())
	assert.False(t, session.HasChanges())

	_, err = session.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, server.RequestCount())
}

// TestSaveFailureKeepsPendingChanges expects a rejected batch to leave the local state as it was.
func TestSaveFailureKeepsPendingChanges(t *testing.T) {
	session, server := newSession(t, nil, seed...)
	ctx := context.Background()
	entity, err := session.CreateEntity(model.Contact{FirstName: "Lewis", LastName: "Hamilton", EmailAddress: "lewis.hamilton@mercedes.com"})
	require.NoError(t, err)

	server.FailNext(http.StatusInternalServerError, "database unavailable")
	_, err = session.SaveChanges(ctx)
	var nerr *NetworkError
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, http.StatusInternalServerError, nerr.StatusCode)
	assert.Equal(t, "database unavailable", nerr.Message)
	assert.True(t, nerr.Retryable())
	assert.Equal(t, Added, entity.State())
	assert.Len(t, server.Contacts(), 2)

	_, err = session.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, entity.State())
	assert.Len(t, server.Contacts(), 3)
}

// TestSaveBatchRollsBack expects one failing change to reject the whole batch.
func TestSaveBatchRollsBack(t *testing.T) {
	session, server := newSession(t, nil, seed...)
	ctx := context.Background()
	entities, err := session.Query(ctx, Query{})
	require.NoError(t, err)

	// Remove the second contact behind the session's back.
	other, _ := newSessionFor(t, server)
	res, err := other.FetchEntityByKey(ctx, 2, false)
	require.NoError(t, err)
	require.NoError(t, res.Entity.SetDeleted())
	_, err = other.SaveChanges(ctx)
	require.NoError(t, err)

	require.NoError(t, entities[0].SetLastName("NewName"))
	require.NoError(t, entities[1].SetLastName("Gone"))
	_, err = session.SaveChanges(ctx)
	var nerr *NetworkError
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, http.StatusNotFound, nerr.StatusCode)
	assert.NotEmpty(t, nerr.ContentID)
	assert.False(t, nerr.Retryable())
	assert.Equal(t, seed[0], server.Contacts()[0])
	assert.Equal(t, Modified, entities[0].State())
}

func newSessionFor(t *testing.T, server *listdatatest.Server) (*Session, error) {
	store, err := metadata.NewContactStore()
	require.NoError(t, err)
	return NewSession(DataService{ServiceName: server.ServiceName()}, store, metadata.ContactTypeName)
}

// TestRejectChanges expects all pending changes to be dropped.
func TestRejectChanges(t *testing.T) {
	session, _ := newSession(t, nil, seed...)
	entities, err := session.Query(context.Background(), Query{})
	require.NoError(t, err)
	require.NoError(t, entities[0].SetLastName("NewName"))
	require.NoError(t, entities[1].SetDeleted())
	added, err := session.CreateEntity(model.Contact{FirstName: "a"})
	require.NoError(t, err)

	session.RejectChanges()
	assert.False(t, session.HasChanges())
	assert.Equal(t, seed[0], entities[0].Contact())
	assert.Equal(t, Unchanged, entities[1].State())
	assert.Equal(t, Detached, added.State())
}

// TestEntityRejectChanges expects only the rejected entity to lose its pending change.
func TestEntityRejectChanges(t *testing.T) {
	session, _ := newSession(t, nil, seed...)
	entities, err := session.Query(context.Background(), Query{})
	require.NoError(t, err)
	require.NoError(t, entities[0].SetLastName("NewName"))
	require.NoError(t, entities[1].SetDeleted())
	added, err := session.CreateEntity(model.Contact{FirstName: "a"})
	require.NoError(t, err)

	entities[0].RejectChanges()
	assert.Equal(t, seed[0], entities[0].Contact())
	assert.Equal(t, Unchanged, entities[0].State())
	assert.Equal(t, Deleted, entities[1].State())

	added.RejectChanges()
	assert.Equal(t, Detached, added.State())
	assert.True(t, session.HasChanges())

	entities[1].RejectChanges()
	assert.False(t, session.HasChanges())
	assert.Len(t, session.CachedEntities(), 2)
}

// TestTimeout expects a slow service to produce a retryable network error.
func TestTimeout(t *testing.T) {
	session, server := newSession(t, []Option{WithTimeout(50 * time.Millisecond)}, seed...)
	server.SetDelay(time.Second)

	_, err := session.Query(context.Background(), Query{})
	var nerr *NetworkError
	require.True(t, errors.As(err, &nerr))
	assert.True(t, nerr.Retryable())
}

// TestNetworkErrorMessage checks the rendering of the error variants.
func TestNetworkErrorMessage(t *testing.T) {
	err := &NetworkError{Op: "query", URL: "http://x/Contacts", StatusCode: 500, Message: "boom"}
	assert.Equal(t, "query http://x/Contacts: status 500: boom", err.Error())
	err = &NetworkError{Op: "save", URL: "http://x/$batch", StatusCode: 404, Message: "contact not found", ContentID: "c1"}
	assert.Equal(t, "save http://x/$batch: status 404: contact not found (change c1)", err.Error())
	err = &NetworkError{Op: "query", URL: "http://x/Contacts", Err: context.DeadlineExceeded}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, err.Retryable())
}
