package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/metadata"
	"gitlab.com/dirk.krummacker/listdata-contacts/pkg/model"
	"go.uber.org/zap"
)

// DefaultTimeout bounds every round trip unless WithTimeout says otherwise.
const DefaultTimeout = 30 * time.Second

// batchPath is the save endpoint relative to the service root.
const batchPath = "$batch"

// DataService points a session at the root of a list-data service, e.g.
// http://yoursite/_vti_bin/listdata.svc.
type DataService struct {
	ServiceName string

	// HasServerMetadata asks the session to download the type description from the service.
	// Types are always described statically here, so it must be false.
	HasServerMetadata bool
}

type settings struct {
	timeout    time.Duration
	logger     *zap.Logger
	httpClient *http.Client
}

// Option configures a session.
type Option func(*settings)

// WithTimeout sets the upper bound of a single round trip.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithLogger sets the logger for round trips and saves.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithHTTPClient replaces the underlying HTTP client, e.g. one with a custom transport.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// Session binds one entity type to one remote collection. It keeps every entity it has seen in a
// local cache and collects pending creates, updates and deletes until SaveChanges submits them.
// A session is safe for concurrent use.
type Session struct {
	rest       *resty.Client
	baseURL    string
	entityType *metadata.EntityType
	logger     *zap.Logger
	timeout    time.Duration

	mu       sync.Mutex
	entities map[int64]*Entity
	added    []*Entity

	// saveMu serializes SaveChanges so a pending change is never submitted twice.
	saveMu sync.Mutex
}

// NewSession creates a session for the named entity type of the store.
func NewSession(ds DataService, store *metadata.Store, typeName string, opts ...Option) (*Session, error) {
	if ds.HasServerMetadata {
		return nil, ErrServerMetadataUnsupported
	}
	u, err := url.Parse(ds.ServiceName)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid service name %q", ds.ServiceName)
	}
	entityType, err := store.EntityType(typeName)
	if err != nil {
		return nil, err
	}
	if err := entityType.Bind(model.Contact{}); err != nil {
		return nil, err
	}

	cfg := settings{timeout: DefaultTimeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	var rest *resty.Client
	if cfg.httpClient != nil {
		rest = resty.NewWithClient(cfg.httpClient)
	} else {
		rest = resty.New()
	}
	baseURL := strings.TrimRight(ds.ServiceName, "/")
	rest.SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetLogger(cfg.logger.Sugar())

	return &Session{
		rest:       rest,
		baseURL:    baseURL,
		entityType: entityType,
		logger:     cfg.logger.With(zap.String("entity_type", entityType.Name())),
		timeout:    cfg.timeout,
		entities:   make(map[int64]*Entity),
	}, nil
}

// EntityType returns the type this session is bound to.
func (s *Session) EntityType() *metadata.EntityType {
	return s.entityType
}

// Query describes an unfiltered read of a collection.
type Query struct {
	// Resource defaults to the entity type's resource name.
	Resource string
	// Select defaults to the entity type's default projection.
	Select  string
	OrderBy string
	Top     int
	Skip    int
}

// Query reads the collection and merges the results into the cache. Entities with local changes
// keep their local values.
func (s *Session) Query(ctx context.Context, q Query) ([]*Entity, error) {
	if q.Resource == "" {
		q.Resource = s.entityType.DefaultResourceName()
	}
	if q.Select == "" {
		q.Select = s.entityType.DefaultSelect()
	}
	props, err := s.entityType.ParseSelect(q.Select)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Resource, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var envelope model.CollectionEnvelope
	var apiErr model.ErrorResponse
	req := s.rest.R().
		SetContext(ctx).
		SetQueryParam("$select", q.Select).
		SetResult(&envelope).
		SetError(&apiErr)
	if q.OrderBy != "" {
		req.SetQueryParam("$orderby", q.OrderBy)
	}
	if q.Top > 0 {
		req.SetQueryParam("$top", strconv.Itoa(q.Top))
	}
	if q.Skip > 0 {
		req.SetQueryParam("$skip", strconv.Itoa(q.Skip))
	}
	started := time.Now()
	resp, err := req.Get(q.Resource)
	if err := s.roundTripError("query", q.Resource, resp, err, &apiErr); err != nil {
		s.logger.Warn("query failed", zap.String("resource", q.Resource), zap.Error(err))
		return nil, err
	}

	entities := s.merge(envelope.D.Results, names(props))
	s.logger.Debug("query",
		zap.String("resource", q.Resource),
		zap.Int("count", len(entities)),
		zap.Duration("duration", time.Since(started)),
	)
	return entities, nil
}

// FetchResult is the outcome of FetchEntityByKey. FromCache tells whether the entity was served
// from the local cache or from the service.
type FetchResult struct {
	Entity    *Entity
	FromCache bool
}

// FetchEntityByKey returns the entity with the given key. With checkLocalCacheFirst the cache is
// consulted before the service; entities marked for deletion are never served from cache.
func (s *Session) FetchEntityByKey(ctx context.Context, key int64, checkLocalCacheFirst bool) (FetchResult, error) {
	if checkLocalCacheFirst {
		s.mu.Lock()
		e, ok := s.entities[key]
		ok = ok && e.state != Deleted
		s.mu.Unlock()
		if ok {
			s.logger.Debug("fetch served from cache", zap.Int64("key", key))
			return FetchResult{Entity: e, FromCache: true}, nil
		}
	}

	resource := s.entityType.DefaultResourceName()
	sel := s.entityType.DefaultSelect()
	props, err := s.entityType.ParseSelect(sel)
	if err != nil {
		return FetchResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var envelope model.EntityEnvelope
	var apiErr model.ErrorResponse
	path := resource + "/" + strconv.FormatInt(key, 10)
	resp, err := s.rest.R().
		SetContext(ctx).
		SetQueryParam("$select", sel).
		SetResult(&envelope).
		SetError(&apiErr).
		Get(path)
	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return FetchResult{}, fmt.Errorf("fetch %s %d: %w", s.entityType.Name(), key, ErrNotFound)
	}
	if err := s.roundTripError("fetch", path, resp, err, &apiErr); err != nil {
		s.logger.Warn("fetch failed", zap.Int64("key", key), zap.Error(err))
		return FetchResult{}, err
	}

	entities := s.merge([]model.Contact{envelope.D}, names(props))
	s.logger.Debug("fetch served from server", zap.Int64("key", key))
	return FetchResult{Entity: entities[0]}, nil
}

// CreateEntity adds a new entity to the session. It is sent to the service on the next save,
// which assigns its id.
func (s *Session) CreateEntity(c model.Contact) (*Entity, error) {
	if c.Id != 0 {
		return nil, fmt.Errorf("create %s with id %d: %w", s.entityType.Name(), c.Id, ErrIdentityAssigned)
	}
	e := &Entity{session: s, tempKey: uuid.NewString(), state: Added, current: c}
	s.mu.Lock()
	s.added = append(s.added, e)
	s.mu.Unlock()
	return e, nil
}

// HasChanges reports whether a save would submit anything.
func (s *Session) HasChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.added) > 0 {
		return true
	}
	for _, e := range s.entities {
		if e.state == Modified || e.state == Deleted {
			return true
		}
	}
	return false
}

// RejectChanges drops every pending change: added entities are detached, modified and deleted
// ones get their original values back.
func (s *Session) RejectChanges() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range append([]*Entity(nil), s.added...) {
		e.rejectLocked()
	}
	for _, e := range s.entities {
		e.rejectLocked()
	}
}

// CachedEntities returns every attached entity: saved ones ordered by key, then added ones in
// creation order.
func (s *Session) CachedEntities() []*Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entity, 0, len(s.entities)+len(s.added))
	for _, e := range s.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].current.Id < out[j].current.Id })
	return append(out, s.added...)
}

// SaveResult lists the entities a save submitted.
type SaveResult struct {
	Entities []*Entity
}

type pendingChange struct {
	entity   *Entity
	change   model.Change
	snapshot model.Contact
}

// SaveChanges validates all pending changes and submits them to the service in one batch. If
// validation fails nothing is sent. The batch is applied by the service as a whole; local state
// only changes after the whole batch succeeded.
func (s *Session) SaveChanges(ctx context.Context) (SaveResult, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	pending, err := s.collectPending()
	if err != nil {
		return SaveResult{}, err
	}
	if len(pending) == 0 {
		return SaveResult{}, nil
	}

	batch := model.SaveBatch{Changes: make([]model.Change, 0, len(pending))}
	for _, p := range pending {
		batch.Changes = append(batch.Changes, p.change)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	requestID := uuid.NewString()
	var result model.SaveResult
	var apiErr model.ErrorResponse
	resp, err := s.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Request-ID", requestID).
		SetBody(batch).
		SetResult(&result).
		SetError(&apiErr).
		Post(batchPath)
	if err := s.roundTripError("save", batchPath, resp, err, &apiErr); err != nil {
		s.logger.Error("save failed",
			zap.String("request_id", requestID),
			zap.Int("changes", len(pending)),
			zap.Error(err),
		)
		return SaveResult{}, err
	}

	byContentID := make(map[string]model.ChangeResult, len(result.Results))
	for _, r := range result.Results {
		byContentID[r.ContentID] = r
	}
	for _, p := range pending {
		if _, ok := byContentID[p.change.ContentID]; !ok {
			return SaveResult{}, &NetworkError{
				Op:         "save",
				URL:        s.baseURL + "/" + batchPath,
				StatusCode: resp.StatusCode(),
				Message:    "no result for change",
				ContentID:  p.change.ContentID,
			}
		}
	}

	saved := s.applySaved(pending, byContentID)
	s.logger.Info("saved changes",
		zap.String("request_id", requestID),
		zap.Int("changes", len(pending)),
	)
	return SaveResult{Entities: saved}, nil
}

// collectPending snapshots the pending changes in submission order: creates, updates, deletes.
func (s *Session) collectPending() ([]pendingChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []pendingChange
	var errs []error
	for _, e := range s.added {
		if err := s.entityType.Validate(e.current); err != nil {
			errs = append(errs, err)
			continue
		}
		c := e.current
		pending = append(pending, pendingChange{
			entity:   e,
			snapshot: c,
			change:   model.Change{ContentID: e.tempKey, Operation: model.OperationCreate, Contact: &c},
		})
	}

	keys := make([]int64, 0, len(s.entities))
	for k := range s.entities {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var deletes []pendingChange
	for _, k := range keys {
		e := s.entities[k]
		switch e.state {
		case Modified:
			changed := e.changedProperties()
			if err := s.entityType.ValidateProperties(e.current, changed...); err != nil {
				errs = append(errs, err)
				continue
			}
			partial := model.Contact{Id: k}
			assign(&partial, e.current, changed)
			pending = append(pending, pendingChange{
				entity:   e,
				snapshot: e.current,
				change:   model.Change{ContentID: uuid.NewString(), Operation: model.OperationUpdate, Id: k, Contact: &partial},
			})
		case Deleted:
			deletes = append(deletes, pendingChange{
				entity:   e,
				snapshot: e.current,
				change:   model.Change{ContentID: uuid.NewString(), Operation: model.OperationDelete, Id: k},
			})
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return append(pending, deletes...), nil
}

// applySaved moves the submitted entities into their saved state. Entities changed while the
// batch was in flight stay modified.
func (s *Session) applySaved(pending []pendingChange, results map[string]model.ChangeResult) []*Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := make([]*Entity, 0, len(pending))
	for _, p := range pending {
		e := p.entity
		r := results[p.change.ContentID]
		switch p.change.Operation {
		case model.OperationCreate:
			if e.state != Added {
				// Deleted locally while the create was in flight.
				continue
			}
			s.removeAddedLocked(e)
			e.current.Id = r.Id
			e.original = p.snapshot
			e.original.Id = r.Id
			s.entities[r.Id] = e
		case model.OperationUpdate:
			e.original = p.snapshot
		case model.OperationDelete:
			delete(s.entities, p.change.Id)
			e.state = Detached
			saved = append(saved, e)
			continue
		}
		if e.state != Deleted {
			if e.current == e.original {
				e.state = Unchanged
			} else {
				e.state = Modified
			}
		}
		saved = append(saved, e)
	}
	return saved
}

func (s *Session) removeAddedLocked(e *Entity) {
	for i, a := range s.added {
		if a == e {
			s.added = append(s.added[:i], s.added[i+1:]...)
			return
		}
	}
}

// merge attaches server records to the cache and returns the attached entities in order. Only
// the projected properties are copied.
func (s *Session) merge(contacts []model.Contact, projected []string) []*Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Entity, 0, len(contacts))
	for _, c := range contacts {
		e, ok := s.entities[c.Id]
		if !ok {
			e = &Entity{session: s, state: Unchanged}
			s.entities[c.Id] = e
		}
		if e.state == Unchanged {
			assign(&e.current, c, projected)
			e.original = e.current
		}
		out = append(out, e)
	}
	return out
}

// roundTripError turns a transport error or a non-success response into a *NetworkError.
func (s *Session) roundTripError(op, path string, resp *resty.Response, err error, apiErr *model.ErrorResponse) error {
	u := s.baseURL + "/" + path
	if err != nil {
		return &NetworkError{Op: op, URL: u, Err: err}
	}
	if resp.IsError() {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		return &NetworkError{Op: op, URL: u, StatusCode: resp.StatusCode(), Message: msg, ContentID: apiErr.ContentID}
	}
	return nil
}

func names(props []metadata.DataProperty) []string {
	out := make([]string, 0, len(props))
	for _, p := range props {
		out = append(out, p.Name)
	}
	return out
}
