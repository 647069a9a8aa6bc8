// Package listdatatest provides an in-memory list-data service for tests. It speaks the same wire
// protocol as internal/service but keeps the contacts in a slice and records every request.
package listdatatest

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gitlab.com/dirk.krummacker/listdata-contacts/pkg/model"
)

// ServicePath is where the fake mounts the service root.
const ServicePath = "/_vti_bin/listdata.svc"

// Server is an in-memory list-data service.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	contacts []model.Contact
	nextID   int64
	requests []string
	failNext int
	failMsg  string
	failSave int
	delay    time.Duration
}

// NewServer starts a fake service seeded with the given contacts. Seeded contacts without id get
// one assigned. The server is closed when the test ends.
func NewServer(t testing.TB, seed ...model.Contact) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := &Server{nextID: 1}
	for _, c := range seed {
		if c.Id == 0 {
			c.Id = s.nextID
		}
		if c.Id >= s.nextID {
			s.nextID = c.Id + 1
		}
		s.contacts = append(s.contacts, c)
	}

	router := gin.New()
	root := router.Group(ServicePath, s.record)
	root.GET("/Contacts", s.list)
	root.GET("/Contacts/:id", s.get)
	root.POST("/$batch", s.batch)
	s.Server = httptest.NewServer(router)
	t.Cleanup(s.Close)
	return s
}

// ServiceName is the service root URL to hand to a client session.
func (s *Server) ServiceName() string {
	return s.URL + ServicePath
}

// Requests returns "METHOD path" for every request received so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Contacts returns the stored contacts ordered by id.
func (s *Server) Contacts() []model.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Contact(nil), s.contacts...)
}

// FailNext makes the next request fail with the given status.
func (s *Server) FailNext(status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = status
	s.failMsg = message
}

// FailNextSave makes the next save batch fail with the given status. Reads still succeed.
func (s *Server) FailNextSave(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSave = status
}

// SetDelay delays every response, or until the client gives up.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

func (s *Server) record(c *gin.Context) {
	s.mu.Lock()
	s.requests = append(s.requests, c.Request.Method+" "+c.Request.URL.Path)
	status, msg, delay := s.failNext, s.failMsg, s.delay
	s.failNext, s.failMsg = 0, ""
	if status == 0 && s.failSave != 0 && strings.HasSuffix(c.Request.URL.Path, "/$batch") {
		status, msg = s.failSave, "save failed"
		s.failSave = 0
	}
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-c.Request.Context().Done():
			c.Abort()
			return
		}
	}
	if status != 0 {
		c.AbortWithStatusJSON(status, model.ErrorResponse{Message: msg})
	}
}

func (s *Server) list(c *gin.Context) {
	contacts := s.Contacts()
	if top, err := strconv.Atoi(c.Query("$top")); err == nil && top < len(contacts) {
		contacts = contacts[:top]
	}
	var envelope model.CollectionEnvelope
	envelope.D.Results = contacts
	if envelope.D.Results == nil {
		envelope.D.Results = []model.Contact{}
	}
	c.JSON(http.StatusOK, envelope)
}

func (s *Server) get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, model.ErrorResponse{Message: "invalid id parameter"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		c.JSON(http.StatusOK, model.EntityEnvelope{D: s.contacts[i]})
		return
	}
	c.AbortWithStatusJSON(http.StatusNotFound, model.ErrorResponse{Message: "contact not found"})
}

// batch applies the changes to a copy and only keeps it if every change succeeded.
func (s *Server) batch(c *gin.Context) {
	var batch model.SaveBatch
	if err := c.BindJSON(&batch); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, model.ErrorResponse{Message: "invalid JSON"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	contacts := append([]model.Contact(nil), s.contacts...)
	nextID := s.nextID
	var result model.SaveResult
	for _, ch := range batch.Changes {
		r := model.ChangeResult{ContentID: ch.ContentID, Operation: ch.Operation, Id: ch.Id}
		i := -1
		for j := range contacts {
			if contacts[j].Id == ch.Id {
				i = j
			}
		}
		switch {
		case ch.Operation == model.OperationCreate && ch.Contact != nil:
			created := *ch.Contact
			created.Id = nextID
			nextID++
			contacts = append(contacts, created)
			r.Id = created.Id
		case ch.Operation == model.OperationUpdate && ch.Contact != nil && i >= 0:
			if ch.Contact.FirstName != "" {
				contacts[i].FirstName = ch.Contact.FirstName
			}
			if ch.Contact.LastName != "" {
				contacts[i].LastName = ch.Contact.LastName
			}
			if ch.Contact.EmailAddress != "" {
				contacts[i].EmailAddress = ch.Contact.EmailAddress
			}
		case ch.Operation == model.OperationDelete && i >= 0:
			contacts = append(contacts[:i], contacts[i+1:]...)
		default:
			c.AbortWithStatusJSON(http.StatusNotFound, model.ErrorResponse{Message: "contact not found", ContentID: ch.ContentID})
			return
		}
		result.Results = append(result.Results, r)
	}
	s.contacts = contacts
	s.nextID = nextID
	c.JSON(http.StatusOK, result)
}

func (s *Server) indexLocked(id int64) int {
	for i, c := range s.contacts {
		if c.Id == id {
			return i
		}
	}
	return -1
}
