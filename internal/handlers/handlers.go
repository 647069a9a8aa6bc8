// Package handlers implements the interaction flows of the contacts sample. Each flow issues its
// round trips through a shared client session and settles by rendering exactly one message, or
// one error, into the results region.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gitlab.com/dirk.krummacker/listdata-contacts/internal/client"
	"gitlab.com/dirk.krummacker/listdata-contacts/pkg/model"
	"go.uber.org/zap"
)

// Button names one of the interaction flows.
type Button string

const (
	GetAllItems     Button = "get-all"
	GetOneItem      Button = "get-one"
	UpdateFirstItem Button = "update-first"
	CreateItem      Button = "create"
	DeleteItem      Button = "delete-last"
)

// Buttons lists the flows in page order.
var Buttons = []Button{GetAllItems, GetOneItem, UpdateFirstItem, CreateItem, DeleteItem}

// NoResults is rendered when a query returns an empty collection.
const NoResults = "no contacts found"

// Options holds the sample values the flows work with.
type Options struct {
	// Key is the contact fetched by GetOneItem and updated by UpdateFirstItem.
	Key int64
	// NewLastName is what UpdateFirstItem writes.
	NewLastName string
	// NewContact is what CreateItem creates.
	NewContact model.Contact
	// CacheFirst lets GetOneItem answer from the session cache.
	CacheFirst bool
}

// DefaultOptions are the sample values the flows use without further input.
func DefaultOptions() Options {
	return Options{
		Key:         1,
		NewLastName: "NewName",
		NewContact: model.Contact{
			FirstName:    "Lewis",
			LastName:     "Hamilton",
			EmailAddress: "lewis.hamilton@mercedes.com",
		},
		CacheFirst: true,
	}
}

// Handlers runs the interaction flows against one session.
type Handlers struct {
	session *client.Session
	results Results
	options Options
	logger  *zap.Logger
}

// New returns the handlers. The session must be fully initialized.
func New(session *client.Session, results Results, options Options, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{session: session, results: results, options: options, logger: logger}
}

// Handle runs the flow behind the button and waits until it settled. The error, if any, has
// already been rendered.
func (h *Handlers) Handle(ctx context.Context, button Button) error {
	var run func(context.Context) (string, error)
	switch button {
	case GetAllItems:
		run = h.getAllItems
	case GetOneItem:
		run = h.getOneItem
	case UpdateFirstItem:
		run = h.updateFirstItem
	case CreateItem:
		run = h.createItem
	case DeleteItem:
		run = h.deleteItem
	default:
		err := fmt.Errorf("unknown button %q", button)
		h.results.ShowError(err)
		return err
	}

	message, err := run(ctx)
	if err != nil {
		h.logger.Warn("handler failed", zap.String("button", string(button)), zap.Error(err))
		h.results.ShowError(err)
		return err
	}
	h.logger.Debug("handler settled", zap.String("button", string(button)))
	h.results.Show(message)
	return nil
}

// Trigger starts the flow in its own goroutine. The channel receives the outcome once and is
// then closed. Several flows may be in flight at the same time; they settle in any order.
func (h *Handlers) Trigger(ctx context.Context, button Button) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- h.Handle(ctx, button)
	}()
	return done
}

// FormatContact renders one contact as "First Last (email)".
func FormatContact(c model.Contact) string {
	return fmt.Sprintf("%s %s (%s)", c.FirstName, c.LastName, c.EmailAddress)
}

// FormatContacts renders one line per contact, or NoResults.
func FormatContacts(entities []*client.Entity) string {
	if len(entities) == 0 {
		return NoResults
	}
	lines := make([]string, 0, len(entities))
	for _, e := range entities {
		lines = append(lines, FormatContact(e.Contact()))
	}
	return strings.Join(lines, "\n")
}

func (h *Handlers) getAllItems(ctx context.Context) (string, error) {
	entities, err := h.session.Query(ctx, client.Query{})
	if err != nil {
		return "", fmt.Errorf("get all items: %w", err)
	}
	return FormatContacts(entities), nil
}

func (h *Handlers) getOneItem(ctx context.Context) (string, error) {
	res, err := h.session.FetchEntityByKey(ctx, h.options.Key, h.options.CacheFirst)
	if err != nil {
		return "", fmt.Errorf("get item %d: %w", h.options.Key, err)
	}
	source := "server"
	if res.FromCache {
		source = "cache"
	}
	return FormatContact(res.Entity.Contact()) + "\npulled from: " + source, nil
}

func (h *Handlers) updateFirstItem(ctx context.Context) (string, error) {
	res, err := h.session.FetchEntityByKey(ctx, h.options.Key, true)
	if errors.Is(err, client.ErrNotFound) {
		entities, errQuery := h.session.Query(ctx, client.Query{Top: 1})
		if errQuery == nil && len(entities) == 0 {
			err = client.ErrEmptyCollection
		}
	}
	if err != nil {
		return "", fmt.Errorf("update first item: %w", err)
	}
	if err := res.Entity.SetLastName(h.options.NewLastName); err != nil {
		return "", fmt.Errorf("update first item: %w", err)
	}
	if _, err := h.session.SaveChanges(ctx); err != nil {
		res.Entity.RejectChanges()
		h.logger.Debug("rejected failed update", zap.Int64("key", h.options.Key))
		return "", fmt.Errorf("update first item: %w", err)
	}
	return "saved first item in list", nil
}

func (h *Handlers) createItem(ctx context.Context) (string, error) {
	entity, err := h.session.CreateEntity(h.options.NewContact)
	if err != nil {
		return "", fmt.Errorf("create item: %w", err)
	}
	if _, err := h.session.SaveChanges(ctx); err != nil {
		entity.RejectChanges()
		h.logger.Debug("dropped failed create", zap.String("temp_key", entity.TempKey()))
		return "", fmt.Errorf("create item: %w", err)
	}
	return "new item created", nil
}

func (h *Handlers) deleteItem(ctx context.Context) (string, error) {
	entities, err := h.session.Query(ctx, client.Query{})
	if err != nil {
		return "", fmt.Errorf("delete last item: %w", err)
	}
	if len(entities) == 0 {
		return "", fmt.Errorf("delete last item: %w", client.ErrEmptyCollection)
	}
	last := entities[len(entities)-1]
	if err := last.SetDeleted(); err != nil {
		return "", fmt.Errorf("delete last item: %w", err)
	}
	if _, err := h.session.SaveChanges(ctx); err != nil {
		last.RejectChanges()
		h.logger.Debug("rejected failed delete", zap.Int64("key", last.Key()))
		return "", fmt.Errorf("delete last item: %w", err)
	}
	return "last item in list deleted", nil
}
