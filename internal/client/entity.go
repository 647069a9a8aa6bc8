package client

import (
	"fmt"

	"gitlab.com/dirk.krummacker/listdata-contacts/pkg/model"
)

// EntityState is the persistence state of an entity within its session.
type EntityState int

const (
	Detached EntityState = iota
	Unchanged
	Added
	Modified
	Deleted
)

func (s EntityState) String() string {
	switch s {
	case Detached:
		return "Detached"
	case Unchanged:
		return "Unchanged"
	case Added:
		return "Added"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	}
	return fmt.Sprintf("EntityState(%d)", int(s))
}

// Entity is a contact attached to a session. All reads and writes go through the session's lock,
// so an entity may be shared between goroutines.
type Entity struct {
	session  *Session
	tempKey  string
	state    EntityState
	current  model.Contact
	original model.Contact
}

// Key is the server-assigned id, or 0 while the entity has not been saved yet.
func (e *Entity) Key() int64 {
	e.session.mu.Lock()
	defer e.session.mu.Unlock()
	return e.current.Id
}

// TempKey identifies an added entity until the server assigns its id.
func (e *Entity) TempKey() string {
	return e.tempKey
}

// State returns the entity's current change state.
func (e *Entity) State() EntityState {
	e.session.mu.Lock()
	defer e.session.mu.Unlock()
	return e.state
}

// Contact returns a copy of the entity's current values.
func (e *Entity) Contact() model.Contact {
	e.session.mu.Lock()
	defer e.session.mu.Unlock()
	return e.current
}

// SetFirstName changes the first name and marks the entity as modified.
func (e *Entity) SetFirstName(v string) error {
	return e.set(func(c *model.Contact) { c.FirstName = v })
}

// SetLastName changes the last name and marks the entity as modified.
func (e *Entity) SetLastName(v string) error {
	return e.set(func(c *model.Contact) { c.LastName = v })
}

// SetEmailAddress changes the email address and marks the entity as modified.
func (e *Entity) SetEmailAddress(v string) error {
	return e.set(func(c *model.Contact) { c.EmailAddress = v })
}

func (e *Entity) set(mutate func(c *model.Contact)) error {
	e.session.mu.Lock()
	defer e.session.mu.Unlock()
	switch e.state {
	case Detached, Deleted:
		return fmt.Errorf("modify %s entity: %w", e.state, ErrDetached)
	}
	mutate(&e.current)
	if e.state == Added {
		return nil
	}
	if e.current == e.original {
		e.state = Unchanged
	} else {
		e.state = Modified
	}
	return nil
}

// SetDeleted marks the entity for deletion on the next save. An added entity that was never
// saved is simply detached.
func (e *Entity) SetDeleted() error {
	e.session.mu.Lock()
	defer e.session.mu.Unlock()
	switch e.state {
	case Detached:
		return fmt.Errorf("delete entity: %w", ErrDetached)
	case Added:
		e.session.removeAddedLocked(e)
		e.state = Detached
	case Unchanged, Modified:
		e.state = Deleted
	}
	return nil
}

// RejectChanges drops the pending change of this entity only. A modified or deleted entity gets
// its original values back; an added one is detached.
func (e *Entity) RejectChanges() {
	e.session.mu.Lock()
	defer e.session.mu.Unlock()
	e.rejectLocked()
}

func (e *Entity) rejectLocked() {
	switch e.state {
	case Added:
		e.session.removeAddedLocked(e)
		e.state = Detached
	case Modified, Deleted:
		e.current = e.original
		e.state = Unchanged
	}
}

// changedProperties lists the properties whose current value differs from the original one.
func (e *Entity) changedProperties() []string {
	var changed []string
	if e.current.FirstName != e.original.FirstName {
		changed = append(changed, "firstName")
	}
	if e.current.LastName != e.original.LastName {
		changed = append(changed, "lastName")
	}
	if e.current.EmailAddress != e.original.EmailAddress {
		changed = append(changed, "emailAddress")
	}
	return changed
}

// assign copies the named properties from src to dst.
func assign(dst *model.Contact, src model.Contact, properties []string) {
	for _, p := range properties {
		switch p {
		case "id":
			dst.Id = src.Id
		case "firstName":
			dst.FirstName = src.FirstName
		case "lastName":
			dst.LastName = src.LastName
		case "emailAddress":
			dst.EmailAddress = src.EmailAddress
		}
	}
}
