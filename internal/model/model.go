package model

import (
	"gitlab.com/dirk.krummacker/listdata-contacts/pkg/model"
)

// Contact is a row of the contacts list as it is stored in the database. The column names are
// the legacy list field names: the last name lives in the 'title' column.
// All fields with the exception of the Id field are optional.
type Contact struct {
	Id        int64   `db:"id"`
	FirstName *string `db:"firstname"`
	Title     *string `db:"title"`
	Email     *string `db:"email"`
}

// ToWire converts the row into its wire representation.
func (c Contact) ToWire() model.Contact {
	return model.Contact{
		Id:           c.Id,
		FirstName:    deref(c.FirstName),
		LastName:     deref(c.Title),
		EmailAddress: deref(c.Email),
	}
}

// FromWire converts a wire contact into a row. Empty strings become nil, so that a partial
// update only touches the columns that were actually submitted.
func FromWire(c model.Contact) Contact {
	return Contact{
		Id:        c.Id,
		FirstName: ref(c.FirstName),
		Title:     ref(c.LastName),
		Email:     ref(c.EmailAddress),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
