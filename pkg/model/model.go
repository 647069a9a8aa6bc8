package model

// Contact is the data structure for a person that we know, as it travels over the wire between
// the list-data service and its clients. The Id is assigned by the service and never by a
// client.
type Contact struct {
	Id           int64  `json:"id"`
	FirstName    string `json:"firstName,omitempty"`
	LastName     string `json:"lastName,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
}

// Value returns the value of the property with the given wire name. The second return value is
// false if the contact has no such property.
func (c Contact) Value(property string) (any, bool) {
	switch property {
	case "id":
		return c.Id, true
	case "firstName":
		return c.FirstName, true
	case "lastName":
		return c.LastName, true
	case "emailAddress":
		return c.EmailAddress, true
	}
	return nil, false
}

// Operation is the kind of change submitted in a save batch.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Change is a single pending create, update or delete within a save batch. For updates, only
// the properties that changed are set on Contact.
type Change struct {
	ContentID string    `json:"contentId"`
	Operation Operation `json:"operation"`
	Id        int64     `json:"id,omitempty"`
	Contact   *Contact  `json:"contact,omitempty"`
}

// SaveBatch is the body of a save request. All changes are applied together or not at all.
type SaveBatch struct {
	Changes []Change `json:"changes"`
}

// ChangeResult reports the outcome of one change. For creates, Id is the newly assigned id.
type ChangeResult struct {
	ContentID string    `json:"contentId"`
	Operation Operation `json:"operation"`
	Id        int64     `json:"id"`
}

// SaveResult is the body of a successful save response.
type SaveResult struct {
	Results []ChangeResult `json:"results"`
}

// CollectionEnvelope wraps a query result the way the legacy list endpoint does:
// {"d": {"results": [...]}}.
type CollectionEnvelope struct {
	D struct {
		Results []Contact `json:"results"`
	} `json:"d"`
}

// EntityEnvelope wraps a single record: {"d": {...}}.
type EntityEnvelope struct {
	D Contact `json:"d"`
}

// ErrorResponse is the body of every non-success response of the list-data service.
type ErrorResponse struct {
	Message   string `json:"message"`
	ContentID string `json:"contentId,omitempty"`
}
