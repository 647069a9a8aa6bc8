package metadata

// ContactTypeName is the name of the contact entity type.
const ContactTypeName = "Contacts"

// ContactTypeDef describes the contacts list. The last name is stored in the list's 'title'
// field.
func ContactTypeDef() TypeDef {
	return TypeDef{
		Name:                ContactTypeName,
		DefaultResourceName: "Contacts",
		Properties: []DataProperty{
			{Name: "id", Column: "id", Type: Int32, IsKey: true},
			{Name: "firstName", Column: "firstname", Type: String, Validators: []string{"max=255"}},
			{Name: "lastName", Column: "title", Type: String, Validators: []string{"max=255"}},
			{Name: "emailAddress", Column: "email", Type: String, Validators: []string{"email", "max=255"}},
		},
	}
}

// NewContactStore returns a metadata store that holds the contact type.
func NewContactStore() (*Store, error) {
	store := NewStore()
	if _, err := store.AddType(ContactTypeDef()); err != nil {
		return nil, err
	}
	return store, nil
}
