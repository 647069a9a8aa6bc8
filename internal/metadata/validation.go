package metadata

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Record is a typed record whose property values can be looked up by property name.
type Record interface {
	Value(property string) (any, bool)
}

// FieldError describes one property that failed validation.
type FieldError struct {
	Property string
	Tag      string
	Message  string
}

// ValidationError is returned when a record does not satisfy its entity type.
type ValidationError struct {
	EntityType string
	Fields     []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, fmt.Sprintf("%s %s", f.Property, f.Message))
	}
	return fmt.Sprintf("validation failed for %s: %s", e.EntityType, strings.Join(msgs, "; "))
}

var validate = validator.New()

// Bind checks that the record exposes every mapped property of the type with a value of the
// right kind.
func (t *EntityType) Bind(r Record) error {
	for _, p := range t.properties {
		if p.IsUnmapped {
			continue
		}
		v, ok := r.Value(p.Name)
		if !ok {
			return fmt.Errorf("%w: %T has no property %s", ErrInvalidType, r, p.Name)
		}
		if !kindMatches(p.Type, v) {
			return fmt.Errorf("%w: %T.%s is %T, want %s", ErrInvalidType, r, p.Name, v, p.Type)
		}
	}
	return nil
}

func kindMatches(t DataType, v any) bool {
	switch t {
	case String:
		_, ok := v.(string)
		return ok
	case Int32:
		switch v.(type) {
		case int, int32, int64:
			return true
		}
	}
	return false
}

// Validate checks every mapped, non-key property of the record.
func (t *EntityType) Validate(r Record) error {
	names := make([]string, 0, len(t.properties))
	for _, p := range t.properties {
		if !p.IsKey && !p.IsUnmapped {
			names = append(names, p.Name)
		}
	}
	return t.ValidateProperties(r, names...)
}

// ValidateProperties checks only the named properties. Unknown names are reported as failures.
func (t *EntityType) ValidateProperties(r Record, names ...string) error {
	var fields []FieldError
	for _, name := range names {
		p, ok := t.Property(name)
		if !ok {
			fields = append(fields, FieldError{Property: name, Tag: "unknown", Message: "is not a property"})
			continue
		}
		tag := p.validationTag()
		if tag == "" {
			continue
		}
		v, _ := r.Value(name)
		if err := validate.Var(v, tag); err != nil {
			var verrs validator.ValidationErrors
			if !errors.As(err, &verrs) {
				return fmt.Errorf("validate %s.%s: %w", t.name, name, err)
			}
			for _, fe := range verrs {
				fields = append(fields, FieldError{Property: name, Tag: fe.Tag(), Message: message(fe)})
			}
		}
	}
	if len(fields) > 0 {
		return &ValidationError{EntityType: t.name, Fields: fields}
	}
	return nil
}

// validationTag turns nullability and validators into a validator tag.
func (p DataProperty) validationTag() string {
	var parts []string
	if !p.Nullable {
		parts = append(parts, "required")
	} else if len(p.Validators) > 0 {
		parts = append(parts, "omitempty")
	}
	parts = append(parts, p.Validators...)
	return strings.Join(parts, ",")
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return fmt.Sprintf("must be at most %s characters long", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters long", fe.Param())
	}
	return fmt.Sprintf("failed on %q", fe.Tag())
}
