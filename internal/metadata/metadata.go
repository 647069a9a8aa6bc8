package metadata

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// DataType is the semantic type of a data property.
type DataType int

const (
	String DataType = iota
	Int32
)

func (t DataType) String() string {
	switch t {
	case String:
		return "String"
	case Int32:
		return "Int32"
	}
	return fmt.Sprintf("DataType(%d)", int(t))
}

// DataProperty describes one field of an entity type.
//
// Name is the property name used on the wire and in projections. Column is the name of the
// backing field of the legacy list; it defaults to the lower-cased Name. Validators are
// go-playground/validator tags such as "email" or "max=255". A property that is not Nullable is
// implicitly required.
type DataProperty struct {
	Name       string
	Column     string
	Type       DataType
	Nullable   bool
	IsKey      bool
	IsUnmapped bool
	Validators []string
}

// TypeDef is the input to Store.AddType.
type TypeDef struct {
	Name                string
	DefaultResourceName string
	Properties          []DataProperty

	// DefaultSelect, if set, is used verbatim instead of the derived projection.
	DefaultSelect string
}

// EntityType is the immutable description of a record type.
type EntityType struct {
	name          string
	resourceName  string
	properties    []DataProperty
	byName        map[string]int
	explicitSel   string
	selectOnce    sync.Once
	defaultSelect string
}

var (
	ErrDuplicateType = errors.New("entity type already defined")
	ErrUnknownType   = errors.New("unknown entity type")
	ErrInvalidType   = errors.New("invalid entity type definition")
)

// Store holds the entity types known to a session.
type Store struct {
	mu    sync.RWMutex
	types map[string]*EntityType
}

// NewStore returns an empty metadata store.
func NewStore() *Store {
	return &Store{types: make(map[string]*EntityType)}
}

// AddType creates an entity type from the definition and registers it in the store.
func (s *Store) AddType(def TypeDef) (*EntityType, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidType)
	}
	if len(def.Properties) == 0 {
		return nil, fmt.Errorf("%w: %s has no properties", ErrInvalidType, def.Name)
	}

	t := &EntityType{
		name:         def.Name,
		resourceName: def.DefaultResourceName,
		properties:   make([]DataProperty, 0, len(def.Properties)),
		byName:       make(map[string]int, len(def.Properties)),
		explicitSel:  def.DefaultSelect,
	}
	if t.resourceName == "" {
		t.resourceName = def.Name
	}
	hasKey := false
	for _, p := range def.Properties {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: %s has a property without name", ErrInvalidType, def.Name)
		}
		if _, ok := t.byName[p.Name]; ok {
			return nil, fmt.Errorf("%w: %s declares %s twice", ErrInvalidType, def.Name, p.Name)
		}
		if p.Column == "" {
			p.Column = strings.ToLower(p.Name)
		}
		p.Validators = append([]string(nil), p.Validators...)
		hasKey = hasKey || p.IsKey
		t.byName[p.Name] = len(t.properties)
		t.properties = append(t.properties, p)
	}
	if !hasKey {
		return nil, fmt.Errorf("%w: %s has no key property", ErrInvalidType, def.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.types[def.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateType, def.Name)
	}
	s.types[def.Name] = t
	return t, nil
}

// EntityType returns the registered type with the given name.
func (s *Store) EntityType(name string) (*EntityType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return t, nil
}

// Name returns the entity type's name.
func (t *EntityType) Name() string { return t.name }

// DefaultResourceName is the name of the remote collection that holds records of this type.
func (t *EntityType) DefaultResourceName() string { return t.resourceName }

// Properties returns a copy of the property list in declaration order.
func (t *EntityType) Properties() []DataProperty {
	out := make([]DataProperty, len(t.properties))
	copy(out, t.properties)
	return out
}

// Property looks up a property by name.
func (t *EntityType) Property(name string) (DataProperty, bool) {
	i, ok := t.byName[name]
	if !ok {
		return DataProperty{}, false
	}
	return t.properties[i], true
}

// KeyProperty returns the first property flagged as key.
func (t *EntityType) KeyProperty() DataProperty {
	for _, p := range t.properties {
		if p.IsKey {
			return p
		}
	}
	// AddType guarantees a key.
	panic("metadata: entity type " + t.name + " has no key")
}

// DefaultSelect is the comma-joined list of all mapped property names, used as the projection
// when a query does not name one. It is derived once; an explicitly defined list wins.
func (t *EntityType) DefaultSelect() string {
	t.selectOnce.Do(func() {
		if t.explicitSel != "" {
			t.defaultSelect = t.explicitSel
			return
		}
		names := make([]string, 0, len(t.properties))
		for _, p := range t.properties {
			if !p.IsUnmapped {
				names = append(names, p.Name)
			}
		}
		t.defaultSelect = strings.Join(names, ",")
	})
	return t.defaultSelect
}

// ParseSelect resolves a comma separated projection into properties. The key property is always
// part of the result, first. An empty projection means the default one.
func (t *EntityType) ParseSelect(sel string) ([]DataProperty, error) {
	if strings.TrimSpace(sel) == "" {
		sel = t.DefaultSelect()
	}
	key := t.KeyProperty()
	out := []DataProperty{key}
	seen := map[string]bool{key.Name: true}
	for _, name := range strings.Split(sel, ",") {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		p, ok := t.Property(name)
		if !ok || p.IsUnmapped {
			return nil, fmt.Errorf("unknown property %q in projection", name)
		}
		seen[name] = true
		out = append(out, p)
	}
	return out, nil
}
