// Package schema models namespace definitions: ordered, typed field lists
// registered under a namespace name. The database backends derive their
// table layout from these definitions and the expression analyzer resolves
// property references against them.
package schema

import (
	"regexp"
	"sort"
	"sync"

	"github.com/muninn-archive/muninn/internal/errs"
	"github.com/muninn-archive/muninn/internal/value"
)

var identifierRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Field is one named, typed slot in a namespace.
type Field struct {
	Name     string
	Type     value.Type
	Optional bool
	Indexed  bool
}

// Namespace is an ordered field list registered under a lowercase name.
// Field order is definition order and is stable across lookups.
type Namespace struct {
	Name   string
	fields []Field
	byName map[string]int
}

// NewNamespace validates the namespace name and fields and builds the
// definition. The field name "uuid" is reserved on every namespace; the
// backends add it as the product key column.
func NewNamespace(name string, fields []Field) (*Namespace, error) {
	if !identifierRe.MatchString(name) {
		return nil, errs.Schema("invalid namespace name %q", name)
	}
	ns := &Namespace{Name: name, byName: make(map[string]int, len(fields))}
	for _, f := range fields {
		if !identifierRe.MatchString(f.Name) {
			return nil, errs.Schema("invalid field name %q in namespace %q", f.Name, name)
		}
		if f.Name == "uuid" && name != "core" {
			return nil, errs.Schema("field name \"uuid\" is reserved")
		}
		if _, dup := ns.byName[f.Name]; dup {
			return nil, errs.Schema("duplicate field %q in namespace %q", f.Name, name)
		}
		if f.Type == value.Invalid {
			return nil, errs.Schema("field %s.%s has no type", name, f.Name)
		}
		ns.byName[f.Name] = len(ns.fields)
		ns.fields = append(ns.fields, f)
	}
	return ns, nil
}

// MustNamespace is NewNamespace for statically known definitions.
func MustNamespace(name string, fields []Field) *Namespace {
	ns, err := NewNamespace(name, fields)
	if err != nil {
		panic(err)
	}
	return ns
}

// Fields returns the fields in definition order.
func (ns *Namespace) Fields() []Field {
	out := make([]Field, len(ns.fields))
	copy(out, ns.fields)
	return out
}

// Field looks up a field by name.
func (ns *Namespace) Field(name string) (Field, bool) {
	i, ok := ns.byName[name]
	if !ok {
		return Field{}, false
	}
	return ns.fields[i], true
}

// Validate checks a property map against the definition. When partial is
// true, missing mandatory fields are allowed (updates touch a subset).
func (ns *Namespace) Validate(props map[string]any, partial bool) error {
	for name, v := range props {
		f, ok := ns.Field(name)
		if !ok {
			return errs.Schema("no field %q in namespace %q", name, ns.Name)
		}
		if v == nil {
			if !f.Optional {
				return errs.Schema("field %s.%s is mandatory", ns.Name, name)
			}
			continue
		}
		if !value.Check(f.Type, v) {
			return errs.Schema("field %s.%s requires %s, got %T", ns.Name, name, f.Type, v)
		}
	}
	if !partial {
		for _, f := range ns.fields {
			if f.Optional {
				continue
			}
			if v, ok := props[f.Name]; !ok || v == nil {
				return errs.Schema("field %s.%s is mandatory", ns.Name, f.Name)
			}
		}
	}
	return nil
}

// Registry maps namespace names to definitions. The core namespace is
// always present.
type Registry struct {
	mu         sync.RWMutex
	namespaces map[string]*Namespace
}

// NewRegistry builds a registry preloaded with the core namespace.
func NewRegistry() *Registry {
	return &Registry{namespaces: map[string]*Namespace{"core": Core()}}
}

// Register adds a namespace definition. Re-registering a name is an error;
// the catalogue table layout is derived from the definition once.
func (r *Registry) Register(ns *Namespace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.namespaces[ns.Name]; exists {
		return errs.Schema("namespace %q already registered", ns.Name)
	}
	r.namespaces[ns.Name] = ns
	return nil
}

// Namespace resolves a registered definition.
func (r *Registry) Namespace(name string) (*Namespace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ns, ok := r.namespaces[name]
	if !ok {
		return nil, errs.Schema("undefined namespace %q", name)
	}
	return ns, nil
}

// Has reports whether a namespace is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.namespaces[name]
	return ok
}

// Names returns the registered namespace names sorted, core first.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.namespaces))
	for name := range r.namespaces {
		if name != "core" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{"core"}, names...)
}
