package mts

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

var (
	typeOnce     sync.Once
	typeInstance *TypeRegistry
)

// TypeRegistry maps stable names to concrete entity types so a stored
// discriminator string can be turned back into an instance.
type TypeRegistry struct {
	mutex      sync.RWMutex
	types      map[string]reflect.Type
	names      map[reflect.Type]string
	generation uint64
}

// Types returns the singleton instance of TypeRegistry
func Types() *TypeRegistry {
	typeOnce.Do(func() {
		typeInstance = &TypeRegistry{
			types: make(map[string]reflect.Type),
			names: make(map[reflect.Type]string),
		}
	})
	return typeInstance
}

// Register adds an entity type under the given name. Registering the same
// type twice under one name is a no-op; reusing a name for another type panics.
// A type registered under several names reports the first from NameOf.
func (r *TypeRegistry) Register(name string, t reflect.Type) {
	t = indirectType(t)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if existing, ok := r.types[name]; ok {
		if existing == t {
			return
		}
		panic(fmt.Sprintf("type registry: name %q already registered for %s", name, existing))
	}
	r.types[name] = t
	if _, ok := r.names[t]; !ok {
		r.names[t] = name
	}
	r.generation++
}

// Generation counts the names registered so far. Results derived from the
// registry stay valid while it is unchanged.
func (r *TypeRegistry) Generation() uint64 {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.generation
}

// Lookup returns the type registered under name.
func (r *TypeRegistry) Lookup(name string) (reflect.Type, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	t, ok := r.types[name]
	if !ok {
		return nil, NewError(ErrorTypeNotFound, fmt.Sprintf("no entity type registered as %q", name))
	}
	return t, nil
}

// NameOf returns the registered name of t, falling back to the type name.
func (r *TypeRegistry) NameOf(t reflect.Type) string {
	t = indirectType(t)

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if name, ok := r.names[t]; ok {
		return name
	}
	return t.Name()
}

// List returns all registered names in sorted order
func (r *TypeRegistry) List() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Package-level functions

// RegisterType registers T under its type name.
// Usage: mts.RegisterType[Patient]()
func RegisterType[T any]() {
	t := TypeOf[T]()
	Types().Register(t.Name(), t)
}

// RegisterTypeName registers T under an explicit name.
func RegisterTypeName[T any](name string) {
	Types().Register(name, TypeOf[T]())
}

// LookupType resolves a registered name to its entity type.
func LookupType(name string) (reflect.Type, error) {
	return Types().Lookup(name)
}

// NewByName instantiates the entity registered under name.
func NewByName(name string) (Entity, error) {
	t, err := Types().Lookup(name)
	if err != nil {
		return nil, err
	}
	e, ok := reflect.New(t).Interface().(Entity)
	if !ok {
		return nil, configErrorf("type %s registered as %q does not embed BaseEntity", t, name)
	}
	e.Base()
	return e, nil
}

// TypeOf returns the struct type of T, dereferencing pointers.
func TypeOf[T any]() reflect.Type {
	return indirectType(reflect.TypeOf((*T)(nil)).Elem())
}

func indirectType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
