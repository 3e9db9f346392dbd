// Package serialization manages schema tag registrations, mapping the logical
// payload type carried in an envelope header to a concrete Go type.
package serialization

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/AppSpaceIT/RedCapped/contracts"
)

// TypeRegistry maps schema tags to message types. The tag is an explicit
// marker chosen at registration time rather than a reflection-derived name,
// so the wire format stays decoupled from Go type identity.
type TypeRegistry struct {
	types map[string]reflect.Type
	tags  map[reflect.Type]string
	mu    sync.RWMutex
}

// NewTypeRegistry creates a new type registry
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		types: make(map[string]reflect.Type),
		tags:  make(map[reflect.Type]string),
	}
}

// Register registers a message type under a schema tag. The prototype must be
// a struct or pointer to struct whose pointer type implements contracts.Message.
func (r *TypeRegistry) Register(schemaTag string, prototype contracts.Message) error {
	if schemaTag == "" {
		return contracts.ErrEmptySchemaTag
	}
	if prototype == nil {
		return fmt.Errorf("prototype cannot be nil")
	}

	t := reflect.TypeOf(prototype)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("prototype must be a struct, got %v", t.Kind())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.types[schemaTag]; exists {
		if existing == t {
			return nil
		}
		return fmt.Errorf("schema tag %s already registered to %v", schemaTag, existing)
	}

	r.types[schemaTag] = t
	r.tags[t] = schemaTag

	return nil
}

// CreateInstance creates a new zero instance of the type registered under the
// schema tag, ready to be unmarshaled into.
func (r *TypeRegistry) CreateInstance(schemaTag string) (contracts.Message, error) {
	r.mu.RLock()
	t, exists := r.types[schemaTag]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no type registered for schema tag %s", schemaTag)
	}

	msg, ok := reflect.New(t).Interface().(contracts.Message)
	if !ok {
		return nil, fmt.Errorf("registered type %v does not implement contracts.Message", t)
	}
	return msg, nil
}

// TagFor returns the schema tag a message's type was registered under.
func (r *TypeRegistry) TagFor(msg contracts.Message) (string, bool) {
	if msg == nil {
		return "", false
	}

	t := reflect.TypeOf(msg)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	tag, ok := r.tags[t]
	return tag, ok
}

// IsRegistered checks if a schema tag is registered
func (r *TypeRegistry) IsRegistered(schemaTag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.types[schemaTag]
	return exists
}

// ListTags returns all registered schema tags
func (r *TypeRegistry) ListTags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.types))
	for tag := range r.types {
		tags = append(tags, tag)
	}
	return tags
}
