package mts

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

// =====================================
// Entity State Machine
// =====================================

// Entity is implemented by every struct embedding BaseEntity.
type Entity interface {
	Base() *BaseEntity
}

// PropertyChangeEvent records the first-seen old value and the latest new
// value of one property since the last reset.
type PropertyChangeEvent struct {
	Property string
	OldValue interface{}
	NewValue interface{}
}

// BaseEntity carries the audit columns, the dirty state, the change history
// and the child collections of an entity. Embed it by value:
//
//	type Patient struct {
//	    mts.BaseEntity `mts:"table:patient,alias:p,audit"`
//	    PatientID string `mts:"pk,gen:auto"`
//	}
//
// An entity graph is request scoped and must not be mutated concurrently.
type BaseEntity struct {
	CreateID        string    `mts:"column:create_id,noupdate"`
	CreateDatetime  time.Time `mts:"column:create_datetime,noupdate"`
	LastModID       string    `mts:"column:last_mod_id,noinsert"`
	LastModDatetime time.Time `mts:"column:last_mod_datetime,noinsert,updatepred,deletepred"`
	AuditID         string    `mts:"column:audit_id,auditid,noupdate"`

	uuid       string
	state      State
	events     map[string]*PropertyChangeEvent
	eventOrder []string
	children   map[string][]Entity
	tokens     []string
}

// Base returns the embedded BaseEntity, initializing it on first access.
// A fresh entity is NEW and receives its identity token here.
func (b *BaseEntity) Base() *BaseEntity {
	if b.uuid == "" {
		b.uuid = uuid.NewString()
		b.state = StateNew
	}
	return b
}

// New allocates an entity of type T in state NEW.
func New[T any, P interface {
	*T
	Entity
}]() P {
	e := P(new(T))
	e.Base()
	return e
}

// UUID is the process-unique identity token of the instance.
func (b *BaseEntity) UUID() string {
	return b.Base().uuid
}

// State returns the instance's own dirty state.
func (b *BaseEntity) State() State {
	return b.Base().state
}

// SetState forces a state. The execution layer uses it after a round trip.
func (b *BaseEntity) SetState(s State) {
	b.Base().state = s
}

func (b *BaseEntity) IsNew() bool      { return b.State().IsNew() }
func (b *BaseEntity) IsDeleted() bool  { return b.State() == StateDeleted }
func (b *BaseEntity) IsUpdated() bool  { return b.State() == StateUpdated }
func (b *BaseEntity) IsUnset() bool    { return b.State() == StateUnset }
func (b *BaseEntity) IsModified() bool { return b.State() != StateUnset }

// Track records a mutation of property and advances the dirty state.
// Equal old and new values are ignored. When a property returns to the value
// first recorded for it, its event is dropped but the state is kept.
func (b *BaseEntity) Track(property string, oldValue, newValue interface{}) {
	b.Base()
	if valuesEqual(oldValue, newValue) {
		return
	}
	if b.events == nil {
		b.events = make(map[string]*PropertyChangeEvent)
	}

	if ev, ok := b.events[property]; ok {
		ev.NewValue = newValue
		if valuesEqual(ev.OldValue, newValue) {
			b.dropEvent(property)
		}
	} else {
		b.events[property] = &PropertyChangeEvent{Property: property, OldValue: oldValue, NewValue: newValue}
		b.eventOrder = append(b.eventOrder, property)
	}

	switch b.state {
	case StateNew:
		b.state = StateNewModified
	case StateUnset, StateUpdated:
		b.state = StateUpdated
	}
}

func (b *BaseEntity) dropEvent(property string) {
	delete(b.events, property)
	for i, p := range b.eventOrder {
		if p == property {
			b.eventOrder = append(b.eventOrder[:i], b.eventOrder[i+1:]...)
			break
		}
	}
}

// ChangeEvents returns a copy of the outstanding change events.
func (b *BaseEntity) ChangeEvents() map[string]PropertyChangeEvent {
	out := make(map[string]PropertyChangeEvent, len(b.events))
	for k, v := range b.events {
		out[k] = *v
	}
	return out
}

// ChangedProperties lists properties with outstanding changes in the order
// they were first changed.
func (b *BaseEntity) ChangedProperties() []string {
	return append([]string(nil), b.eventOrder...)
}

// IsPropertyChanged reports whether property has an outstanding change.
func (b *BaseEntity) IsPropertyChanged(property string) bool {
	_, ok := b.events[property]
	return ok
}

// OriginalValue returns the value property had at the last reset.
func (b *BaseEntity) OriginalValue(property string) (interface{}, bool) {
	ev, ok := b.events[property]
	if !ok {
		return nil, false
	}
	return ev.OldValue, true
}

// Delete marks the entity DELETED. With cascade every child in every
// relationship is deleted recursively.
func (b *BaseEntity) Delete(cascade bool) {
	b.Base().state = StateDeleted
	if !cascade {
		return
	}
	for _, token := range b.tokens {
		for _, child := range b.children[token] {
			child.Base().Delete(true)
		}
	}
}

// Reset moves the entity to UNSET and clears its change history.
func (b *BaseEntity) Reset() {
	b.Base().state = StateUnset
	b.events = nil
	b.eventOrder = nil
}

// ResetIfUnchanged resets only when no recorded event still shows a net
// difference between its old and new value. It does not look at the current
// state, so a NEWMODIFIED or DELETED entity without net changes is reset too.
func (b *BaseEntity) ResetIfUnchanged() bool {
	for _, ev := range b.events {
		if !valuesEqual(ev.OldValue, ev.NewValue) {
			return false
		}
	}
	b.Reset()
	return true
}

// =====================================
// Child collections
// =====================================

// Children returns the ordered child collection stored under a query token.
func (b *BaseEntity) Children(token string) []Entity {
	return append([]Entity(nil), b.children[token]...)
}

// ChildTokens lists the query tokens holding collections, in first-use order.
func (b *BaseEntity) ChildTokens() []string {
	return append([]string(nil), b.tokens...)
}

// SetChildren replaces the collection under token.
func (b *BaseEntity) SetChildren(token string, children []Entity) {
	if b.children == nil {
		b.children = make(map[string][]Entity)
	}
	if _, ok := b.children[token]; !ok {
		b.tokens = append(b.tokens, token)
	}
	b.children[token] = append([]Entity(nil), children...)
}

// ClearChildren drops the collection under token.
func (b *BaseEntity) ClearChildren(token string) {
	if _, ok := b.children[token]; !ok {
		return
	}
	delete(b.children, token)
	for i, t := range b.tokens {
		if t == token {
			b.tokens = append(b.tokens[:i], b.tokens[i+1:]...)
			break
		}
	}
}

func (b *BaseEntity) insertChild(token string, child Entity, position int) {
	list := b.children[token]
	if position < 0 || position >= len(list) {
		list = append(list, child)
	} else {
		list = append(list, nil)
		copy(list[position+1:], list[position:])
		list[position] = child
	}
	b.SetChildren(token, list)
}

func (b *BaseEntity) replaceChild(token string, index int, child Entity) {
	b.children[token][index] = child
}

// valuesEqual compares tracked values. Entities compare by identity so
// reference swaps are always seen as changes unless the same instance.
func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return isNilValue(a) && isNilValue(b)
	}
	if ea, ok := a.(Entity); ok {
		eb, ok := b.(Entity)
		return ok && ea == eb
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func isNilValue(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
