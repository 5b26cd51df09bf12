package mts

import (
	"fmt"
	"math/rand/v2"
	"reflect"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// =====================================
// Primary keys
// =====================================

// GetPrimaryKey returns the key of e. A single key field yields its value
// (a reference key yields the referenced entity's key); a composite key
// yields a map from field name to value. Unset keys are returned as nil,
// and a zero scalar (0 or "") counts as unset, so a key assigned 0 reads
// back as nil.
func GetPrimaryKey(e Entity) (interface{}, error) {
	info, err := InfoOf(e)
	if err != nil {
		return nil, err
	}
	if info.Keyless {
		return nil, configErrorf("%s is keyless", info.Name)
	}
	if len(info.PrimaryKey) == 1 {
		return fieldKeyValue(info.PrimaryKey[0].ValueOf(e))
	}
	key := make(map[string]interface{}, len(info.PrimaryKey))
	for _, f := range info.PrimaryKey {
		v, err := fieldKeyValue(f.ValueOf(e))
		if err != nil {
			return nil, err
		}
		key[f.Name] = v
	}
	return key, nil
}

// SetPrimaryKey assigns the key of e. Composite keys take a
// map[string]interface{} holding every key field by name.
func SetPrimaryKey(e Entity, key interface{}) error {
	info, err := InfoOf(e)
	if err != nil {
		return err
	}
	if info.Keyless {
		return configErrorf("%s is keyless", info.Name)
	}
	if len(info.PrimaryKey) == 1 {
		return assignKeyField(e, info.PrimaryKey[0], key)
	}

	parts, ok := key.(map[string]interface{})
	if !ok {
		return invalidArgumentf("%s has a composite key; expected map[string]interface{}, got %T", info.Name, key)
	}
	if len(parts) != len(info.PrimaryKey) {
		return invalidArgumentf("%s key has %d fields, got %d", info.Name, len(info.PrimaryKey), len(parts))
	}
	for _, f := range info.PrimaryKey {
		if _, ok := parts[f.Name]; !ok {
			return invalidArgumentf("%s key is missing field %s", info.Name, f.Name)
		}
	}
	values := make([]reflect.Value, len(info.PrimaryKey))
	for i, f := range info.PrimaryKey {
		v, err := keyFieldValue(f, parts[f.Name])
		if err != nil {
			return err
		}
		values[i] = v
	}
	for i, f := range info.PrimaryKey {
		storeKeyField(e, f, values[i])
	}
	return nil
}

// IsPrimaryKeySet reports whether every key field of e holds a non-zero value.
func IsPrimaryKeySet(e Entity) (bool, error) {
	info, err := InfoOf(e)
	if err != nil {
		return false, err
	}
	if info.Keyless {
		return false, nil
	}
	for _, f := range info.PrimaryKey {
		if !isFieldSet(f.ValueOf(e)) {
			return false, nil
		}
	}
	return true, nil
}

// AutoSetPrimaryKeys generates values for AUTO key fields. Every key field
// must be AUTO and none may be set yet.
func AutoSetPrimaryKeys(e Entity) error {
	info, err := InfoOf(e)
	if err != nil {
		return err
	}
	if info.Keyless {
		return configErrorf("%s is keyless", info.Name)
	}
	for _, f := range info.PrimaryKey {
		if f.Generation != GenerationAuto {
			return configErrorf("%s.%s uses %s generation, not AUTO", info.Name, f.Name, GenerationStrategy(f))
		}
		if isFieldSet(f.ValueOf(e)) {
			return configErrorf("%s.%s is already set", info.Name, f.Name)
		}
	}

	cfg := CurrentConfig()
	values := make([]reflect.Value, len(info.PrimaryKey))
	for i, f := range info.PrimaryKey {
		generated, err := generateKey(f.Type, cfg)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", info.Name, f.Name, err)
		}
		if values[i], err = keyFieldValue(f, generated); err != nil {
			return err
		}
	}
	for i, f := range info.PrimaryKey {
		storeKeyField(e, f, values[i])
	}
	return nil
}

func generateKey(t reflect.Type, cfg Config) (interface{}, error) {
	base := t
	if base.Kind() == reflect.Ptr {
		base = base.Elem()
	}
	switch k := base.Kind(); {
	case k == reflect.String:
		token := strings.ReplaceAll(uuid.NewString(), "-", "")
		return token[:cfg.TextKeyLength], nil
	case IsIntKind(k) || IsUintKind(k):
		hi := cfg.AutoKeyMax
		if limit := maxIntegerOf(k); limit < hi {
			hi = limit
		}
		lo := cfg.AutoKeyMin
		if hi <= lo {
			return nil, configErrorf("auto key range [%d, %d] does not fit %s", lo, hi, base)
		}
		return lo + rand.Int64N(hi-lo), nil
	}
	return nil, configErrorf("AUTO generation is not supported for %s", t)
}

func maxIntegerOf(k reflect.Kind) int64 {
	switch k {
	case reflect.Int8:
		return 1<<7 - 1
	case reflect.Int16:
		return 1<<15 - 1
	case reflect.Int32:
		return 1<<31 - 1
	case reflect.Uint8:
		return 1<<8 - 1
	case reflect.Uint16:
		return 1<<16 - 1
	case reflect.Uint32:
		return 1<<32 - 1
	}
	return 1<<63 - 1
}

// fieldKeyValue reads a key field, following reference fields into the
// referenced entity's key.
func fieldKeyValue(v reflect.Value) (interface{}, error) {
	if isEntityPointer(v.Type()) {
		if v.IsNil() {
			return nil, nil
		}
		return GetPrimaryKey(v.Interface().(Entity))
	}
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	if v.IsZero() {
		return nil, nil
	}
	return v.Interface(), nil
}

func isFieldSet(v reflect.Value) bool {
	if isEntityPointer(v.Type()) {
		if v.IsNil() {
			return false
		}
		set, err := IsPrimaryKeySet(v.Interface().(Entity))
		return err == nil && set
	}
	if v.Kind() == reflect.Ptr {
		return !v.IsNil()
	}
	return !v.IsZero()
}

// assignKeyField stores value into a key or foreign-key field and records
// the mutation. Reference fields receive a stub entity carrying only the key.
func assignKeyField(e Entity, f *FieldInfo, value interface{}) error {
	v, err := keyFieldValue(f, value)
	if err != nil {
		return err
	}
	storeKeyField(e, f, v)
	return nil
}

// keyFieldValue converts value to the type of f without touching any entity.
func keyFieldValue(f *FieldInfo, value interface{}) (reflect.Value, error) {
	if value == nil && f.Type.Kind() == reflect.Ptr {
		return reflect.Zero(f.Type), nil
	}
	if f.IsReference {
		if ref, ok := value.(Entity); ok && reflect.TypeOf(ref) == f.Type {
			return reflect.ValueOf(ref), nil
		}
		stub := reflect.New(f.Type.Elem()).Interface().(Entity)
		stub.Base()
		if err := SetPrimaryKey(stub, value); err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(stub), nil
	}

	target := f.Type
	if target.Kind() != reflect.Ptr {
		cv, err := coerceScalar(value, target)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%s: %w", f.Name, err)
		}
		return cv, nil
	}
	cv, err := coerceScalar(value, target.Elem())
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%s: %w", f.Name, err)
	}
	p := reflect.New(target.Elem())
	p.Elem().Set(cv)
	return p, nil
}

func storeKeyField(e Entity, f *FieldInfo, v reflect.Value) {
	fv := f.ValueOf(e)
	old := fv.Interface()
	fv.Set(v)
	e.Base().Track(f.Name, old, fv.Interface())
}

// =====================================
// Foreign keys
// =====================================

// SetForeignKey assigns the field of e wired to source. A scalar value goes
// to the unique field matching discriminator. A map[string]interface{} is
// the composite key of a unique reference field, or otherwise is applied
// entry by entry, each key naming the discriminator of its field. Every
// entry is resolved and converted before any field is written.
func SetForeignKey(e Entity, source reflect.Type, value interface{}, discriminator string) error {
	if parts, ok := value.(map[string]interface{}); ok {
		if f, err := uniqueForeignKey(e, source, discriminator); err == nil && f.IsReference {
			return assignKeyField(e, f, parts)
		}
		if discriminator != "" {
			return invalidArgumentf("%T: a key map for discriminator %q needs a reference field", e, discriminator)
		}
		fields := make([]*FieldInfo, 0, len(parts))
		values := make([]reflect.Value, 0, len(parts))
		for disc, part := range parts {
			f, err := uniqueForeignKey(e, source, disc)
			if err != nil {
				return err
			}
			v, err := keyFieldValue(f, part)
			if err != nil {
				return err
			}
			fields = append(fields, f)
			values = append(values, v)
		}
		for i, f := range fields {
			storeKeyField(e, f, values[i])
		}
		return nil
	}
	f, err := uniqueForeignKey(e, source, discriminator)
	if err != nil {
		return err
	}
	return assignKeyField(e, f, value)
}

// GetForeignKey returns the value of the field of e wired to source.
func GetForeignKey(e Entity, source reflect.Type, discriminator string) (interface{}, error) {
	f, err := uniqueForeignKey(e, source, discriminator)
	if err != nil {
		return nil, err
	}
	return fieldKeyValue(f.ValueOf(e))
}

func uniqueForeignKey(e Entity, source reflect.Type, discriminator string) (*FieldInfo, error) {
	if e == nil {
		return nil, invalidArgumentf("nil entity")
	}
	t := indirectType(reflect.TypeOf(e))
	fields, err := ForeignKeyFields(t, source, discriminator)
	if err != nil {
		return nil, err
	}
	switch len(fields) {
	case 0:
		return nil, configErrorf("%s has no foreign key from %s (discriminator %q)", t.Name(), indirectType(source).Name(), discriminator)
	case 1:
		return fields[0], nil
	}
	return nil, configErrorf("%s has %d foreign keys from %s; a discriminator is required", t.Name(), len(fields), indirectType(source).Name())
}

// =====================================
// Equality and hashing
// =====================================

// Equal compares two entities the way the data store would. Different
// concrete types are never equal. A NEW entity is equal only to the
// instance carrying its identity token, whatever its key; other entities
// compare by primary key, which must be set.
func Equal(a, b Entity) (bool, error) {
	if a == nil || b == nil {
		return a == nil && b == nil, nil
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false, nil
	}
	if a == b {
		return true, nil
	}
	if a.Base().IsNew() || b.Base().IsNew() {
		return a.Base().UUID() == b.Base().UUID(), nil
	}

	aSet, err := IsPrimaryKeySet(a)
	if err != nil {
		return false, err
	}
	bSet, err := IsPrimaryKeySet(b)
	if err != nil {
		return false, err
	}
	if !aSet || !bSet {
		return false, NewError(ErrorTypeState, fmt.Sprintf("cannot compare %T without a primary key outside NEW state", a))
	}

	ka, err := canonicalKey(a)
	if err != nil {
		return false, err
	}
	kb, err := canonicalKey(b)
	if err != nil {
		return false, err
	}
	return ka == kb, nil
}

// Hash returns a hash consistent with Equal.
func Hash(e Entity) (uint64, error) {
	if e == nil {
		return 0, invalidArgumentf("nil entity")
	}
	if e.Base().IsNew() {
		return xxhash.Sum64String(e.Base().UUID()), nil
	}
	set, err := IsPrimaryKeySet(e)
	if err != nil {
		return 0, err
	}
	if !set {
		return 0, NewError(ErrorTypeState, fmt.Sprintf("cannot hash %T without a primary key outside NEW state", e))
	}
	key, err := canonicalKey(e)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64String(key), nil
}

// canonicalKey renders the key in key-field order, independent of map order.
func canonicalKey(e Entity) (string, error) {
	info, err := InfoOf(e)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString(info.Type.String())
	for _, f := range info.PrimaryKey {
		v, err := fieldKeyValue(f.ValueOf(e))
		if err != nil {
			return "", err
		}
		sb.WriteByte('|')
		sb.WriteString(f.Name)
		sb.WriteByte('=')
		writeKeyPart(&sb, v)
	}
	return sb.String(), nil
}

func writeKeyPart(sb *strings.Builder, v interface{}) {
	m, ok := v.(map[string]interface{})
	if !ok {
		fmt.Fprintf(sb, "%v", v)
		return
	}
	// fmt prints maps with sorted keys
	fmt.Fprintf(sb, "%v", m)
}

// =====================================
// Aggregated state
// =====================================

// OperationalState is the state of e, or when e is UNSET, the first
// non-UNSET state among its references (declaration order) and then its
// descendants (depth first).
func OperationalState(e Entity) (State, error) {
	own := e.Base().State()
	if own != StateUnset {
		return own, nil
	}
	info, err := InfoOf(e)
	if err != nil {
		return "", err
	}
	for _, f := range info.References {
		v := f.ValueOf(e)
		if v.IsNil() {
			continue
		}
		if s := v.Interface().(Entity).Base().State(); s != StateUnset {
			return s, nil
		}
	}
	b := e.Base()
	for _, token := range b.tokens {
		for _, child := range b.children[token] {
			s, err := OperationalState(child)
			if err != nil {
				return "", err
			}
			if s != StateUnset {
				return s, nil
			}
		}
	}
	return StateUnset, nil
}

// =====================================
// Child management
// =====================================

// AddOrUpdateChild stores child under the relationship declared for its
// type. See AddOrUpdateChildByToken.
func AddOrUpdateChild(parent, child Entity, position ...int) error {
	info, err := InfoOf(parent)
	if err != nil {
		return err
	}
	rel, err := info.RelationFor(reflect.TypeOf(child))
	if err != nil {
		return err
	}
	return AddOrUpdateChildByToken(parent, rel.QueryToken, child, position...)
}

// AddOrUpdateChildByToken stores child in the collection addressed by token.
// A non-NEW child replaces the entry with an equal key unless that entry is
// DELETED, in which case it is appended after it. NEW children, and children
// without a match, are inserted at position or appended.
func AddOrUpdateChildByToken(parent Entity, token string, child Entity, position ...int) error {
	if child == nil {
		return invalidArgumentf("nil child")
	}
	info, err := InfoOf(parent)
	if err != nil {
		return err
	}
	rel, ok := info.Relation(token)
	if !ok {
		return configErrorf("%s has no relationship with query token %q", info.Name, token)
	}
	if indirectType(reflect.TypeOf(child)) != rel.Child {
		return configErrorf("%s relationship %q holds %s, not %T", info.Name, token, rel.Child.Name(), child)
	}

	pos := -1
	if len(position) > 0 {
		pos = position[0]
	}
	b := parent.Base()
	if !child.Base().IsNew() {
		for i, existing := range b.children[token] {
			same, err := sameKey(existing, child)
			if err != nil {
				return err
			}
			if !same {
				continue
			}
			if existing.Base().IsDeleted() {
				pos = -1
				break
			}
			b.replaceChild(token, i, child)
			return nil
		}
	}
	b.insertChild(token, child, pos)
	return nil
}

// sameKey compares keys of two children of one relationship. Children whose
// key is unset never match.
func sameKey(a, b Entity) (bool, error) {
	aSet, err := IsPrimaryKeySet(a)
	if err != nil || !aSet {
		return false, err
	}
	bSet, err := IsPrimaryKeySet(b)
	if err != nil || !bSet {
		return false, err
	}
	ka, err := canonicalKey(a)
	if err != nil {
		return false, err
	}
	kb, err := canonicalKey(b)
	if err != nil {
		return false, err
	}
	return ka == kb, nil
}

// =====================================
// Tracked assignment
// =====================================

// Set assigns value to *field and records the change under property.
//
//	func (p *Patient) SetLastName(v string) { mts.Set(p, "LastName", &p.LastName, v) }
func Set[V any](e Entity, property string, field *V, value V) {
	old := *field
	*field = value
	e.Base().Track(property, old, value)
}

// SetField assigns a mapped field by Go name and records the change.
// Numeric values are converted to the field type with precision checks.
func SetField(e Entity, name string, value interface{}) error {
	info, err := InfoOf(e)
	if err != nil {
		return err
	}
	f, ok := info.Field(name)
	if !ok {
		return NewError(ErrorTypeNotFound, fmt.Sprintf("%s has no mapped field %s", info.Name, name))
	}
	if f.IsReference {
		return assignKeyField(e, f, value)
	}

	fv := f.ValueOf(e)
	old := fv.Interface()
	if value == nil {
		fv.Set(reflect.Zero(f.Type))
		e.Base().Track(f.Name, old, fv.Interface())
		return nil
	}
	v := reflect.ValueOf(value)
	switch {
	case v.Type().AssignableTo(f.Type):
		fv.Set(v)
	case IsNumericKind(v.Kind()) && IsNumericKind(f.Type.Kind()):
		cv, err := ConvertNumeric(v, f.Type)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", info.Name, f.Name, err)
		}
		fv.Set(cv)
	case v.Type().ConvertibleTo(f.Type) && v.Kind() == f.Type.Kind():
		fv.Set(v.Convert(f.Type))
	default:
		return invalidArgumentf("%s.%s: cannot assign %T to %s", info.Name, f.Name, value, f.Type)
	}
	e.Base().Track(f.Name, old, fv.Interface())
	return nil
}
