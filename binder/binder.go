// Package binder converts between database row values and entity fields.
//
// A Binder serves one mapped field. Scalar fields follow a fixed conversion
// table; fields referencing another entity own one sub-binder per key field
// of the referenced type and read or write its key columns. Null row values
// are never converted and nil field values are never written.
package binder

import (
	"fmt"
	"reflect"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	mts "github.com/cdsframework/mts-support-core-sub000"
)

// Binder reads and writes the column(s) of one mapped field.
type Binder struct {
	Field   *mts.FieldInfo
	Columns []string

	cfg  mts.Config
	conv conversion
	enum *enumAccessor
	subs []*Binder

	// enum write results per distinct field value
	written *xsync.MapOf[interface{}, interface{}]
}

// New builds the binder of field using its declared columns.
func New(field *mts.FieldInfo, cfg mts.Config) (*Binder, error) {
	return newBinder(field, field.Columns, cfg)
}

func newBinder(field *mts.FieldInfo, columns []string, cfg mts.Config) (*Binder, error) {
	if field == nil {
		return nil, mts.NewError(mts.ErrorTypeInvalidArgument, "nil field")
	}
	b := &Binder{Field: field, Columns: columns, cfg: cfg}

	if field.IsReference {
		b.conv = convReference
		return b, b.buildSubBinders()
	}
	if len(columns) != 1 {
		return nil, mts.NewError(mts.ErrorTypeConfiguration,
			fmt.Sprintf("%s maps %d columns; scalar fields map exactly one", field.Name, len(columns)))
	}

	base := field.Type
	if base.Kind() == reflect.Ptr {
		base = base.Elem()
	}
	getter, setter := field.EnumGetter, field.EnumSetter
	if getter == "" && base != timeType && hasAccessors(base, cfg.EnumGetter, cfg.EnumSetter) {
		getter, setter = cfg.EnumGetter, cfg.EnumSetter
	}
	if getter != "" {
		a, err := resolveAccessor(base, getter, setter)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field.Name, err)
		}
		b.conv = convEnum
		b.enum = a
		if base.Comparable() {
			b.written = xsync.NewMapOf[interface{}, interface{}]()
		}
		return b, nil
	}

	b.conv = classify(field.Type)
	if b.conv == convInvalid {
		return nil, mts.NewError(mts.ErrorTypeConfiguration,
			fmt.Sprintf("%s: no conversion for field type %s", field.Name, field.Type))
	}
	return b, nil
}

// buildSubBinders splits the reference columns over the key fields of the
// referenced type in key order.
func (b *Binder) buildSubBinders() error {
	keys, err := mts.PrimaryKeyFields(b.Field.ReferencedType())
	if err != nil {
		return fmt.Errorf("%s: %w", b.Field.Name, err)
	}
	offset := 0
	for _, k := range keys {
		n := len(k.Columns)
		if offset+n > len(b.Columns) {
			return mts.NewError(mts.ErrorTypeConfiguration,
				fmt.Sprintf("%s maps %d columns but the key of %s needs more", b.Field.Name, len(b.Columns), b.Field.ReferencedType().Name()))
		}
		sub, err := newBinder(k, b.Columns[offset:offset+n], b.cfg)
		if err != nil {
			return err
		}
		b.subs = append(b.subs, sub)
		offset += n
	}
	if offset != len(b.Columns) {
		return mts.NewError(mts.ErrorTypeConfiguration,
			fmt.Sprintf("%s maps %d columns but the key of %s has %d", b.Field.Name, len(b.Columns), b.Field.ReferencedType().Name(), offset))
	}
	return nil
}

// Read sets the field of e from row, keyed by column name. Absent and nil
// values leave the field untouched. Read does not record change events.
func (b *Binder) Read(e mts.Entity, row map[string]interface{}) error {
	return b.readInto(b.Field.ValueOf(e), row)
}

func (b *Binder) readInto(fv reflect.Value, row map[string]interface{}) error {
	if b.conv == convReference {
		return b.readReference(fv, row)
	}
	raw, ok := row[b.Columns[0]]
	if !ok || raw == nil {
		return nil
	}
	v, err := b.convertRaw(raw)
	if err != nil {
		return err
	}
	if fv.Kind() == reflect.Ptr {
		p := reflect.New(fv.Type().Elem())
		p.Elem().Set(v)
		v = p
	}
	fv.Set(v)
	return nil
}

func (b *Binder) readReference(fv reflect.Value, row map[string]interface{}) error {
	present := false
	for _, col := range b.Columns {
		if row[col] != nil {
			present = true
			break
		}
	}
	if !present {
		return nil
	}

	if fv.IsNil() {
		ref := reflect.New(fv.Type().Elem())
		ref.Interface().(mts.Entity).Base().Reset()
		fv.Set(ref)
	}
	ref := fv.Interface().(mts.Entity)
	for _, sub := range b.subs {
		if err := sub.readInto(sub.Field.ValueOf(ref), row); err != nil {
			return fmt.Errorf("%s: %w", b.Field.Name, err)
		}
	}
	return nil
}

// convertRaw converts a non-nil row value to the field's element type.
func (b *Binder) convertRaw(raw interface{}) (reflect.Value, error) {
	target := b.Field.Type
	if target.Kind() == reflect.Ptr {
		target = target.Elem()
	}

	switch b.conv {
	case convEnum:
		return b.enum.set(raw)
	case convBool:
		v, err := b.readBool(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(v).Convert(target), nil
	case convNumeric:
		return b.readNumeric(raw, target)
	case convString:
		v, err := b.readString(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(v).Convert(target), nil
	case convBytes:
		v, err := b.readBytes(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(v), nil
	case convTime:
		v, err := b.readTime(raw)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(v), nil
	}
	return reflect.Value{}, mts.NewError(mts.ErrorTypeConfiguration,
		fmt.Sprintf("%s: no conversion for field type %s", b.Field.Name, b.Field.Type))
}

// Write stores the bind value of the field of e into args under each
// column name. Nil pointers, nil references and zero times are skipped.
func (b *Binder) Write(e mts.Entity, args map[string]interface{}) error {
	return b.writeFrom(b.Field.ValueOf(e), args, "")
}

func (b *Binder) writeFrom(fv reflect.Value, args map[string]interface{}, prefix string) error {
	if b.conv == convReference {
		if fv.IsNil() {
			return nil
		}
		ref := fv.Interface().(mts.Entity)
		for _, sub := range b.subs {
			if err := sub.writeFrom(sub.Field.ValueOf(ref), args, prefix); err != nil {
				return fmt.Errorf("%s: %w", b.Field.Name, err)
			}
		}
		return nil
	}

	if fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			return nil
		}
		fv = fv.Elem()
	}
	v, skip, err := b.bindValue(fv)
	if err != nil || skip {
		return err
	}
	args[prefix+b.Columns[0]] = v
	return nil
}

func (b *Binder) bindValue(fv reflect.Value) (interface{}, bool, error) {
	switch b.conv {
	case convEnum:
		return b.writeEnum(fv)
	case convBool:
		return b.writeBool(fv.Bool()), false, nil
	case convTime:
		t := fv.Interface().(time.Time)
		if t.IsZero() {
			return nil, true, nil
		}
		return b.normalizeTime(t), false, nil
	case convBytes:
		if fv.IsNil() {
			return nil, true, nil
		}
		return fv.Bytes(), false, nil
	case convString:
		return fv.String(), false, nil
	case convNumeric:
		return fv.Interface(), false, nil
	}
	return nil, false, mts.NewError(mts.ErrorTypeConfiguration,
		fmt.Sprintf("%s: no conversion for field type %s", b.Field.Name, b.Field.Type))
}

func (b *Binder) writeEnum(fv reflect.Value) (interface{}, bool, error) {
	if b.written == nil {
		v, err := b.enum.get(fv)
		return v, false, err
	}
	key := fv.Interface()
	if v, ok := b.written.Load(key); ok {
		return v, false, nil
	}
	v, err := b.enum.get(fv)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", b.Field.Name, err)
	}
	b.written.Store(key, v)
	return v, false, nil
}
