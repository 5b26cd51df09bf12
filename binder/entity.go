package binder

import (
	"fmt"
	"reflect"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	mts "github.com/cdsframework/mts-support-core-sub000"
)

// EntityBinder holds the binders of every mapped field of one entity type,
// in column order.
type EntityBinder struct {
	Info    *mts.EntityInfo
	Binders []*Binder

	cfg mts.Config
}

// ForEntity builds the binders of t.
func ForEntity(t reflect.Type, cfg mts.Config) (*EntityBinder, error) {
	info, err := mts.Inspect(t)
	if err != nil {
		return nil, err
	}
	eb := &EntityBinder{Info: info, cfg: cfg}
	for _, f := range info.Fields {
		b, err := New(f, cfg)
		if err != nil {
			return nil, fmt.Errorf("binding %s: %w", info.Name, err)
		}
		eb.Binders = append(eb.Binders, b)
	}
	return eb, nil
}

type cacheKey struct {
	typ reflect.Type
	cfg mts.Config
}

type cacheEntry struct {
	binder *EntityBinder
	err    error
}

var cache = xsync.NewMapOf[cacheKey, cacheEntry]()

// For returns the cached EntityBinder of t for the current configuration.
func For(t reflect.Type) (*EntityBinder, error) {
	return ForConfig(t, mts.CurrentConfig())
}

// ForConfig returns the cached EntityBinder of t for cfg.
func ForConfig(t reflect.Type, cfg mts.Config) (*EntityBinder, error) {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	entry, loaded := cache.LoadOrCompute(cacheKey{typ: t, cfg: cfg}, func() cacheEntry {
		eb, err := ForEntity(t, cfg)
		return cacheEntry{binder: eb, err: err}
	})
	if !loaded && entry.err == nil {
		mts.Logger().Debug("entity binders compiled",
			zap.Stringer("type", t),
			zap.Int("binders", len(entry.binder.Binders)))
	}
	return entry.binder, entry.err
}

// Binder returns the binder of the named Go field.
func (eb *EntityBinder) Binder(field string) (*Binder, bool) {
	for _, b := range eb.Binders {
		if b.Field.Name == field {
			return b, true
		}
	}
	return nil, false
}

// ReadRow sets every selectable field of e from row without recording
// change events.
func (eb *EntityBinder) ReadRow(e mts.Entity, row map[string]interface{}) error {
	if err := eb.check(e); err != nil {
		return err
	}
	for _, b := range eb.Binders {
		if !b.Field.Selectable {
			continue
		}
		if err := b.Read(e, row); err != nil {
			return fmt.Errorf("reading %s: %w", eb.Info.Name, err)
		}
	}
	return nil
}

// Load reads row into e and resets it to UNSET, as after a fetch.
func (eb *EntityBinder) Load(e mts.Entity, row map[string]interface{}) error {
	if err := eb.ReadRow(e, row); err != nil {
		return err
	}
	e.Base().Reset()
	return nil
}

// WriteArgs returns the named bind values of every mapped column of e.
// Columns holding nil are absent from the result.
func (eb *EntityBinder) WriteArgs(e mts.Entity) (map[string]interface{}, error) {
	if err := eb.check(e); err != nil {
		return nil, err
	}
	args := make(map[string]interface{}, len(eb.Info.Columns))
	for _, b := range eb.Binders {
		if err := b.Write(e, args); err != nil {
			return nil, fmt.Errorf("writing %s: %w", eb.Info.Name, err)
		}
	}
	return args, nil
}

// OriginalArgs returns the bind values of the update and delete predicate
// columns as they were at the last reset, named with the configured
// original prefix. Unchanged fields bind their current value.
func (eb *EntityBinder) OriginalArgs(e mts.Entity) (map[string]interface{}, error) {
	if err := eb.check(e); err != nil {
		return nil, err
	}
	base := e.Base()
	args := make(map[string]interface{})
	for _, b := range eb.Binders {
		f := b.Field
		if !f.UpdatePredicate && !f.DeletePredicate {
			continue
		}
		fv := f.ValueOf(e)
		if old, ok := base.OriginalValue(f.Name); ok {
			fv = reflect.New(f.Type).Elem()
			if old != nil {
				ov := reflect.ValueOf(old)
				if !ov.Type().AssignableTo(f.Type) {
					return nil, mts.NewError(mts.ErrorTypeInternal,
						fmt.Sprintf("%s.%s: recorded original %T does not fit %s", eb.Info.Name, f.Name, old, f.Type))
				}
				fv.Set(ov)
			}
		}
		if err := b.writeFrom(fv, args, eb.cfg.OriginalPrefix); err != nil {
			return nil, fmt.Errorf("writing originals of %s: %w", eb.Info.Name, err)
		}
	}
	return args, nil
}

func (eb *EntityBinder) check(e mts.Entity) error {
	if e == nil {
		return mts.NewError(mts.ErrorTypeInvalidArgument, "nil entity")
	}
	if t := reflect.TypeOf(e); t.Kind() != reflect.Ptr || t.Elem() != eb.Info.Type {
		return mts.NewError(mts.ErrorTypeInvalidArgument,
			fmt.Sprintf("binder for %s cannot bind %T", eb.Info.Name, e))
	}
	return nil
}
