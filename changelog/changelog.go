// Package changelog renders the dirty state and change history of an
// entity graph as ordered BSON documents for audit sinks.
package changelog

import (
	"fmt"
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	mts "github.com/cdsframework/mts-support-core-sub000"
)

// =====================================
// Document Building
// =====================================

// Options controls which parts of a graph are rendered.
type Options struct {
	// IncludeUnchanged renders children that are UNSET with no events.
	IncludeUnchanged bool
	// At stamps the document; zero uses the current time.
	At time.Time
}

// Document renders e and its changed descendants.
func Document(e mts.Entity, opts Options) (bson.D, error) {
	if e == nil {
		return nil, mts.NewError(mts.ErrorTypeInvalidArgument, "nil entity")
	}
	at := opts.At
	if at.IsZero() {
		at = time.Now()
	}
	doc, err := entityDocument(e, opts)
	if err != nil {
		return nil, err
	}
	return append(bson.D{{Key: "recorded_at", Value: at.UTC()}}, doc...), nil
}

// Marshal renders e with default options and encodes it as BSON.
func Marshal(e mts.Entity) ([]byte, error) {
	doc, err := Document(e, Options{})
	if err != nil {
		return nil, err
	}
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, mts.NewErrorWithCause(mts.ErrorTypeInternal, fmt.Sprintf("failed to encode change log of %T", e), err)
	}
	return data, nil
}

func entityDocument(e mts.Entity, opts Options) (bson.D, error) {
	info, err := mts.InfoOf(e)
	if err != nil {
		return nil, err
	}
	b := e.Base()
	operational, err := mts.OperationalState(e)
	if err != nil {
		return nil, err
	}

	doc := bson.D{
		{Key: "entity", Value: mts.Types().NameOf(info.Type)},
		{Key: "table", Value: info.TableName},
		{Key: "uuid", Value: b.UUID()},
		{Key: "state", Value: string(b.State())},
		{Key: "operational_state", Value: string(operational)},
	}

	if !info.Keyless {
		key, err := mts.GetPrimaryKey(e)
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: "key", Value: keyValue(info, key)})
	}

	audit := bson.D{
		{Key: "create_id", Value: b.CreateID},
		{Key: "create_datetime", Value: timeValue(b.CreateDatetime)},
		{Key: "last_mod_id", Value: b.LastModID},
		{Key: "last_mod_datetime", Value: timeValue(b.LastModDatetime)},
	}
	if info.Auditable {
		audit = append(audit, bson.E{Key: "audit_id", Value: b.AuditID})
	}
	doc = append(doc, bson.E{Key: "audit", Value: audit})

	events := b.ChangeEvents()
	changes := bson.A{}
	for _, property := range b.ChangedProperties() {
		ev := events[property]
		change := bson.D{{Key: "property", Value: property}}
		if f, ok := info.Field(property); ok {
			change = append(change, bson.E{Key: "columns", Value: f.Columns})
		}
		oldValue, err := plainValue(ev.OldValue)
		if err != nil {
			return nil, err
		}
		newValue, err := plainValue(ev.NewValue)
		if err != nil {
			return nil, err
		}
		change = append(change,
			bson.E{Key: "old", Value: oldValue},
			bson.E{Key: "new", Value: newValue})
		changes = append(changes, change)
	}
	doc = append(doc, bson.E{Key: "changes", Value: changes})

	children := bson.A{}
	for _, token := range b.ChildTokens() {
		entries := bson.A{}
		for _, child := range b.Children(token) {
			if !opts.IncludeUnchanged && child.Base().IsUnset() && len(child.Base().ChangedProperties()) == 0 {
				continue
			}
			childDoc, err := entityDocument(child, opts)
			if err != nil {
				return nil, err
			}
			entries = append(entries, childDoc)
		}
		if len(entries) > 0 {
			children = append(children, bson.D{{Key: "token", Value: token}, {Key: "entities", Value: entries}})
		}
	}
	if len(children) > 0 {
		doc = append(doc, bson.E{Key: "children", Value: children})
	}
	return doc, nil
}

// keyValue renders composite keys as a document in key-rank order.
func keyValue(info *mts.EntityInfo, key interface{}) interface{} {
	parts, ok := key.(map[string]interface{})
	if !ok {
		return key
	}
	d := bson.D{}
	for _, f := range info.PrimaryKey {
		v := parts[f.Name]
		if ref := f.ReferencedType(); ref != nil {
			if refInfo, err := mts.Inspect(ref); err == nil {
				v = keyValue(refInfo, v)
			}
		}
		d = append(d, bson.E{Key: f.Name, Value: v})
	}
	return d
}

// plainValue replaces entity references with their keys.
func plainValue(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	e, ok := v.(mts.Entity)
	if !ok {
		return v, nil
	}
	if rv := reflect.ValueOf(e); rv.Kind() == reflect.Ptr && rv.IsNil() {
		return nil, nil
	}
	info, err := mts.InfoOf(e)
	if err != nil {
		return nil, err
	}
	key, err := mts.GetPrimaryKey(e)
	if err != nil {
		return nil, err
	}
	return keyValue(info, key), nil
}

func timeValue(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
