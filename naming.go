package mts

import (
	"strings"

	"gorm.io/gorm/schema"
)

var naming = schema.NamingStrategy{SingularTable: true}

// ColumnName derives the default column for a Go field name:
// camelCase becomes lowercase snake_case ("LastModID" -> "last_mod_id").
func ColumnName(fieldName string) string {
	return naming.ColumnName("", fieldName)
}

// TableName derives the default table for a Go type name.
func TableName(typeName string) string {
	return naming.TableName(typeName)
}

// tagOptions is a parsed `mts:"..."` struct tag. Entries are comma separated,
// either a bare flag or key:value; multi-valued options use '|'.
type tagOptions struct {
	values map[string]string
	counts map[string]int
}

func parseTag(tag string) tagOptions {
	opts := tagOptions{
		values: make(map[string]string),
		counts: make(map[string]int),
	}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, ":")
		key = strings.ToLower(strings.TrimSpace(key))
		opts.values[key] = strings.TrimSpace(value)
		opts.counts[key]++
	}
	return opts
}

func (o tagOptions) Has(key string) bool {
	_, ok := o.values[key]
	return ok
}

func (o tagOptions) Get(key string) string {
	return o.values[key]
}

func (o tagOptions) List(key string) []string {
	v := o.values[key]
	if v == "" {
		return nil
	}
	parts := strings.Split(v, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (o tagOptions) Count(key string) int {
	return o.counts[key]
}
