// Package dml compiles and caches the INSERT, UPDATE, DELETE and SELECT
// statement text of entity types. Statements use named placeholders
// (":column"); optimistic-concurrency predicates bind the original value
// namespace (":original_column" by default).
package dml

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	mts "github.com/cdsframework/mts-support-core-sub000"
)

// Statement is compiled statement text and its bind names in order of
// appearance.
type Statement struct {
	SQL   string
	Binds []string
}

// ParentKey addresses a parent-filtered SELECT by the parent type name
// declared in the foreign-key source and the optional field-name
// discriminator.
type ParentKey struct {
	Parent        string
	Discriminator string
}

// Templates holds the compiled statements of one entity type. Update,
// Delete and SelectByKey are nil and SelectByParent is empty for keyless
// types.
type Templates struct {
	Entity *mts.EntityInfo

	Insert         Statement
	Update         *Statement
	Delete         *Statement
	Select         Statement
	SelectByKey    *Statement
	SelectByParent map[ParentKey]Statement

	InsertColumns []string
	UpdateColumns []string
	SelectColumns []string
}

// SelectByParentFor returns the SELECT filtered by the foreign key to parent.
func (t *Templates) SelectByParentFor(parent reflect.Type, discriminator string) (Statement, error) {
	for parent != nil && parent.Kind() == reflect.Ptr {
		parent = parent.Elem()
	}
	if parent == nil {
		return Statement{}, mts.NewError(mts.ErrorTypeInvalidArgument, "nil parent type")
	}
	names := []string{mts.Types().NameOf(parent), parent.Name(), parent.String()}
	for _, name := range names {
		if s, ok := t.SelectByParent[ParentKey{Parent: name, Discriminator: discriminator}]; ok {
			return s, nil
		}
	}
	return Statement{}, mts.NewError(mts.ErrorTypeNotFound,
		fmt.Sprintf("%s has no foreign key to %s (discriminator %q)", t.Entity.Name, parent.Name(), discriminator))
}

// Compiler builds Templates for one configuration and caches them per type.
type Compiler struct {
	cfg   mts.Config
	quote Quoter
	cache *xsync.MapOf[reflect.Type, compiled]
}

type compiled struct {
	templates *Templates
	err       error
}

// NewCompiler creates a Compiler for cfg.
func NewCompiler(cfg mts.Config) (*Compiler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	q, err := NewQuoter(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	return &Compiler{cfg: cfg, quote: q, cache: xsync.NewMapOf[reflect.Type, compiled]()}, nil
}

var compilers = xsync.NewMapOf[mts.Config, compiledCompiler]()

type compiledCompiler struct {
	compiler *Compiler
	err      error
}

// Compile returns the templates of t for the current configuration.
func Compile(t reflect.Type) (*Templates, error) {
	cc, _ := compilers.LoadOrCompute(mts.CurrentConfig(), func() compiledCompiler {
		c, err := NewCompiler(mts.CurrentConfig())
		return compiledCompiler{compiler: c, err: err}
	})
	if cc.err != nil {
		return nil, cc.err
	}
	return cc.compiler.Compile(t)
}

// For returns the templates of e's type.
func (c *Compiler) For(e mts.Entity) (*Templates, error) {
	if e == nil {
		return nil, mts.NewError(mts.ErrorTypeInvalidArgument, "nil entity")
	}
	return c.Compile(reflect.TypeOf(e))
}

// Compile returns the templates of t, building them on first use.
func (c *Compiler) Compile(t reflect.Type) (*Templates, error) {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	res, loaded := c.cache.LoadOrCompute(t, func() compiled {
		tpl, err := c.compile(t)
		return compiled{templates: tpl, err: err}
	})
	if !loaded && res.err == nil {
		mts.Logger().Debug("dml templates compiled",
			zap.Stringer("type", t),
			zap.String("dialect", c.cfg.Dialect),
			zap.Bool("keyless", res.templates.Entity.Keyless),
			zap.Int("parent_variants", len(res.templates.SelectByParent)))
	}
	return res.templates, res.err
}

func (c *Compiler) compile(t reflect.Type) (*Templates, error) {
	info, err := mts.Inspect(t)
	if err != nil {
		return nil, err
	}
	tpl := &Templates{Entity: info, SelectByParent: make(map[ParentKey]Statement)}

	for _, col := range info.Columns {
		if col.Insertable {
			tpl.InsertColumns = append(tpl.InsertColumns, col.Name)
		}
		if col.Updateable && !col.IsPrimaryKey {
			tpl.UpdateColumns = append(tpl.UpdateColumns, col.Name)
		}
		if col.Selectable {
			tpl.SelectColumns = append(tpl.SelectColumns, col.Name)
		}
	}
	if len(tpl.SelectColumns) == 0 {
		return nil, mts.NewError(mts.ErrorTypeConfiguration, fmt.Sprintf("%s has no selectable columns", info.Name))
	}

	tpl.Insert = c.insert(info, tpl.InsertColumns)
	tpl.Select = c.selectWhere(info, tpl.SelectColumns, nil)
	if info.Keyless {
		return tpl, nil
	}

	if len(tpl.UpdateColumns) > 0 {
		update := c.update(info, tpl.UpdateColumns)
		tpl.Update = &update
	}
	del := c.delete(info)
	tpl.Delete = &del

	byKey := c.selectWhere(info, tpl.SelectColumns, c.keyPredicates(info, info.Alias, nil))
	tpl.SelectByKey = &byKey

	for key, cols := range parentColumns(info) {
		conds := make([]Condition, 0, len(cols))
		for _, col := range cols {
			conds = append(conds, Where(info.Alias, col))
		}
		tpl.SelectByParent[key] = c.selectWhere(info, tpl.SelectColumns, conds)
	}
	return tpl, nil
}

func (c *Compiler) insert(info *mts.EntityInfo, columns []string) Statement {
	cols := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, col := range columns {
		cols[i] = c.quote.Ident(col)
		marks[i] = ":" + col
	}
	return Statement{
		SQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			c.quote.Ident(info.TableName), strings.Join(cols, ", "), strings.Join(marks, ", ")),
		Binds: append([]string(nil), columns...),
	}
}

func (c *Compiler) update(info *mts.EntityInfo, columns []string) Statement {
	sets := make([]string, len(columns))
	for i, col := range columns {
		sets[i] = c.quote.Ident(col) + " = :" + col
	}
	where := And(c.keyPredicates(info, "", func(f *mts.FieldInfo) bool { return f.UpdatePredicate })...)
	return Statement{
		SQL: fmt.Sprintf("UPDATE %s SET %s WHERE %s",
			c.quote.Ident(info.TableName), strings.Join(sets, ", "), where.Render(c.quote)),
		Binds: append(append([]string(nil), columns...), where.Binds()...),
	}
}

func (c *Compiler) delete(info *mts.EntityInfo) Statement {
	where := And(c.keyPredicates(info, "", func(f *mts.FieldInfo) bool { return f.DeletePredicate })...)
	return Statement{
		SQL:   fmt.Sprintf("DELETE FROM %s WHERE %s", c.quote.Ident(info.TableName), where.Render(c.quote)),
		Binds: where.Binds(),
	}
}

// keyPredicates builds the key columns in rank order, minus key fields that
// are also predicates, followed by the predicate columns bound to their
// originals. A nil predicate selects the plain key.
func (c *Compiler) keyPredicates(info *mts.EntityInfo, alias string, predicate func(*mts.FieldInfo) bool) []Condition {
	var conds []Condition
	for _, f := range info.PrimaryKey {
		if predicate != nil && predicate(f) {
			continue
		}
		for _, col := range f.Columns {
			conds = append(conds, Where(alias, col))
		}
	}
	if predicate == nil {
		return conds
	}
	for _, col := range info.Columns {
		if predicate(col.Field) {
			conds = append(conds, WhereOriginal(alias, col.Name, c.cfg.OriginalPrefix))
		}
	}
	return conds
}

func (c *Compiler) selectWhere(info *mts.EntityInfo, columns []string, conds []Condition) Statement {
	cols := make([]string, len(columns))
	for i, col := range columns {
		cols[i] = c.quote.Column(info.Alias, col)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(c.quote.Ident(info.SelectSource()))
	if info.Alias != "" {
		sb.WriteByte(' ')
		sb.WriteString(c.quote.Ident(info.Alias))
	}

	var binds []string
	if len(conds) > 0 {
		where := And(conds...)
		sb.WriteString(" WHERE ")
		sb.WriteString(where.Render(c.quote))
		binds = where.Binds()
	}

	if len(info.Orders) > 0 {
		orders := make([]string, len(info.Orders))
		for i, o := range info.Orders {
			orders[i] = c.quote.Column(info.Alias, o.Column) + " " + string(o.Direction)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(orders, ", "))
	}
	return Statement{SQL: sb.String(), Binds: binds}
}

// parentColumns groups the foreign-constraint columns of info by declared
// source and discriminator, in column order.
func parentColumns(info *mts.EntityInfo) map[ParentKey][]string {
	out := make(map[ParentKey][]string)
	for _, f := range info.Fields {
		if mts.GenerationStrategy(f) != mts.GenerationForeignConstraint {
			continue
		}
		for _, source := range f.Sources {
			key := ParentKey{Parent: source, Discriminator: f.Discriminator}
			out[key] = append(out[key], f.Columns...)
		}
	}
	return out
}
