package mts

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// =====================================
// Entity Metadata
// =====================================

// EntityInfo is the compiled, immutable metadata of one entity type.
// It is computed once per type and shared for the process lifetime.
type EntityInfo struct {
	Type       reflect.Type
	Name       string
	TableName  string
	Alias      string
	View       string
	Keyless    bool
	Auditable  bool
	ReadOnly   bool
	Parent     ParentBehavior
	PrimaryKey []*FieldInfo
	Fields     []*FieldInfo
	Columns    []*ColumnInfo
	References []*FieldInfo
	Relations  []Relationship
	Orders     []Order

	fieldsByName     map[string]*FieldInfo
	relationsByChild map[reflect.Type][]Relationship
	relationsByToken map[string]Relationship
}

// FieldInfo contains metadata about a mapped field
type FieldInfo struct {
	Name          string
	Index         []int
	Type          reflect.Type
	Columns       []string
	IsPrimaryKey  bool
	Rank          int
	Generation    GenerationSource
	Sources       []string
	Discriminator string

	IsReference           bool
	IsUpdateableReference bool

	Selectable      bool
	Insertable      bool
	Updateable      bool
	UpdatePredicate bool
	DeletePredicate bool

	EnumGetter string
	EnumSetter string
	BoolMode   BoolMode
	IsAuditID  bool

	SortRank int
	SortDesc bool

	hasRank bool
}

// ColumnInfo is one column of a mapped field. Reference fields to entities
// with composite keys contribute one column per referenced key column.
type ColumnInfo struct {
	Name            string
	Field           *FieldInfo
	Position        int
	IsPrimaryKey    bool
	Selectable      bool
	Insertable      bool
	Updateable      bool
	UpdatePredicate bool
	DeletePredicate bool
}

// Relationship declares a parent -> child edge. QueryToken addresses the
// edge when a parent has several relationships to the same child type.
type Relationship struct {
	Child           reflect.Type
	QueryToken      string
	AutoRetrieve    bool
	NotFoundAllowed bool
	Cascade         bool
}

// RelationshipDeclarer is implemented by entities that own child collections.
type RelationshipDeclarer interface {
	Relationships() []Relationship
}

// ParentBehavior describes what a parent may do to its children.
type ParentBehavior struct {
	AddAllowed      bool
	UpdateAllowed   bool
	DeleteAllowed   bool
	AddsChildren    bool
	UpdatesChildren bool
	DeletesChildren bool
}

func defaultParentBehavior() ParentBehavior {
	return ParentBehavior{AddAllowed: true, UpdateAllowed: true, DeleteAllowed: true}
}

// Field returns the mapped field with the given Go name.
func (i *EntityInfo) Field(name string) (*FieldInfo, bool) {
	f, ok := i.fieldsByName[name]
	return f, ok
}

// RelationsByChild returns the relationships keyed by child type.
func (i *EntityInfo) RelationsByChild() map[reflect.Type][]Relationship {
	out := make(map[reflect.Type][]Relationship, len(i.relationsByChild))
	for k, v := range i.relationsByChild {
		out[k] = append([]Relationship(nil), v...)
	}
	return out
}

// RelationsByToken returns the relationships keyed by query token.
func (i *EntityInfo) RelationsByToken() map[string]Relationship {
	out := make(map[string]Relationship, len(i.relationsByToken))
	for k, v := range i.relationsByToken {
		out[k] = v
	}
	return out
}

// Relation returns the relationship registered under a query token.
func (i *EntityInfo) Relation(token string) (Relationship, bool) {
	r, ok := i.relationsByToken[token]
	return r, ok
}

// RelationFor resolves the first declared relationship for a child type.
func (i *EntityInfo) RelationFor(child reflect.Type) (Relationship, error) {
	rels := i.relationsByChild[indirectType(child)]
	if len(rels) == 0 {
		return Relationship{}, configErrorf("%s declares no relationship to child %s", i.Name, indirectType(child))
	}
	return rels[0], nil
}

// SelectSource is the relation SELECT statements read from.
func (i *EntityInfo) SelectSource() string {
	if i.View != "" {
		return i.View
	}
	return i.TableName
}

// ValueOf returns the addressable field value of e.
func (f *FieldInfo) ValueOf(e Entity) reflect.Value {
	return reflect.ValueOf(e).Elem().FieldByIndex(f.Index)
}

// ReferencedType returns the entity struct type of a reference field.
func (f *FieldInfo) ReferencedType() reflect.Type {
	if !f.IsReference {
		return nil
	}
	return f.Type.Elem()
}

// =====================================
// Registry
// =====================================

type inspection struct {
	info *EntityInfo
	err  error
}

type foreignKeyQuery struct {
	entity        reflect.Type
	source        reflect.Type
	discriminator string
	generation    uint64
}

type foreignKeyResult struct {
	fields []*FieldInfo
	err    error
}

var (
	entityCache     = xsync.NewMapOf[reflect.Type, inspection]()
	foreignKeyCache = xsync.NewMapOf[foreignKeyQuery, foreignKeyResult]()

	baseEntityType  = reflect.TypeOf(BaseEntity{})
	entityInterface = reflect.TypeOf((*Entity)(nil)).Elem()
	timeType        = reflect.TypeOf(time.Time{})
)

// Inspect returns the metadata of an entity type, computing it on first use.
// Concurrent first use may compute twice; the first stored result wins.
func Inspect(t reflect.Type) (*EntityInfo, error) {
	t = indirectType(t)
	if cached, ok := entityCache.Load(t); ok {
		return cached.info, cached.err
	}

	info, err := inspect(t)
	actual, loaded := entityCache.LoadOrStore(t, inspection{info: info, err: err})
	if !loaded {
		if err != nil {
			Logger().Debug("entity metadata rejected", zap.Stringer("type", t), zap.Error(err))
		} else {
			Logger().Debug("entity metadata compiled",
				zap.Stringer("type", t),
				zap.String("table", info.TableName),
				zap.Int("columns", len(info.Columns)),
				zap.Int("primary_key", len(info.PrimaryKey)),
				zap.Int("relations", len(info.Relations)))
		}
	}
	return actual.info, actual.err
}

// InfoOf returns the metadata of an entity instance's type.
func InfoOf(e Entity) (*EntityInfo, error) {
	if e == nil {
		return nil, invalidArgumentf("nil entity")
	}
	return Inspect(reflect.TypeOf(e))
}

// PrimaryKeyFields returns the key fields of t ordered by declared rank.
func PrimaryKeyFields(t reflect.Type) ([]*FieldInfo, error) {
	info, err := Inspect(t)
	if err != nil {
		return nil, err
	}
	return info.PrimaryKey, nil
}

// ForeignKeyFields returns the fields of t generated from a foreign constraint
// against source. A non-empty discriminator keeps only fields declaring that
// field name. No match yields an empty slice, not an error.
func ForeignKeyFields(t, source reflect.Type, discriminator string) ([]*FieldInfo, error) {
	q := foreignKeyQuery{
		entity:        indirectType(t),
		source:        indirectType(source),
		discriminator: discriminator,
		generation:    Types().Generation(),
	}
	res, _ := foreignKeyCache.LoadOrCompute(q, func() foreignKeyResult {
		info, err := Inspect(q.entity)
		if err != nil {
			return foreignKeyResult{err: err}
		}
		var fields []*FieldInfo
		for _, f := range info.Fields {
			if f.Generation != GenerationForeignConstraint || !f.sourcedFrom(q.source) {
				continue
			}
			if q.discriminator != "" && f.Discriminator != q.discriminator {
				continue
			}
			fields = append(fields, f)
		}
		return foreignKeyResult{fields: fields}
	})
	return res.fields, res.err
}

// RelationshipsByChild returns the parent/child edges of t keyed by child type.
func RelationshipsByChild(t reflect.Type) (map[reflect.Type][]Relationship, error) {
	info, err := Inspect(t)
	if err != nil {
		return nil, err
	}
	return info.RelationsByChild(), nil
}

// RelationshipsByToken returns the parent/child edges of t keyed by query token.
func RelationshipsByToken(t reflect.Type) (map[string]Relationship, error) {
	info, err := Inspect(t)
	if err != nil {
		return nil, err
	}
	return info.RelationsByToken(), nil
}

// GenerationStrategy returns the declared generated-value strategy of a field.
func GenerationStrategy(f *FieldInfo) GenerationSource {
	if f == nil || f.Generation == "" {
		return GenerationNone
	}
	return f.Generation
}

// IsKeyless reports whether t is tagged nopk.
func IsKeyless(t reflect.Type) (bool, error) {
	info, err := Inspect(t)
	if err != nil {
		return false, err
	}
	return info.Keyless, nil
}

// IsAuditable reports whether t is tagged audit.
func IsAuditable(t reflect.Type) (bool, error) {
	info, err := Inspect(t)
	if err != nil {
		return false, err
	}
	return info.Auditable, nil
}

// IsReadOnly reports whether t is tagged readonly.
func IsReadOnly(t reflect.Type) (bool, error) {
	info, err := Inspect(t)
	if err != nil {
		return false, err
	}
	return info.ReadOnly, nil
}

// ParentBehaviorOf returns the parent behavior flags of t.
func ParentBehaviorOf(t reflect.Type) (ParentBehavior, error) {
	info, err := Inspect(t)
	if err != nil {
		return ParentBehavior{}, err
	}
	return info.Parent, nil
}

// sourcedFrom matches a source name against the type name, its package
// qualified form, or any name source is registered under.
func (f *FieldInfo) sourcedFrom(source reflect.Type) bool {
	for _, name := range f.Sources {
		if name == source.Name() || name == source.String() {
			return true
		}
		if t, err := Types().Lookup(name); err == nil && t == source {
			return true
		}
	}
	return false
}

// =====================================
// Tag compilation
// =====================================

type parsedEntity struct {
	classTag tagOptions
	own      []*FieldInfo
	base     []*FieldInfo
}

func inspect(t reflect.Type) (*EntityInfo, error) {
	parsed, err := parseEntity(t)
	if err != nil {
		return nil, err
	}

	class := parsed.classTag
	info := &EntityInfo{
		Type:             t,
		Name:             t.Name(),
		TableName:        class.Get("table"),
		Alias:            class.Get("alias"),
		View:             class.Get("view"),
		Keyless:          class.Has("nopk"),
		Auditable:        class.Has("audit"),
		ReadOnly:         class.Has("readonly"),
		Parent:           defaultParentBehavior(),
		fieldsByName:     make(map[string]*FieldInfo),
		relationsByChild: make(map[reflect.Type][]Relationship),
		relationsByToken: make(map[string]Relationship),
	}
	if info.TableName == "" {
		info.TableName = TableName(t.Name())
	}
	for _, flag := range class.List("parent") {
		switch flag {
		case "noadd":
			info.Parent.AddAllowed = false
		case "noupdate":
			info.Parent.UpdateAllowed = false
		case "nodelete":
			info.Parent.DeleteAllowed = false
		case "addschildren":
			info.Parent.AddsChildren = true
		case "updateschildren":
			info.Parent.UpdatesChildren = true
		case "deleteschildren":
			info.Parent.DeletesChildren = true
		default:
			return nil, configErrorf("%s: unknown parent behavior %q", t.Name(), flag)
		}
	}

	fields := append([]*FieldInfo(nil), parsed.own...)
	for _, f := range parsed.base {
		if f.IsAuditID && !info.Auditable {
			continue
		}
		fields = append(fields, f)
	}

	for _, f := range fields {
		if f.IsReference {
			if err := resolveReferenceColumns(t, f); err != nil {
				return nil, err
			}
		}
		if _, dup := info.fieldsByName[f.Name]; dup {
			return nil, configErrorf("%s: field %s is mapped twice", t.Name(), f.Name)
		}
		info.fieldsByName[f.Name] = f
	}
	info.Fields = fields

	pk, err := orderPrimaryKey(t, fields)
	if err != nil {
		return nil, err
	}
	switch {
	case info.Keyless && len(pk) > 0:
		return nil, configErrorf("%s is tagged nopk but declares primary key fields", t.Name())
	case !info.Keyless && len(pk) == 0:
		return nil, configErrorf("%s has no primary key; tag a field pk or the class nopk", t.Name())
	}
	info.PrimaryKey = pk

	seen := make(map[string]bool)
	for _, f := range fields {
		for pos, col := range f.Columns {
			if seen[col] {
				return nil, configErrorf("%s: column %s is mapped twice", t.Name(), col)
			}
			seen[col] = true
			info.Columns = append(info.Columns, &ColumnInfo{
				Name:            col,
				Field:           f,
				Position:        pos,
				IsPrimaryKey:    f.IsPrimaryKey,
				Selectable:      f.Selectable,
				Insertable:      f.Insertable,
				Updateable:      f.Updateable,
				UpdatePredicate: f.UpdatePredicate,
				DeletePredicate: f.DeletePredicate,
			})
		}
		if f.IsReference {
			info.References = append(info.References, f)
		}
		if f.SortRank > 0 {
			dir := OrderAsc
			if f.SortDesc {
				dir = OrderDesc
			}
			info.Orders = append(info.Orders, Order{Field: f.Name, Column: f.Columns[0], Direction: dir})
		}
	}
	sort.SliceStable(info.Orders, func(a, b int) bool {
		return info.fieldsByName[info.Orders[a].Field].SortRank < info.fieldsByName[info.Orders[b].Field].SortRank
	})

	if err := collectRelations(info); err != nil {
		return nil, err
	}
	return info, nil
}

func collectRelations(info *EntityInfo) error {
	declarer, ok := reflect.New(info.Type).Interface().(RelationshipDeclarer)
	if !ok {
		return nil
	}
	for _, rel := range declarer.Relationships() {
		rel.Child = indirectType(rel.Child)
		if rel.Child == nil || rel.Child.Kind() != reflect.Struct || !reflect.PointerTo(rel.Child).Implements(entityInterface) {
			return configErrorf("%s: relationship child %v is not an entity", info.Name, rel.Child)
		}
		if rel.QueryToken == "" {
			rel.QueryToken = rel.Child.Name()
		}
		if _, dup := info.relationsByToken[rel.QueryToken]; dup {
			return configErrorf("%s: duplicate relationship query token %q", info.Name, rel.QueryToken)
		}
		info.Relations = append(info.Relations, rel)
		info.relationsByToken[rel.QueryToken] = rel
		info.relationsByChild[rel.Child] = append(info.relationsByChild[rel.Child], rel)
	}
	return nil
}

func parseEntity(t reflect.Type) (*parsedEntity, error) {
	if t == nil || t.Kind() != reflect.Struct {
		return nil, configErrorf("entity type must be a struct, got %v", t)
	}
	if !reflect.PointerTo(t).Implements(entityInterface) {
		return nil, configErrorf("%s does not embed mts.BaseEntity", t)
	}
	p := &parsedEntity{}
	if err := p.walk(t, t, nil); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *parsedEntity) walk(owner, t reflect.Type, index []int) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		idx := append(append([]int(nil), index...), i)
		tag := sf.Tag.Get("mts")
		if tag == "-" {
			continue
		}

		if sf.Anonymous {
			switch {
			case sf.Type == baseEntityType:
				p.classTag = parseTag(tag)
				for j := 0; j < baseEntityType.NumField(); j++ {
					bf := baseEntityType.Field(j)
					if !bf.IsExported() {
						continue
					}
					f, err := newFieldInfo(owner, bf, append(append([]int(nil), idx...), j), parseTag(bf.Tag.Get("mts")))
					if err != nil {
						return err
					}
					p.base = append(p.base, f)
				}
				continue
			case sf.Type.Kind() == reflect.Ptr:
				return configErrorf("%s: embedded pointer %s is not supported", owner.Name(), sf.Name)
			case sf.Type.Kind() == reflect.Struct && sf.Type != timeType:
				if err := p.walk(owner, sf.Type, idx); err != nil {
					return err
				}
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}

		f, err := newFieldInfo(owner, sf, idx, parseTag(tag))
		if err != nil {
			return err
		}
		p.own = append(p.own, f)
	}
	return nil
}

func newFieldInfo(owner reflect.Type, sf reflect.StructField, index []int, opts tagOptions) (*FieldInfo, error) {
	f := &FieldInfo{
		Name:            sf.Name,
		Index:           index,
		Type:            sf.Type,
		Columns:         opts.List("column"),
		IsPrimaryKey:    opts.Has("pk"),
		Generation:      GenerationNone,
		Sources:         opts.List("source"),
		Discriminator:   opts.Get("fieldname"),
		Selectable:      !opts.Has("noselect"),
		Insertable:      !opts.Has("noinsert"),
		Updateable:      !opts.Has("noupdate"),
		UpdatePredicate: opts.Has("updatepred"),
		DeletePredicate: opts.Has("deletepred"),
		IsAuditID:       opts.Has("auditid"),
		SortDesc:        opts.Has("desc"),
	}
	where := owner.Name() + "." + sf.Name

	if f.IsPrimaryKey {
		f.Updateable = false
	}
	if opts.Has("rank") {
		rank, err := strconv.Atoi(opts.Get("rank"))
		if err != nil || rank < 0 {
			return nil, configErrorf("%s: invalid key rank %q", where, opts.Get("rank"))
		}
		f.Rank, f.hasRank = rank, true
	}

	if opts.Count("gen") > 1 {
		return nil, configErrorf("%s: more than one generated-value tag", where)
	}
	switch gen := opts.Get("gen"); gen {
	case "":
		if len(f.Sources) > 0 {
			f.Generation = GenerationForeignConstraint
		}
	case "none":
	case "auto":
		f.Generation = GenerationAuto
	case "sequence":
		f.Generation = GenerationSequence
	case "foreign":
		f.Generation = GenerationForeignConstraint
	default:
		return nil, configErrorf("%s: unknown generated-value strategy %q", where, gen)
	}
	if f.Generation == GenerationForeignConstraint && len(f.Sources) == 0 {
		return nil, configErrorf("%s: foreign constraint without source", where)
	}
	if f.Generation != GenerationForeignConstraint && len(f.Sources) > 0 {
		return nil, configErrorf("%s: source declared for %s strategy", where, f.Generation)
	}

	switch {
	case isEntityPointer(sf.Type):
		f.IsReference = true
		f.IsUpdateableReference = !opts.Has("readonly")
		if !f.IsUpdateableReference {
			f.Updateable = false
		}
	case opts.Has("ref"):
		return nil, configErrorf("%s: reference fields must be pointers to entities, got %s", where, sf.Type)
	case reflect.PointerTo(sf.Type).Implements(entityInterface) && sf.Type.Kind() == reflect.Struct:
		return nil, configErrorf("%s: entity value field; use a pointer reference", where)
	case (sf.Type.Kind() == reflect.Slice || sf.Type.Kind() == reflect.Array) && isEntityPointer(sf.Type.Elem()):
		return nil, configErrorf("%s: child collections are declared with Relationships, not fields", where)
	}
	if !f.IsReference && len(f.Columns) == 0 {
		f.Columns = []string{ColumnName(sf.Name)}
	}
	if !f.IsReference && len(f.Columns) > 1 {
		return nil, configErrorf("%s: only reference fields may map several columns", where)
	}

	if opts.Has("sort") {
		rank, err := strconv.Atoi(opts.Get("sort"))
		if err != nil || rank <= 0 {
			return nil, configErrorf("%s: invalid sort rank %q", where, opts.Get("sort"))
		}
		f.SortRank = rank
	}

	if opts.Has("enum") {
		pair := opts.List("enum")
		if len(pair) != 2 {
			return nil, configErrorf("%s: enum accessor must be Getter|Setter", where)
		}
		f.EnumGetter, f.EnumSetter = pair[0], pair[1]
	}

	switch mode := BoolMode(opts.Get("bool")); mode {
	case "", BoolNative, BoolChar:
		f.BoolMode = mode
	default:
		return nil, configErrorf("%s: unknown bool mode %q", where, mode)
	}
	return f, nil
}

func orderPrimaryKey(t reflect.Type, fields []*FieldInfo) ([]*FieldInfo, error) {
	var pk []*FieldInfo
	for _, f := range fields {
		if f.IsPrimaryKey {
			pk = append(pk, f)
		}
	}
	if len(pk) <= 1 {
		return pk, nil
	}
	ranks := make(map[int]string, len(pk))
	for _, f := range pk {
		if !f.hasRank {
			return nil, configErrorf("%s: composite key field %s has no rank", t.Name(), f.Name)
		}
		if other, dup := ranks[f.Rank]; dup {
			return nil, configErrorf("%s: key fields %s and %s share rank %d", t.Name(), other, f.Name, f.Rank)
		}
		ranks[f.Rank] = f.Name
	}
	sort.SliceStable(pk, func(a, b int) bool { return pk[a].Rank < pk[b].Rank })
	return pk, nil
}

// resolveReferenceColumns defaults a reference field's columns to the key
// columns of the referenced type and checks declared columns against them.
func resolveReferenceColumns(owner reflect.Type, f *FieldInfo) error {
	keyCols, err := keyColumns(f.Type.Elem(), map[reflect.Type]bool{})
	if err != nil {
		return fmt.Errorf("%s.%s: %w", owner.Name(), f.Name, err)
	}
	if len(f.Columns) == 0 {
		f.Columns = keyCols
		return nil
	}
	if len(f.Columns) != len(keyCols) {
		return configErrorf("%s.%s declares %d columns but %s has %d key columns",
			owner.Name(), f.Name, len(f.Columns), f.Type.Elem().Name(), len(keyCols))
	}
	return nil
}

// keyColumns computes the key columns of t without compiling its full
// metadata, so mutually referencing entities do not recurse forever.
func keyColumns(t reflect.Type, visiting map[reflect.Type]bool) ([]string, error) {
	if visiting[t] {
		return nil, configErrorf("primary key of %s references itself", t.Name())
	}
	visiting[t] = true
	defer delete(visiting, t)

	parsed, err := parseEntity(t)
	if err != nil {
		return nil, err
	}
	if parsed.classTag.Has("nopk") {
		return nil, configErrorf("%s is keyless and cannot be referenced", t.Name())
	}
	pk, err := orderPrimaryKey(t, append(append([]*FieldInfo(nil), parsed.own...), parsed.base...))
	if err != nil {
		return nil, err
	}
	if len(pk) == 0 {
		return nil, configErrorf("%s has no primary key", t.Name())
	}
	var cols []string
	for _, f := range pk {
		if f.IsReference && len(f.Columns) == 0 {
			nested, err := keyColumns(f.Type.Elem(), visiting)
			if err != nil {
				return nil, err
			}
			cols = append(cols, nested...)
			continue
		}
		cols = append(cols, f.Columns...)
	}
	return cols, nil
}

func isEntityPointer(t reflect.Type) bool {
	return t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Struct && t.Implements(entityInterface)
}
