package mts

import "context"

// Lineage maps each linked entity to its ordered ancestors, nearest last.
// It is scoped to one call tree and is not safe for concurrent use.
type Lineage struct {
	ancestors map[string][]Entity
}

// NewLineage returns an empty lineage.
func NewLineage() *Lineage {
	return &Lineage{ancestors: make(map[string][]Entity)}
}

// Link records parent as an ancestor of child. The child's ancestors become
// the union of its current ancestors, the parent's ancestors and the parent
// itself, without duplicates and in first-seen order.
func (l *Lineage) Link(parent, child Entity) {
	key := child.Base().UUID()
	current := l.ancestors[key]

	seen := make(map[string]bool, len(current)+1)
	for _, a := range current {
		seen[a.Base().UUID()] = true
	}
	add := func(e Entity) {
		id := e.Base().UUID()
		if seen[id] {
			return
		}
		seen[id] = true
		current = append(current, e)
	}
	for _, a := range l.ancestors[parent.Base().UUID()] {
		add(a)
	}
	add(parent)
	l.ancestors[key] = current
}

// Ancestors returns the ancestors recorded for e.
func (l *Lineage) Ancestors(e Entity) []Entity {
	return append([]Entity(nil), l.ancestors[e.Base().UUID()]...)
}

// Parent returns the nearest ancestor of e, or nil.
func (l *Lineage) Parent(e Entity) Entity {
	list := l.ancestors[e.Base().UUID()]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// Len returns the number of entities with recorded ancestors.
func (l *Lineage) Len() int {
	return len(l.ancestors)
}

type lineageKey struct{}

// WithLineage returns a context carrying l. An existing lineage in ctx is
// replaced.
func WithLineage(ctx context.Context, l *Lineage) context.Context {
	return context.WithValue(ctx, lineageKey{}, l)
}

// LineageFrom returns the lineage carried by ctx, or nil.
func LineageFrom(ctx context.Context) *Lineage {
	l, _ := ctx.Value(lineageKey{}).(*Lineage)
	return l
}
