package dml

import "strings"

// =====================================
// Predicate Building
// =====================================

// Operator is a comparison operator in a predicate.
type Operator string

const (
	OpEqual    Operator = "="
	OpNotEqual Operator = "<>"
)

// LogicOperator joins predicates.
type LogicOperator string

const (
	LogicAnd LogicOperator = "AND"
	LogicOr  LogicOperator = "OR"
)

// Condition is one WHERE predicate with named bind placeholders.
type Condition interface {
	Render(q Quoter) string
	Binds() []string
}

// BasicCondition compares a column with a named bind value.
type BasicCondition struct {
	Alias  string
	Column string
	Op     Operator
	Bind   string
}

func (c BasicCondition) Render(q Quoter) string {
	return q.Column(c.Alias, c.Column) + " " + string(c.Op) + " :" + c.Bind
}

func (c BasicCondition) Binds() []string {
	return []string{c.Bind}
}

// CompositeCondition for AND/OR operations
type CompositeCondition struct {
	Conditions []Condition
	Logic      LogicOperator
}

func (c CompositeCondition) Render(q Quoter) string {
	if len(c.Conditions) == 0 {
		return ""
	}
	parts := make([]string, 0, len(c.Conditions))
	for _, cond := range c.Conditions {
		parts = append(parts, cond.Render(q))
	}
	if c.Logic == LogicAnd {
		return strings.Join(parts, " AND ")
	}
	return "(" + strings.Join(parts, " "+string(c.Logic)+" ") + ")"
}

func (c CompositeCondition) Binds() []string {
	var binds []string
	for _, cond := range c.Conditions {
		binds = append(binds, cond.Binds()...)
	}
	return binds
}

// Where creates an equality predicate bound to the column's own name.
func Where(alias, column string) Condition {
	return BasicCondition{Alias: alias, Column: column, Op: OpEqual, Bind: column}
}

// WhereOriginal creates an equality predicate bound to the column's
// original value.
func WhereOriginal(alias, column, prefix string) Condition {
	return BasicCondition{Alias: alias, Column: column, Op: OpEqual, Bind: prefix + column}
}

// And creates an AND composite condition
func And(conditions ...Condition) Condition {
	return CompositeCondition{Conditions: conditions, Logic: LogicAnd}
}

// Or creates an OR composite condition
func Or(conditions ...Condition) Condition {
	return CompositeCondition{Conditions: conditions, Logic: LogicOr}
}
