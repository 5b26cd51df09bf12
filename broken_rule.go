package mts

import (
	"fmt"
	"strings"
)

// BrokenRule is one validation failure, correlated to an entity instance
// and one of its properties.
type BrokenRule struct {
	// Key identifies the rule message, e.g. "patient.lastname.required".
	Key string `json:"key" yaml:"key"`
	// Bundle names the message catalogue the key belongs to.
	Bundle string `json:"bundle,omitempty" yaml:"bundle,omitempty"`
	// Property is the Go field name that failed.
	Property string `json:"property,omitempty" yaml:"property,omitempty"`
	// Reason is the fallback text when the key cannot be resolved.
	Reason   string        `json:"reason" yaml:"reason"`
	Sequence int           `json:"sequence" yaml:"sequence"`
	Values   []interface{} `json:"values,omitempty" yaml:"values,omitempty"`
	// CorrelationID is the identity token of the failing entity.
	CorrelationID string `json:"correlation_id,omitempty" yaml:"correlation_id,omitempty"`
}

func (r BrokenRule) String() string {
	var sb strings.Builder
	if r.Property != "" {
		sb.WriteString(r.Property)
		sb.WriteString(": ")
	}
	if r.Reason != "" {
		sb.WriteString(r.Reason)
	} else {
		sb.WriteString(r.Key)
	}
	return sb.String()
}

// ValidationError carries the broken rules collected for an entity graph.
type ValidationError struct {
	Rules []BrokenRule
}

// NewValidationError creates a ValidationError holding rules.
func NewValidationError(rules ...BrokenRule) *ValidationError {
	v := &ValidationError{}
	for _, r := range rules {
		v.Add(r)
	}
	return v
}

func (v *ValidationError) Error() string {
	switch len(v.Rules) {
	case 0:
		return fmt.Sprintf("%s: no broken rules", ErrorTypeValidation)
	case 1:
		return fmt.Sprintf("%s: %s", ErrorTypeValidation, v.Rules[0])
	}
	parts := make([]string, len(v.Rules))
	for i, r := range v.Rules {
		parts[i] = r.String()
	}
	return fmt.Sprintf("%s: %d broken rules: %s", ErrorTypeValidation, len(v.Rules), strings.Join(parts, "; "))
}

// Is matches mts.Error values of the validation type.
func (v *ValidationError) Is(target error) bool {
	if t, ok := target.(Error); ok {
		return t.Type == ErrorTypeValidation
	}
	return false
}

// Add appends a rule, assigning the next sequence number when unset.
func (v *ValidationError) Add(r BrokenRule) {
	if r.Sequence == 0 {
		r.Sequence = len(v.Rules) + 1
	}
	v.Rules = append(v.Rules, r)
}

// AddForEntity appends a rule correlated to e.
func (v *ValidationError) AddForEntity(e Entity, property, key, reason string, values ...interface{}) {
	v.Add(BrokenRule{
		Key:           key,
		Property:      property,
		Reason:        reason,
		Values:        values,
		CorrelationID: e.Base().UUID(),
	})
}

// Merge appends the rules of other, renumbering them.
func (v *ValidationError) Merge(other *ValidationError) {
	if other == nil {
		return
	}
	for _, r := range other.Rules {
		r.Sequence = 0
		v.Add(r)
	}
}

// HasRules reports whether any rule was recorded.
func (v *ValidationError) HasRules() bool {
	return v != nil && len(v.Rules) > 0
}

// OrNil returns v as an error when it holds rules, otherwise nil.
func (v *ValidationError) OrNil() error {
	if !v.HasRules() {
		return nil
	}
	return v
}

// RulesFor returns the rules correlated to e.
func (v *ValidationError) RulesFor(e Entity) []BrokenRule {
	id := e.Base().UUID()
	var out []BrokenRule
	for _, r := range v.Rules {
		if r.CorrelationID == id {
			out = append(out, r)
		}
	}
	return out
}
