package mts

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ValidateGraph walks root and its child collections depth first, linking
// each child to its parent in the lineage carried by ctx (a new one is
// attached when absent) and calling Validate on every ValidationHook that is
// not DELETED. Broken rules from all entities are merged into one
// *ValidationError. Any other hook error stops the walk and is returned.
func ValidateGraph(ctx context.Context, root Entity) error {
	if root == nil {
		return invalidArgumentf("nil entity")
	}
	lineage := LineageFrom(ctx)
	if lineage == nil {
		lineage = NewLineage()
		ctx = WithLineage(ctx, lineage)
	}

	collected := &ValidationError{}
	if err := validateEntity(ctx, lineage, root, collected); err != nil {
		return err
	}
	if collected.HasRules() {
		Logger().Debug("entity graph failed validation",
			zap.String("entity", fmt.Sprintf("%T", root)),
			zap.String("uuid", root.Base().UUID()),
			zap.Int("broken_rules", len(collected.Rules)))
	}
	return collected.OrNil()
}

func validateEntity(ctx context.Context, lineage *Lineage, e Entity, collected *ValidationError) error {
	b := e.Base()
	if b.IsDeleted() {
		return nil
	}
	if hook, ok := e.(ValidationHook); ok {
		if err := hook.Validate(ctx); err != nil {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				return fmt.Errorf("validating %T: %w", e, err)
			}
			for _, r := range verr.Rules {
				if r.CorrelationID == "" {
					r.CorrelationID = b.UUID()
				}
				r.Sequence = 0
				collected.Add(r)
			}
		}
	}
	for _, token := range b.ChildTokens() {
		for _, child := range b.Children(token) {
			lineage.Link(e, child)
			if err := validateEntity(ctx, lineage, child, collected); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteGraph marks e DELETED, cascading into children when requested, and
// calls AfterDelete on every entity whose state changed.
func DeleteGraph(ctx context.Context, e Entity, cascade bool) error {
	var changed []Entity
	collectUndeleted(e, cascade, &changed)
	e.Base().Delete(cascade)
	for _, d := range changed {
		if hook, ok := d.(AfterDeleteHook); ok {
			if err := hook.AfterDelete(ctx); err != nil {
				return fmt.Errorf("after delete %T: %w", d, err)
			}
		}
	}
	return nil
}

func collectUndeleted(e Entity, cascade bool, out *[]Entity) {
	b := e.Base()
	if !b.IsDeleted() {
		*out = append(*out, e)
	}
	if !cascade {
		return
	}
	for _, token := range b.ChildTokens() {
		for _, child := range b.Children(token) {
			collectUndeleted(child, true, out)
		}
	}
}

// ResetGraph resets e and every descendant to UNSET after a successful
// round trip. Children left DELETED are removed from their collections.
func ResetGraph(ctx context.Context, e Entity) error {
	b := e.Base()
	if hook, ok := e.(BeforeResetHook); ok {
		if err := hook.BeforeReset(ctx); err != nil {
			return fmt.Errorf("before reset %T: %w", e, err)
		}
	}
	for _, token := range b.ChildTokens() {
		var kept []Entity
		for _, child := range b.Children(token) {
			if child.Base().IsDeleted() {
				continue
			}
			if err := ResetGraph(ctx, child); err != nil {
				return err
			}
			kept = append(kept, child)
		}
		b.SetChildren(token, kept)
	}
	b.Reset()
	return nil
}
