package mts

import "context"

// =====================================
// Entity Hook Interfaces
// =====================================

// ValidationHook is called by ValidateGraph for every entity that is not
// DELETED. Return a *ValidationError to report broken rules; any other
// error aborts the walk.
type ValidationHook interface {
	Validate(ctx context.Context) error
}

// BeforeResetHook is called before ResetGraph moves an entity to UNSET.
type BeforeResetHook interface {
	BeforeReset(ctx context.Context) error
}

// AfterDeleteHook is called after an entity is marked DELETED by DeleteGraph.
type AfterDeleteHook interface {
	AfterDelete(ctx context.Context) error
}
