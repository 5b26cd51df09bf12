package mts

// =====================================
// Core Types and Constants
// =====================================

// State is the dirty-state of an entity instance: which persistence action,
// if any, it requires.
type State string

const (
	StateNew         State = "NEW"
	StateNewModified State = "NEWMODIFIED"
	StateUpdated     State = "UPDATED"
	StateDeleted     State = "DELETED"
	StateUnset       State = "UNSET"
)

// IsNew reports whether the state is NEW or NEWMODIFIED.
func (s State) IsNew() bool {
	return s == StateNew || s == StateNewModified
}

// GenerationSource is the declared origin of a key value.
type GenerationSource string

const (
	GenerationNone              GenerationSource = "NONE"
	GenerationAuto              GenerationSource = "AUTO"
	GenerationSequence          GenerationSource = "SEQUENCE"
	GenerationForeignConstraint GenerationSource = "FOREIGN_CONSTRAINT"
)

// Order represents a default sort declaration
type Order struct {
	Field     string
	Column    string
	Direction OrderDirection
}

// OrderDirection represents sort direction
type OrderDirection string

const (
	OrderAsc  OrderDirection = "ASC"
	OrderDesc OrderDirection = "DESC"
)

// BoolMode selects how booleans are represented in bind values and rows.
type BoolMode string

const (
	BoolNative BoolMode = "native"
	BoolChar   BoolMode = "char"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeConfiguration   ErrorType = "configuration"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeInvalidArgument ErrorType = "invalid_argument"
	ErrorTypePrecisionLoss   ErrorType = "precision_loss"
	ErrorTypeUnsupported     ErrorType = "unsupported"
	ErrorTypeState           ErrorType = "state"
	ErrorTypeInternal        ErrorType = "internal"
)
