package run

import (
	"errors"
	"fmt"
)

// SchemaInconsistencyError reports malformed source metadata or a malformed
// hierarchy description. It is fatal and raised before anything is written.
type SchemaInconsistencyError struct {
	Subject string // table, entity or hierarchy node involved
	Message string
}

func (e *SchemaInconsistencyError) Error() string {
	return fmt.Sprintf("schema inconsistency: %s: %s", e.Subject, e.Message)
}

// UnsupportedTypeWarning records a source type without a destination mapping.
// The property falls back to a string representation.
type UnsupportedTypeWarning struct {
	Entity     string
	Column     string
	SourceType string
}

func (e *UnsupportedTypeWarning) Error() string {
	return fmt.Sprintf("unsupported type %q for %s.%s, falling back to string", e.SourceType, e.Entity, e.Column)
}

// MissingReferenceWarning records a relationship whose target is not part of
// the analyzed schema or model. The relationship is skipped.
type MissingReferenceWarning struct {
	Entity string
	Target string
	Reason string
}

func (e *MissingReferenceWarning) Error() string {
	return fmt.Sprintf("relationship %s -> %s skipped: %s", e.Entity, e.Target, e.Reason)
}

// RowExtractionError reports a single row or value that could not be read or
// converted. The affected vertex or edge is skipped.
type RowExtractionError struct {
	Entity string
	Key    map[string]any
	Column string
	Err    error
}

func (e *RowExtractionError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("row extraction failed: %s %v column %s: %v", e.Entity, e.Key, e.Column, e.Err)
	}
	return fmt.Sprintf("row extraction failed: %s %v: %v", e.Entity, e.Key, e.Err)
}

func (e *RowExtractionError) Unwrap() error { return e.Err }

// HierarchyDriftError reports a class whose superclass in the destination
// differs from the modeled parent.
type HierarchyDriftError struct {
	Class   string
	Stored  string
	Modeled string
}

func (e *HierarchyDriftError) Error() string {
	return fmt.Sprintf("unsupported hierarchy change on class %s: destination superclass %q, modeled parent %q",
		e.Class, e.Stored, e.Modeled)
}

// StoreCommunicationError wraps a transport or connection failure talking to
// either the source or the destination.
type StoreCommunicationError struct {
	Op  string
	Err error
}

func (e *StoreCommunicationError) Error() string {
	return fmt.Sprintf("store communication failed during %s: %v", e.Op, e.Err)
}

func (e *StoreCommunicationError) Unwrap() error { return e.Err }

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var (
		sie *SchemaInconsistencyError
		hde *HierarchyDriftError
		sce *StoreCommunicationError
	)
	return errors.As(err, &sie) || errors.As(err, &hde) || errors.As(err, &sce)
}
