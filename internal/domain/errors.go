package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrInvalidChildren = errors.New("invalid children")
	ErrDocumentStore   = errors.New("document store error")
)

// Domain error types. Each pairs with a sentinel via Is() so callers can
// branch with errors.Is without losing the structured fields.
type (
	// NotFoundError indicates a referenced block, parent, or child does not
	// exist (or is hidden by trash filtering).
	NotFoundError struct {
		Kind string // "block", "parent", "child", "relationship"
		ID   uuid.UUID
	}

	// VersionConflictError indicates an optimistic-concurrency precondition
	// failed. Callers must re-read current state and resubmit if desired.
	VersionConflictError struct {
		ID       uuid.UUID
		Expected int
		Found    int
	}

	// InvalidChildrenError indicates a structural violation: duplicate child,
	// self-parenting, cycle, or cross-root assignment.
	InvalidChildrenError struct {
		Reason string
	}

	// DocumentStoreError indicates a facade-level policy violation, e.g. a
	// non-document root or a missing insert-after sibling.
	DocumentStoreError struct {
		Message string
	}
)

func (e *NotFoundError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("block %s: not found", e.ID)
	}
	return fmt.Sprintf("%s %s: not found", e.Kind, e.ID)
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("block %s version mismatch: expected %d, found %d", e.ID, e.Expected, e.Found)
}

func (e *InvalidChildrenError) Error() string { return e.Reason }

func (e *DocumentStoreError) Error() string { return e.Message }

// Is hooks for errors.Is matching against the sentinels
func (e *NotFoundError) Is(target error) bool        { return target == ErrNotFound }
func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }
func (e *InvalidChildrenError) Is(target error) bool { return target == ErrInvalidChildren }
func (e *DocumentStoreError) Is(target error) bool   { return target == ErrDocumentStore }
