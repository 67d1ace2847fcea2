package core

import (
	"errors"
	"fmt"
	"strings"

	"entitygraph/pkg/identity"
	"entitygraph/pkg/storage"
)

var (
	// ErrDanglingReference is returned when a to-one target row no longer exists.
	ErrDanglingReference = errors.New("dangling reference")
	// ErrUnresolvableInsertOrder is returned when required references form a cycle.
	ErrUnresolvableInsertOrder = errors.New("unresolvable insert order")
	// ErrStoreExecution wraps every backing store failure.
	ErrStoreExecution = errors.New("store execution failed")
	// ErrNotFound is returned when FindOne matches no row.
	ErrNotFound = errors.New("entity not found")
	// ErrGlobalContext is returned when the manager's global session is used
	// without AllowGlobalContext.
	ErrGlobalContext = errors.New("global session context is disabled; fork a session")
	// ErrMissingReference is returned when a required owning reference is unset at flush.
	ErrMissingReference = errors.New("missing required reference")
	// ErrCollectionNotLoaded is returned when reading an uninitialised collection.
	ErrCollectionNotLoaded = errors.New("collection not loaded")
	// ErrCollectionLoading is returned on re-entrant collection loads.
	ErrCollectionLoading = errors.New("collection is loading")
	// ErrDetached is returned when persisting an instance a session has let go of.
	ErrDetached = errors.New("entity is detached")
	// ErrIdentityConflict is returned when a second instance claims a managed identity.
	ErrIdentityConflict = errors.New("identity already managed by another instance")
	// ErrTransactionActive is returned by Begin inside an open transaction.
	ErrTransactionActive = errors.New("transaction already active")
	// ErrNoTransaction is returned by Commit or Rollback without Begin.
	ErrNoTransaction = errors.New("no active transaction")
	// ErrKindMismatch is returned when a relation is given an entity of the wrong kind.
	ErrKindMismatch = errors.New("entity kind mismatch")
)

// NotFoundError names the kind and id a lookup missed.
type NotFoundError struct {
	Kind string
	ID   identity.ID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// Unwrap lets errors.Is match ErrNotFound.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// DanglingReferenceError reports which relation points at a missing row.
type DanglingReferenceError struct {
	Kind     string
	Relation string
	Target   string
	ID       identity.ID
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("%s.%s references missing %s %s", e.Kind, e.Relation, e.Target, e.ID)
}

// Unwrap lets errors.Is match ErrDanglingReference.
func (e *DanglingReferenceError) Unwrap() error { return ErrDanglingReference }

// InsertOrderError carries one witness cycle of pending entities.
type InsertOrderError struct {
	Cycle []string
}

func (e *InsertOrderError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnresolvableInsertOrder, strings.Join(e.Cycle, " -> "))
}

// Unwrap lets errors.Is match ErrUnresolvableInsertOrder.
func (e *InsertOrderError) Unwrap() error { return ErrUnresolvableInsertOrder }

// StoreError wraps a store failure together with the statement that caused it.
type StoreError struct {
	Op    storage.EventKind
	Table string
	Err   error
}

func (e *StoreError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s: %s: %v", ErrStoreExecution, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %s: %v", ErrStoreExecution, e.Op, e.Table, e.Err)
}

// Unwrap exposes the driver error.
func (e *StoreError) Unwrap() error { return e.Err }

// Is matches ErrStoreExecution.
func (e *StoreError) Is(target error) bool { return target == ErrStoreExecution }
