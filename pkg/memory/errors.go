package memory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/0x4133/nan/pkg/store"
)

// Sentinel errors for comparison with errors.Is.
var (
	ErrAgentNotFound        = errors.New("agent not found")
	ErrBundleNotFound       = errors.New("bundle not found")
	ErrConsistencyViolation = errors.New("pool index and bundle storage diverged")
	ErrIDCollision          = errors.New("could not allocate a unique bundle id")
	ErrAgentNotEmpty        = errors.New("agent memory is not empty")
	ErrLockTimeout          = errors.New("timed out waiting for agent lock")
	ErrInvalidID            = errors.New("invalid id")

	// Re-exported so callers only need this package.
	ErrStorageUnavailable   = store.ErrStorageUnavailable
	ErrInvalidConfiguration = store.ErrInvalidConfiguration
)

// OperationError records which operation failed and on what entity.
type OperationError struct {
	Op      string // e.g. "pool.add", "agent.attach"
	Kind    string // "bundle", "agent", "lock"
	ID      string
	Message string
	Err     error
}

func (e *OperationError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func opError(op, kind, id string, err error) *OperationError {
	return &OperationError{Op: op, Kind: kind, ID: id, Err: err}
}

// ConsistencyError describes a divergence between the pool index and the
// stored bundles, or a failed rollback that left one behind.
type ConsistencyError struct {
	Op          string
	BundleID    string
	AgentID     string
	IndexEntry  bool // id present in the pool index
	BlobPresent bool // bundle blob present in storage
	Detail      string
	Err         error
}

func (e *ConsistencyError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.BundleID != "" {
		fmt.Fprintf(&b, " [bundle %s]", e.BundleID)
	}
	if e.AgentID != "" {
		fmt.Fprintf(&b, " [agent %s]", e.AgentID)
	}
	fmt.Fprintf(&b, ": %v (indexed=%t, blob=%t)", ErrConsistencyViolation, e.IndexEntry, e.BlobPresent)
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ConsistencyError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConsistencyViolation}
	}
	return []error{ErrConsistencyViolation, e.Err}
}

// IsNotFound reports whether err means a missing agent or bundle.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAgentNotFound) ||
		errors.Is(err, ErrBundleNotFound)
}

// IsRetryable reports transient failures. Consistency violations are never
// retryable even when a storage failure caused them.
func IsRetryable(err error) bool {
	if IsConsistencyError(err) {
		return false
	}
	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrLockTimeout)
}

// IsConsistencyError reports whether err signals index/blob divergence.
func IsConsistencyError(err error) bool {
	return errors.Is(err, ErrConsistencyViolation)
}
