package model

import (
	"errors"
	"fmt"
)

// ErrStateNotFound reports that the on-chain protocol state account does not
// exist yet. Status reads surface it as "not found" instead of failing hard.
var ErrStateNotFound = errors.New("protocol state account not found")

// ValidationError rejects a malformed ingest payload. It is terminal: the
// request is refused, never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// HashCollisionError reports two distinct serials mapping to the same leaf
// hash. Ingestion aborts; the collision is never resolved silently.
type HashCollisionError struct {
	SerialID string
	Existing string
	LeafHash string
}

func (e *HashCollisionError) Error() string {
	return fmt.Sprintf("leaf hash collision: serial %q and %q both hash to %s", e.SerialID, e.Existing, e.LeafHash)
}

// ExternalToolFailure reports a witness, proof or verification failure in the
// proving toolchain. It aborts the whole run; nothing is submitted.
type ExternalToolFailure struct {
	Stage       string
	BatchNumber int
	Err         error
}

func (e *ExternalToolFailure) Error() string {
	return fmt.Sprintf("prover %s failed for batch %d: %v", e.Stage, e.BatchNumber, e.Err)
}

func (e *ExternalToolFailure) Unwrap() error { return e.Err }

// LedgerRPCError reports a ledger RPC call that failed after its retry budget.
type LedgerRPCError struct {
	Method   string
	Attempts int
	Err      error
}

func (e *LedgerRPCError) Error() string {
	return fmt.Sprintf("ledger rpc %s failed after %d attempts: %v", e.Method, e.Attempts, e.Err)
}

func (e *LedgerRPCError) Unwrap() error { return e.Err }

// MigrationRequiredError reports a protocol state account whose byte layout
// cannot be auto-migrated. Submission is blocked until resolved.
type MigrationRequiredError struct {
	GotSize  int
	WantSize int
}

func (e *MigrationRequiredError) Error() string {
	return fmt.Sprintf("protocol state account is %d bytes, expected %d and no migration path applies", e.GotSize, e.WantSize)
}
