package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidParameters marks a malformed order spec or out-of-range policy
// input. Checks against it with errors.Is; no state is mutated when it is
// returned.
var ErrInvalidParameters = errors.New("invalid parameters")

// ErrOrderNotFound is returned when an order id does not resolve to a leg.
var ErrOrderNotFound = errors.New("order not found")

// ErrGuardrail marks a trade blocked by the engine-level kill switch or
// capacity cap rather than by the policy engine.
var ErrGuardrail = errors.New("guardrail rejected trade")

// ParamError describes which input failed validation and why.
type ParamError struct {
	Field  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
}

func (e *ParamError) Unwrap() error { return ErrInvalidParameters }

// PolicyViolationError carries the named subchecks that failed. The order
// graph is never constructed when this is returned.
type PolicyViolationError struct {
	Violations []string
	Result     PolicyCheckResult
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy violation: %s", strings.Join(e.Violations, ", "))
}

// ExecutionError surfaces a simulator failure mid-fill. The affected leg
// remains in its last known valid state; OrderID allows reconciliation.
type ExecutionError struct {
	OrderID string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed for order %s: %v", e.OrderID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
