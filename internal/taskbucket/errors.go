package taskbucket

import "errors"

// ErrInvalidTaskType is returned by DoTask when a task's type is not
// registered. The caller treats this as "no work"; the row is left in
// place for inspection or manual clearing.
var ErrInvalidTaskType = errors.New("taskbucket: task type not registered")

// ErrInvalidValidationKey is a client error: a validation key supplied to
// AddTaskWithValidation was missing at enqueue time.
var ErrInvalidValidationKey = errors.New("taskbucket: validation key not found")

// ErrTaskInvalidated is returned by DoTask when a task's validation witness
// mismatched at check time. The task has already been finalized as a no-op
// by the time this is returned; callers should treat it as accounted for,
// not as a failed execution.
var ErrTaskInvalidated = errors.New("taskbucket: task invalidated by validation witness mismatch")

// ErrLeaseExpired is returned by DoTask when a task's lease expired before
// Execute finished. The requeue path will surface the task again on a
// future claim; callers should treat this return as accounted for, not as
// a failed execution.
var ErrLeaseExpired = errors.New("taskbucket: task lease expired during execution")
