// Package kerr defines the kernel's three-tier error taxonomy: a small set
// of enumerated codes grouped by subsystem, a wrapping error type carrying
// the failing operation and an optional cause, and a bounded history ring
// for post-mortem inspection.
package kerr

import (
	"errors"
	"fmt"
)

// Code enumerates kernel error classes. The numeric value itself encodes
// the owning subsystem: each subsystem holds a hundreds band, so a raw
// code in a log or register dump can be classified without a lookup
// table. See Subsystem.
type Code int

const (
	// CodeUnknown is the zero value; never returned intentionally.
	CodeUnknown Code = 0

	// Task subsystem: 100-199.
	CodeInvalidTask      Code = 100
	CodeInvalidPriority  Code = 101
	CodeInvalidOperation Code = 102
	CodeTaskLimitReached Code = 103

	// Memory subsystem: 200-299.
	CodeOutOfMemory   Code = 200
	CodeStackOverflow Code = 201

	// Sync subsystem: 300-399.
	CodeTimeout           Code = 300
	CodeWouldBlock        Code = 301
	CodeQueueFull         Code = 302
	CodeQueueEmpty        Code = 303
	CodeMutexNotOwned     Code = 304
	CodeSemaphoreOverflow Code = 305
	CodeCancelled         Code = 306
	CodeDeleted           Code = 307

	// System subsystem: 400-499.
	CodeNotRunning     Code = 400
	CodeAlreadyRunning Code = 401
	CodeShuttingDown   Code = 402

	// Hardware subsystem: 500-599.
	CodeWatchdogMiss Code = 500

	// Config subsystem: 600-699.
	CodeInvalidConfig Code = 600
)

// Subsystem names the hundreds band a code belongs to.
func (c Code) Subsystem() string {
	switch {
	case c >= 100 && c <= 199:
		return "task"
	case c >= 200 && c <= 299:
		return "memory"
	case c >= 300 && c <= 399:
		return "sync"
	case c >= 400 && c <= 499:
		return "system"
	case c >= 500 && c <= 599:
		return "hardware"
	case c >= 600 && c <= 699:
		return "config"
	default:
		return "unknown"
	}
}

// String renders the code's name for logging and test assertions.
func (c Code) String() string {
	switch c {
	case CodeInvalidTask:
		return "invalid_task"
	case CodeInvalidPriority:
		return "invalid_priority"
	case CodeInvalidOperation:
		return "invalid_operation"
	case CodeTaskLimitReached:
		return "task_limit_reached"
	case CodeOutOfMemory:
		return "out_of_memory"
	case CodeStackOverflow:
		return "stack_overflow"
	case CodeTimeout:
		return "timeout"
	case CodeWouldBlock:
		return "would_block"
	case CodeQueueFull:
		return "queue_full"
	case CodeQueueEmpty:
		return "queue_empty"
	case CodeMutexNotOwned:
		return "mutex_not_owned"
	case CodeSemaphoreOverflow:
		return "semaphore_overflow"
	case CodeCancelled:
		return "cancelled"
	case CodeDeleted:
		return "deleted"
	case CodeNotRunning:
		return "not_running"
	case CodeAlreadyRunning:
		return "already_running"
	case CodeShuttingDown:
		return "shutting_down"
	case CodeWatchdogMiss:
		return "watchdog_miss"
	case CodeInvalidConfig:
		return "invalid_config"
	default:
		return "unknown"
	}
}

// KernelError wraps a Code with the operation that failed and an optional
// underlying cause. The cause chain callers need (errors.Is/As against a
// Code) is fully served by stdlib errors, so no wrapping library is
// involved.
type KernelError struct {
	Code  Code
	Op    string
	Cause error
}

// New constructs a KernelError with no cause.
func New(code Code, op string) *KernelError {
	return &KernelError{Code: code, Op: op}
}

// Wrap constructs a KernelError that wraps cause.
func Wrap(code Code, op string, cause error) *KernelError {
	return &KernelError{Code: code, Op: op, Cause: cause}
}

func (e *KernelError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rtkernel: %s: %s: %v", e.Op, e.Code, e.Cause)
	}
	return fmt.Sprintf("rtkernel: %s: %s", e.Op, e.Code)
}

// Unwrap exposes the cause for errors.Is/errors.As.
func (e *KernelError) Unwrap() error { return e.Cause }

// Is reports whether target carries the same Code, so callers can write
// errors.Is(err, kerr.New(kerr.CodeTimeout, "")) against any KernelError of
// that code regardless of Op/Cause.
func (e *KernelError) Is(target error) bool {
	var other *KernelError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// HasCode reports whether err is a KernelError with the given code.
func HasCode(err error, code Code) bool {
	var ke *KernelError
	if !errors.As(err, &ke) {
		return false
	}
	return ke.Code == code
}
