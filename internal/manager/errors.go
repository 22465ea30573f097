package manager

import (
	"errors"
	"fmt"
	"strings"
)

// tooBusyError signals that an exclusive lease could not be obtained in time.
type tooBusyError struct{ modelID string }

func (e tooBusyError) Error() string { return "too busy: " + e.modelID }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}

type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound returns an error when a requested model is not cached.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

// badRequestError is a request validation failure (return 400).
type badRequestError struct{ msg string }

func (e badRequestError) Error() string { return e.msg }

// ErrBadRequest constructs a validation error.
func ErrBadRequest(format string, args ...any) error {
	return badRequestError{msg: fmt.Sprintf(format, args...)}
}

// IsBadRequest reports whether err is a validation failure.
func IsBadRequest(err error) bool {
	var e badRequestError
	return errors.As(err, &e)
}

// CompatibilityError rejects a sampler the pipeline does not declare as
// compatible.
type CompatibilityError struct {
	Requested   string
	Compatibles []string
}

func (e *CompatibilityError) Error() string {
	return fmt.Sprintf("The scheduler %s is not compatible with this model. Compatible schedulers: %s",
		e.Requested, strings.Join(e.Compatibles, ", "))
}

// IsCompatibility reports whether err is a CompatibilityError.
func IsCompatibility(err error) bool {
	var e *CompatibilityError
	return errors.As(err, &e)
}

// resourceExhaustedError means the accelerator stayed out of memory after
// every evictable pipeline was demoted. The last allocation error is kept.
type resourceExhaustedError struct {
	op    string
	cause error
}

func (e resourceExhaustedError) Error() string {
	if e.cause == nil {
		return "not enough accelerator memory to " + e.op
	}
	return fmt.Sprintf("not enough accelerator memory to %s: %v", e.op, e.cause)
}

func (e resourceExhaustedError) Unwrap() error { return e.cause }

// ErrResourceExhausted constructs a resourceExhaustedError.
func ErrResourceExhausted(op string, cause error) error {
	return resourceExhaustedError{op: op, cause: cause}
}

// IsResourceExhausted reports whether err means no capacity could be freed.
func IsResourceExhausted(err error) bool {
	var e resourceExhaustedError
	return errors.As(err, &e)
}

// dependencyUnavailableError signals a missing collaborator (backend,
// storage) so the HTTP layer can return 503 instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing dependency.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

// errLeased is returned when asked to demote an entry someone holds.
var errLeased = errors.New("entry is leased")
