package manager

import "errors"

// Errors surfaced by the manager to its callers. Compare with
// errors.Is; ErrCreateFailed wraps the underlying cause.
var (
	// ErrNoSuchFilter means the name is absent from the registry, or
	// present but no longer active (dropped).
	ErrNoSuchFilter = errors.New("bloomd: no such filter")

	// ErrAlreadyExists means create found an existing entry for the
	// name.
	ErrAlreadyExists = errors.New("bloomd: filter already exists")

	// ErrCreateFailed means the underlying filter failed to
	// initialize. addFilter wraps both ErrCreateFailed and the
	// underlying cause with %w, so errors.Is/errors.As find either one;
	// errors.Unwrap itself returns nil here since a double-%w error
	// implements Unwrap() []error, not Unwrap() error.
	ErrCreateFailed = errors.New("bloomd: create failed")

	// ErrInternal means a registry or hot-set invariant was violated.
	// Callers should treat this as fatal.
	ErrInternal = errors.New("bloomd: internal error")
)
