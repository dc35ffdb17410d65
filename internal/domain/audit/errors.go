package audit

import "errors"

var (
	// ErrRunInProgress rejects a run trigger while another run holds the
	// tenant; nothing is mutated.
	ErrRunInProgress = errors.New("audit run already in progress")

	// ErrDataSourceUnavailable wraps snapshot or persistence I/O
	// failures that are fatal to a run.
	ErrDataSourceUnavailable = errors.New("data source unavailable")

	// ErrInvalidTransition signals a divergence status change the state
	// machine does not permit.
	ErrInvalidTransition = errors.New("invalid status transition")

	ErrNotFound = errors.New("not found")
)
