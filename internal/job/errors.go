package job

import "errors"

// Static errors returned by the orchestrator and the ledger adapters.
var (
	// ErrValidation wraps malformed request options. No state is created.
	ErrValidation = errors.New("validation failed")
	// ErrJobNotFound is returned when a job cannot be found by ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrVideoNotFound is returned for unknown or soft-deleted videos.
	ErrVideoNotFound = errors.New("video not found")
	// ErrFramesNotFound is returned when a frame selector matches nothing.
	ErrFramesNotFound = errors.New("no frames found")
	// ErrNotCancellable is returned when cancel targets a claimed or terminal job.
	ErrNotCancellable = errors.New("cannot cancel job in current state")
	// ErrTransientQueue wraps dispatch failures that are eligible for retry.
	ErrTransientQueue = errors.New("queue unavailable")
	// ErrDuplicateFrame is returned when a frame number is recorded twice for a job.
	ErrDuplicateFrame = errors.New("frame already recorded")
)

// IsNotFound reports whether err is any of the not-found errors of this package.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, ErrVideoNotFound) ||
		errors.Is(err, ErrFramesNotFound)
}
