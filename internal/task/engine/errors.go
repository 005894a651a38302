package engine

import "errors"

// Enqueue errors. A firing rejected with ErrAlreadyRunning is reported as
// task.skipped; the rest mean the engine could not take work at all.
var (
	ErrDisabled       = errors.New("engine: disabled")
	ErrStopped        = errors.New("engine: not running")
	ErrStopping       = errors.New("engine: shutting down")
	ErrQueueFull      = errors.New("engine: queue full")
	ErrAlreadyRunning = errors.New("engine: previous run of this schedule still active")
)
