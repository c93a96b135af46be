package client

import (
	"errors"

	"workerproxy/transport"
)

// ErrWorkerFailedToLoad matches every load failure with errors.Is.
var ErrWorkerFailedToLoad = errors.New("Worker failed to load")

// LoadError is returned by CreateProxy when the worker did not report ready in time.
// Cause holds whatever went wrong along the way, if anything was observed.
type LoadError struct {
	Path  string
	Cause error
}

func (e *LoadError) Error() string {
	return ErrWorkerFailedToLoad.Error()
}

func (e *LoadError) Is(target error) bool {
	return target == ErrWorkerFailedToLoad
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// RemoteError is a failure reported by the worker.
type RemoteError = transport.RemoteError
