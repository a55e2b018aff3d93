package extraction

import (
	"fmt"
	"time"
)

type (
	// BackendLoadError indicates a backend failed to initialise; this is
	// fatal for the whole session, so the hint is keyed on the underlying
	// cause to give the user something actionable.
	BackendLoadError struct {
		Cause error
		Hint  string
	}

	// WriteError indicates the backend workspace rejected a file write
	// even after bounded retries with backoff.
	WriteError struct {
		Name     string
		Attempts int
		Cause    error
	}

	// TimeoutError indicates a backend operation exceeded the configured
	// hard deadline. The backend is assumed poisoned for this operation
	// but remains reusable after cleanup.
	TimeoutError struct {
		Operation string
		Limit     time.Duration
	}

	// FallbackExhaustedError indicates both the native export path and
	// it's single fallback attempt failed.
	FallbackExhaustedError struct {
		Operation     string
		NativeError   error
		FallbackError error
	}
)

func (err *BackendLoadError) Error() string {
	return fmt.Sprintf("backend failed to load: %s (%s)", err.Cause, err.Hint)
}
func (err *BackendLoadError) Unwrap() error { return err.Cause }

func (err *WriteError) Error() string {
	return fmt.Sprintf("failed to write '%s' to backend workspace after %d attempts: %s", err.Name, err.Attempts, err.Cause)
}
func (err *WriteError) Unwrap() error { return err.Cause }

func (err *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not settle within %s", err.Operation, err.Limit)
}

func (err *FallbackExhaustedError) Error() string {
	return fmt.Sprintf("%s failed natively (%s) and via fallback (%s)", err.Operation, err.NativeError, err.FallbackError)
}
