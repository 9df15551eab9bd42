package beacon

import (
	"errors"
	"fmt"
)

var (
	ErrScanInProgress     = errors.New("a beacon scan is already running")
	ErrAdapterUnavailable = errors.New("bluetooth is not available on this device")
	ErrAdapterOff         = errors.New("bluetooth is turned off")
	ErrPermissionDenied   = errors.New("bluetooth permission denied")
	ErrClosed             = errors.New("coordinator closed")
)

// PreconditionError is returned when a scan cannot start because the adapter
// or the permissions are not in a usable state. Notice is meant for users.
type PreconditionError struct {
	Kind   error
	Notice string
}

func (e *PreconditionError) Error() string {
	return e.Kind.Error()
}

func (e *PreconditionError) Unwrap() error {
	return e.Kind
}

// CommandError wraps a command the adapter rejected
type CommandError struct {
	Op  string
	Err error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Notice returns the text to show users for an error returned by the coordinator
func Notice(err error) string {
	var pe *PreconditionError
	if errors.As(err, &pe) {
		return pe.Notice
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		return fmt.Sprintf("Scan error: %v", ce.Err)
	}
	if errors.Is(err, ErrScanInProgress) {
		return "A scan is already running"
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
