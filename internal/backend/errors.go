package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable marks transport failures and open circuit breakers
	ErrUnavailable = errors.New("service unavailable")

	// ErrAuthFailed marks replies of the auth service that are not StatusOK
	ErrAuthFailed = errors.New("authentication failed")
)

type unavailableError struct {
	service string
	err     error
}

func (e *unavailableError) Error() string {
	return fmt.Sprintf("%s service unavailable: %v", e.service, e.err)
}

func (e *unavailableError) Unwrap() []error {
	return []error{ErrUnavailable, e.err}
}

// StatusError is a reply with a non-2xx HTTP status
type StatusError struct {
	Service string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s service replied %d: %s", e.Service, e.Code, e.Message)
	}
	return fmt.Sprintf("%s service replied %d", e.Service, e.Code)
}

// APIError is an auth service reply carrying a status other than StatusOK
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("auth service status %d", e.Status)
}

func (e *APIError) Is(target error) bool {
	return target == ErrAuthFailed
}
