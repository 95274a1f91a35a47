package upstream

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by errors.Is against *Error.
var (
	// ErrFetch matches network failures and non-2xx responses.
	ErrFetch = errors.New("upstream fetch failed")

	// ErrParse matches malformed bodies and missing required fields.
	ErrParse = errors.New("upstream response malformed")
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx and other non-2xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassParse represents undecodable or incomplete bodies.
	ErrorClassParse ErrorClass = "parse"
)

// Error is a failed upstream fetch with its classification.
type Error struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether e matches ErrFetch or ErrParse.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrParse:
		return e.Class == ErrorClassParse
	case ErrFetch:
		return e.Class != ErrorClassParse
	default:
		return false
	}
}

// classifyStatus maps a non-2xx status code to an ErrorClass.
func classifyStatus(statusCode int) ErrorClass {
	if statusCode >= 400 && statusCode < 500 {
		return ErrorClassClient
	}
	return ErrorClassServer
}
