package crawler

import (
	"errors"
	"fmt"
)

// ErrorKind classifies fetch failures for the retry policy.
type ErrorKind int

// Fetch error kinds.
const (
	// KindTransient errors are worth retrying: timeouts, resets, 5xx, 429.
	KindTransient ErrorKind = iota + 1
	// KindFatal errors never succeed on retry: malformed bodies, other 4xx.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// FetchError wraps a failed upstream call.
type FetchError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s fetch %s (status %d): %v", e.Kind, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s fetch %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewTransientError builds a retryable FetchError.
func NewTransientError(url string, status int, err error) *FetchError {
	return &FetchError{Kind: KindTransient, URL: url, StatusCode: status, Err: err}
}

// NewFatalError builds a non retryable FetchError.
func NewFatalError(url string, status int, err error) *FetchError {
	return &FetchError{Kind: KindFatal, URL: url, StatusCode: status, Err: err}
}

// IsTransient reports whether err carries a transient FetchError.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == KindTransient
}

// IsFatal reports whether err carries a fatal FetchError.
func IsFatal(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == KindFatal
}

// ErrPersistence marks store write failures.
var ErrPersistence = errors.New("persistence failure")

// PersistenceError wraps a store failure for one document.
type PersistenceError struct {
	Collection string
	Key        string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s[%s]: %v", e.Collection, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrPersistence) match any PersistenceError.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// NewPersistenceError wraps err for the document identified by doc.
func NewPersistenceError(doc Document, err error) *PersistenceError {
	return &PersistenceError{Collection: doc.Collection, Key: doc.Key.String(), Err: err}
}

// ErrExhausted is returned by Paginator.Next once an empty page was seen.
var ErrExhausted = errors.New("pagination exhausted")

// ErrUnknownResource is returned for resource names with no pipeline.
var ErrUnknownResource = errors.New("unknown resource")
