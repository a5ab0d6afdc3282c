package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownHeader no parser is registered for a CSV header.
	ErrUnknownHeader = errors.New("unknown header")
	// ErrInvalidTimestamp a source timestamp could not be parsed.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	// ErrMalformedRow a source row misses fields or carries unparsable values.
	ErrMalformedRow = errors.New("malformed row")
	// ErrProviderNotFound the provider does not know the asset or pair.
	ErrProviderNotFound = errors.New("not found by price provider")
	// ErrAccountDeleting writes are rejected because the account is being deleted.
	ErrAccountDeleting = errors.New("account is marked for deletion")
)

// SourceFormatError aborts an import. Row is 1-based.
type SourceFormatError struct {
	Row int
	Err error
}

func (e *SourceFormatError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *SourceFormatError) Unwrap() error { return e.Err }

// TimestampError a timestamp value that could not be normalized.
type TimestampError struct {
	Value string
}

func (e *TimestampError) Error() string {
	return fmt.Sprintf("%v: %q", ErrInvalidTimestamp, e.Value)
}

func (e *TimestampError) Is(target error) bool { return target == ErrInvalidTimestamp }

// MalformedError wraps a field that could not be parsed.
func MalformedError(field, value string) error {
	return errors.Wrapf(ErrMalformedRow, "field %s has invalid value %q", field, value)
}

// ProviderNotFoundError unknown asset or pair on a price provider. Not retried.
type ProviderNotFoundError struct {
	Provider string
	Subject  string
	Detail   string
}

func (e *ProviderNotFoundError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s %s: %s", e.Provider, e.Subject, ErrProviderNotFound, e.Detail)
	}
	return fmt.Sprintf("%s: %s %s", e.Provider, e.Subject, ErrProviderNotFound)
}

func (e *ProviderNotFoundError) Is(target error) bool { return target == ErrProviderNotFound }

// TransientNetworkError timeout or 5xx response. The only error class that is retried.
type TransientNetworkError struct {
	Provider string
	Status   int
	Err      error
}

func (e *TransientNetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: transient error, status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: transient error: %v", e.Provider, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var transient *TransientNetworkError
	return errors.As(err, &transient)
}

// ConsistencyError ordering or invariant violation in a computed series.
type ConsistencyError struct {
	Reason string
}

func (e *ConsistencyError) Error() string {
	return "consistency violation: " + e.Reason
}

// UpstreamError a non-retried failure response: 4xx status or an HTML body where JSON was expected.
type UpstreamError struct {
	Provider string
	Status   int
	HTML     bool
	Body     string
}

func (e *UpstreamError) Error() string {
	kind := "unexpected response"
	if e.HTML {
		kind = "HTML response"
	}
	return fmt.Sprintf("%s: %s, status %d: %s", e.Provider, kind, e.Status, e.Body)
}
