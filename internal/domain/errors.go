package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a failed upstream call
type NetworkError struct {
	Op        string // Feed operation that failed (e.g., "eth_rates", "tracker_rates")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrEmptyResponse is returned when a feed answers with no usable entries.
	ErrEmptyResponse = errors.New("empty response")

	// ErrCircuitOpen is returned when a feed is short-circuited after repeated failures.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrTokenNotFound is returned when a symbol is not in the token registry.
	ErrTokenNotFound = errors.New("token not found")

	// ErrFeedNotConfigured is returned when an optional feed has no URL.
	ErrFeedNotConfigured = errors.New("feed not configured")

	// ErrInvalidAmount is returned when an entered amount cannot be parsed.
	ErrInvalidAmount = errors.New("invalid amount")
)
