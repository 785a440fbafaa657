package application

import (
	"errors"
	"fmt"
)

var (
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrNotTrackedPool         = errors.New("transaction does not touch the tracked pool")
	ErrInvalidTimestamp       = errors.New("invalid timestamp")
	ErrInvalidTransactionHash = errors.New("invalid transaction hash")
	ErrUnknownActionType      = errors.New("unknown action type")
	ErrScanInProgress         = errors.New("scan already in progress")

	// Returned by price collaborators; folded into domain.RateStatus by RateOracle.
	ErrRateUnavailable = errors.New("rate unavailable")
	ErrRateLimited     = errors.New("rate limited")
)

// InvalidTimestampError is raised by a ranged query when either bound
// resolves to no valid block.
type InvalidTimestampError struct {
	Start int64
	End   int64
}

func (e *InvalidTimestampError) Error() string {
	return fmt.Sprintf("Invalid timestamp start time: %d, end time: %d", e.Start, e.End)
}

func (e *InvalidTimestampError) Unwrap() error {
	return ErrInvalidTimestamp
}

// NotTrackedPoolError names the transaction that failed pool validation.
type NotTrackedPoolError struct {
	TxHash string
	Pool   string
}

func (e *NotTrackedPoolError) Error() string {
	return fmt.Sprintf("transaction with hash: %s is not a %s pool transaction", e.TxHash, e.Pool)
}

func (e *NotTrackedPoolError) Unwrap() error {
	return ErrNotTrackedPool
}

// UpstreamError wraps an unexpected collaborator response. StatusCode is the
// upstream HTTP status when one was received, zero for transport failures.
type UpstreamError struct {
	Service    string
	StatusCode int
	Message    string
	Transient  bool
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Service, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Service, msg)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsClientError reports whether err belongs to the caller-facing taxonomy
// (bad input or unknown subject) rather than an upstream or internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrNotTrackedPool) ||
		errors.Is(err, ErrInvalidTimestamp) ||
		errors.Is(err, ErrInvalidTransactionHash) ||
		errors.Is(err, ErrUnknownActionType)
}
