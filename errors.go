package producer

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrStoppedProducer     = errors.New("Unable to Put record. Producer is already stopped")
	ErrIllegalPartitionKey = errors.New("Invalid partition key. Length must be at least 1 and at most 256")
	ErrRecordSizeExceeded  = errors.New("Record size limit exceeded")
	ErrRetriesExhausted    = errors.New("retries exhausted")
	ErrResultMismatch      = errors.New("response results do not match request entries")
)

// FailureRecord is sent to the NotifyFailures channel for records that could not be
// delivered.
type FailureRecord struct {
	Err error
	// The PartitionKey that was used in the wire entry
	PartitionKey string
	// ErrorCode and ErrorMessage reported by the service. Empty when the failure was
	// not reported per entry (e.g. a transport error).
	ErrorCode    string
	ErrorMessage string
	// UserRecords that were contained in the failed entry
	UserRecords []UserRecord
}

func (e *FailureRecord) Error() string {
	return e.Err.Error()
}

func (e *FailureRecord) Unwrap() error { return e.Err }

// RetriesExhaustedError is returned by a RetryController when entries are still
// failing after the last retry. ErrorCode and ErrorMessage are taken from one
// representative failure.
type RetriesExhaustedError struct {
	ErrorCode    string
	ErrorMessage string
	// Failed is the number of entries still failing
	Failed  int
	Retries int
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d entries still failing after %d retries, %s: %s",
		ErrRetriesExhausted, e.Failed, e.Retries, e.ErrorCode, e.ErrorMessage)
}

func (e *RetriesExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }

// Temporary reports that the batch may succeed if resent later, so callers can
// re-buffer it instead of dropping it.
func (e *RetriesExhaustedError) Temporary() bool { return true }

func recordSizeError(size, max int) error {
	return fmt.Errorf("%w: %d bytes, must be at most %d", ErrRecordSizeExceeded, size, max)
}
