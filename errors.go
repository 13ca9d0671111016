package requeuest

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("requeuest: no store configured")
	ErrStoreClosed = errors.New("requeuest: store closed")

	// Not found errors.
	ErrJobNotFound        = errors.New("requeuest: job not found")
	ErrCompletionNotFound = errors.New("requeuest: completion not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("requeuest: job already exists")

	// Lease errors. A store returns ErrNotLeaseOwner when a worker tries
	// to transition a job whose lease it no longer holds, e.g. after the
	// lease expired and another worker claimed the job.
	ErrNotLeaseOwner = errors.New("requeuest: caller does not hold the job lease")

	// State errors.
	ErrInvalidState = errors.New("requeuest: invalid state transition")

	// Client errors.
	ErrDetached = errors.New("requeuest: worker handle already detached")
)
