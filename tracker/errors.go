package tracker

import (
	"errors"
	"fmt"
)

// Kind classifies tracker failures. The name prefixes the reason stored on
// a failed job.
type Kind string

const (
	CredentialAbsent   Kind = "CredentialAbsent"
	CredentialUnusable Kind = "CredentialUnusable"
	SearchFailed       Kind = "SearchFailed"
	SendFailed         Kind = "SendFailed"
	InvalidSchedule    Kind = "InvalidSchedule"
	Internal           Kind = "Internal"
)

// JobError is an error tagged with its Kind.
type JobError struct {
	Kind Kind
	Err  error
}

func (e *JobError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

func newJobError(kind Kind, err error) *JobError {
	return &JobError{Kind: kind, Err: err}
}

// KindOf returns the Kind carried by err, or Internal for untagged errors.
func KindOf(err error) Kind {
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	return Internal
}
