package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewWorkerID generates a unique worker ID with the "wrk_" prefix
// Format: wrk_<uuid>
func NewWorkerID() string {
	return "wrk_" + uuid.New().String()
}

// NewTokenID generates a unique token ID with the "tok_" prefix
// Format: tok_<uuid>
func NewTokenID() string {
	return "tok_" + uuid.New().String()
}

// NewUserID generates a unique user ID with the "usr_" prefix
// Format: usr_<uuid>
func NewUserID() string {
	return "usr_" + uuid.New().String()
}

// NewTransitionID generates a unique state transition ID with the "str_" prefix
// Format: str_<uuid>
func NewTransitionID() string {
	return "str_" + uuid.New().String()
}
