package domain

import "errors"

var (
	ErrNotFound           = errors.New("record not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrAlreadyResolved    = errors.New("detection already resolved")
	ErrForbidden          = errors.New("forbidden")
	ErrDuplicateDetection = errors.New("detection already recorded for config version")
)
