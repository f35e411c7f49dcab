package admin

import "errors"

var (
	// (key, version) pairs in the catalog are immutable once created
	ErrVersionExists  = errors.New("catalog version already exists")
	ErrActionNotFound = errors.New("catalog action not found")

	ErrJobNotFound = errors.New("batch job not found")

	// bundle signature missing or mismatched; nothing from the bundle applies
	ErrBadSignature = errors.New("bundle signature invalid")

	ErrUnknownRevertAction = errors.New("no revertor registered for action")
	ErrNothingToRevert     = errors.New("no audit action to revert")
)
