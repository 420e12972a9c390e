package domain

import "errors"

// Every operation in this module resolves to one of these sentinel errors,
// possibly wrapped with context. Callers discriminate with errors.Is; error
// message text is never matched.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrTimeout         = errors.New("wait timed out")
	ErrCanceled        = errors.New("wait canceled")
	ErrSwarm           = errors.New("swarm engine error")
	ErrConstruction    = errors.New("construction failed")
)
