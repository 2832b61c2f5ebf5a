package errors

import "fmt"

var (
	ErrWorkerPanic   = fmt.Errorf("worker panic")
	ErrUnknownRoom   = fmt.Errorf("unknown room")
	ErrNotInRoom     = fmt.Errorf("agent is not in this room")
	ErrMissingSender = fmt.Errorf("missing sender id")
	ErrEmptyWords    = fmt.Errorf("no words have been found")
)
