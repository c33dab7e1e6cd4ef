package server

import (
	"errors"
	"fmt"
)

// Errors returned by Start when the server is not idle.
var (
	ErrAlreadyStarted = errors.New("server already started")
	ErrServerStopped  = errors.New("server stopped")
)

// BindError reports that the listening socket could not be created, usually
// because the port is taken or privileged.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}
