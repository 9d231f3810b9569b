package session

import (
	"fmt"
	"time"
)

// ConnectionError is a socket-level failure: dial, read or write.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// LivenessError reports that nothing arrived from the gateway within the
// liveness timeout, pongs included.
type LivenessError struct {
	Timeout time.Duration
}

func (e *LivenessError) Error() string {
	return fmt.Sprintf("gateway silent for %s", e.Timeout)
}
