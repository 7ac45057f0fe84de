package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrLaunch reports that the engine could not be started or reached.
	ErrLaunch = errors.New("engine launch failed")
	// ErrClosed reports that the bridge is no longer usable.
	ErrClosed = errors.New("engine bridge closed")
	// ErrProtocol reports a malformed message on the bridge.
	ErrProtocol = errors.New("engine bridge protocol error")
)

// RemoteError is a failure raised by the engine while executing an
// invocation. Its message is the engine's, unchanged.
type RemoteError struct {
	Method  string
	Message string
	Code    string
	Stack   string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("engine %s failed [%s]: %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("engine %s failed: %s", e.Method, e.Message)
}
