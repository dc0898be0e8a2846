package models

import "fmt"

// ConnectionError reports an unreachable or unauthenticated external system.
// It is always fatal for the scope it occurs in.
type ConnectionError struct {
	System   string // "database" or "array"
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s connection to %s failed: %v", e.System, e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
