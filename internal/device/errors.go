// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package device

import (
	"errors"
	"fmt"

	"github.com/loachfighter/twain-direct/internal/protocol"
)

var (
	errNotRegistered = errors.New("device is not registered")
	errShuttingDown  = errors.New("device is shutting down")
)

// Fault is a protocol-layer failure rendered as results.success=false.
type Fault struct {
	Code    string
	JSONKey string
	Offset  *int
	Err     error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Code, f.Err)
	}
	return f.Code
}

func (f *Fault) Unwrap() error { return f.Err }

func fault(code string, err error) *Fault {
	return &Fault{Code: code, Err: err}
}

func invalidJSON(offset int, err error) *Fault {
	return &Fault{Code: protocol.CodeInvalidJSON, Offset: protocol.Int(offset), Err: err}
}

func invalidValue(key string) *Fault {
	return &Fault{Code: protocol.CodeInvalidValue, JSONKey: key}
}

// asFault maps any handler error onto a Fault; unknown errors are critical.
func asFault(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return fault(protocol.CodeCritical, err)
}

// securityError is a token rejection rendered as a top-level error.
type securityError struct {
	reason string
	err    error
}

func (e *securityError) Error() string { return "security: " + e.reason }

func (e *securityError) Unwrap() error { return e.err }
