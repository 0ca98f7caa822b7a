package collector

import (
	"errors"
	"fmt"
)

var (
	ErrBrowserCrash     = errors.New("browser crash")
	ErrDiskWriteFailure = errors.New("disk write failure")
	// ErrReauthExhausted ends a run whose re-authentication cap was reached.
	ErrReauthExhausted = errors.New("re-authentication attempts exhausted")
)

// FatalError ends the run. It is never recovered by the collector.
type FatalError struct {
	Kind error
	Err  error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fatal: %v", e.Kind)
	}
	return fmt.Sprintf("fatal: %v: %v", e.Kind, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func (e *FatalError) Is(target error) bool {
	return target == e.Kind
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
