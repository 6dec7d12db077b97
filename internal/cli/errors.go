package cli

import "errors"

var ErrUsage = errors.New("cli usage error")

// ErrFailedFiles marks a run that completed but produced files that did not
// pass compile validation; callers map it to a distinct exit code.
var ErrFailedFiles = errors.New("generated files failed validation")

type usageError struct {
	msg string
}

func newUsageError(msg string) error {
	return usageError{msg: msg}
}

func (e usageError) Error() string {
	return e.msg
}

func (e usageError) Is(target error) bool {
	return target == ErrUsage
}
