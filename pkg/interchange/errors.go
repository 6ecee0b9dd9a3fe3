package interchange

import (
	"errors"
	"fmt"
)

// ErrImport matches every *ImportError via errors.Is.
var ErrImport = errors.New("import error")

// ImportError reports a malformed payload. Path locates the offending
// element, e.g. "[0].subChannels[1].intervals[2]"; it is empty for errors
// about the payload as a whole.
type ImportError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ImportError) Error() string {
	if e.Path == "" {
		return "interchange: " + e.Reason
	}
	return fmt.Sprintf("interchange: %s: %s", e.Path, e.Reason)
}

func (e *ImportError) Is(target error) bool { return target == ErrImport }

func (e *ImportError) Unwrap() error { return e.Err }

func importErr(path, format string, args ...any) *ImportError {
	return &ImportError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

func decodeErr(err error) *ImportError {
	return &ImportError{Reason: "malformed payload: " + err.Error(), Err: err}
}
