package cmd

import (
	"errors"
	"fmt"

	"github.com/marcus/roofsync/internal/conflict"
	"github.com/marcus/roofsync/internal/db"
	"github.com/marcus/roofsync/internal/output"
	syncengine "github.com/marcus/roofsync/internal/sync"
	"github.com/marcus/roofsync/internal/syncclient"
)

// errReported marks an error that has already been shown to the user
var errReported = errors.New("reported")

type reportedError struct {
	msg string
}

func (e *reportedError) Error() string { return e.msg }

func (e *reportedError) Unwrap() error { return errReported }

// fail prints an error in the active output mode and returns it for RunE
func fail(code, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if jsonOutput {
		output.JSONError(code, msg)
	} else {
		output.Error("%s", msg)
	}
	return &reportedError{msg: msg}
}

// failErr reports err with a code derived from its kind
func failErr(prefix string, err error) error {
	return fail(errorCode(err), "%s: %v", prefix, err)
}

// errorCode maps store, sync and client errors onto JSON error codes
func errorCode(err error) string {
	switch {
	case errors.Is(err, db.ErrNotFound), errors.Is(err, syncclient.ErrNotFound):
		return output.ErrCodeNotFound
	case errors.Is(err, db.ErrValidation), errors.Is(err, db.ErrNotPurgeable),
		errors.Is(err, conflict.ErrUnknownStrategy):
		return output.ErrCodeInvalidInput
	case errors.Is(err, syncengine.ErrSyncInProgress):
		return output.ErrCodeSyncInProgress
	case errors.Is(err, syncclient.ErrUnauthorized), errors.Is(err, syncclient.ErrForbidden):
		return output.ErrCodeUnauthorized
	case errors.Is(err, syncclient.ErrNetwork):
		return output.ErrCodeNetwork
	case errors.Is(err, syncengine.ErrServerRejected):
		return output.ErrCodeConflict
	}
	return output.ErrCodeDatabaseError
}
