package sync

import (
	"errors"
	"fmt"

	"github.com/marcus/roofsync/internal/models"
)

var (
	// ErrSyncInProgress is returned when a sync is requested while one runs
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrServerRejected marks a record the server refused to accept
	ErrServerRejected = errors.New("rejected by server")
)

// RejectedError carries the server's reason for refusing one record
type RejectedError struct {
	EntityType models.EntityType
	EntityID   string
	Reason     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s %s rejected by server: %s", e.EntityType, e.EntityID, e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return ErrServerRejected
}
