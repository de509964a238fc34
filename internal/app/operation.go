package app

import (
	"geosync/internal/database"
	"geosync/internal/geosync"
)

// SyncOperation tracks a CLI operation that changes the working copy.
// Operations are created in memory with ID=0. Only mutating commands
// persist them (giving them an auto-increment ID from the database).
type SyncOperation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
	Version    int
	Conflicts  int
}

// NewSyncOperation creates a new in-memory sync operation.
func NewSyncOperation(operation, parameters string) *SyncOperation {
	return &SyncOperation{
		Operation:  operation,
		Parameters: parameters,
		Status:     database.StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *SyncOperation) Persisted() bool {
	return op.ID != 0
}

// Record copies the outcome of a sync run into the operation.
func (op *SyncOperation) Record(res geosync.Result) {
	op.Status = OperationStatus(res.Outcome)
	op.Version = res.Version
	op.Conflicts = len(res.Conflicts)
}

// OperationStatus maps a run outcome to the status stored in the history.
// Conflicts are counted separately, so a run that created conflicted copies
// is still a success.
func OperationStatus(o geosync.Outcome) string {
	switch o {
	case geosync.Failed:
		return database.StatusError
	case geosync.Cancelled:
		return database.StatusCancelled
	default:
		return database.StatusSuccess
	}
}
