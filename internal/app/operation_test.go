package app

import (
	"errors"
	"testing"

	"geosync/internal/database"
	"geosync/internal/geosync"
)

func TestNewSyncOperation(t *testing.T) {
	tests := []struct {
		name       string
		operation  string
		parameters string
	}{
		{
			name:       "with parameters",
			operation:  "sync",
			parameters: "/home/user/survey",
		},
		{
			name:       "empty parameters",
			operation:  "init",
			parameters: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewSyncOperation(tt.operation, tt.parameters)

			if op.Operation != tt.operation {
				t.Errorf("Operation = %q, want %q", op.Operation, tt.operation)
			}
			if op.Parameters != tt.parameters {
				t.Errorf("Parameters = %q, want %q", op.Parameters, tt.parameters)
			}
			if op.Status != database.StatusSuccess {
				t.Errorf("Status = %q, want %q", op.Status, database.StatusSuccess)
			}
			if op.Persisted() {
				t.Error("Persisted() = true for a new operation")
			}
		})
	}
}

func TestSyncOperation_Record(t *testing.T) {
	tests := []struct {
		name          string
		result        geosync.Result
		wantStatus    string
		wantConflicts int
	}{
		{
			name:       "succeeded",
			result:     geosync.Result{Outcome: geosync.Succeeded, Version: 4},
			wantStatus: database.StatusSuccess,
		},
		{
			name: "conflicts are still a success",
			result: geosync.Result{
				Outcome:   geosync.SucceededWithConflicts,
				Version:   4,
				Conflicts: []string{"a (conflicted copy, v3).txt"},
			},
			wantStatus:    database.StatusSuccess,
			wantConflicts: 1,
		},
		{
			name:       "failed",
			result:     geosync.Result{Outcome: geosync.Failed, Err: errors.New("boom"), Version: 4},
			wantStatus: database.StatusError,
		},
		{
			name:       "cancelled",
			result:     geosync.Result{Outcome: geosync.Cancelled, Version: 4},
			wantStatus: database.StatusCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewSyncOperation("sync", "")
			op.Record(tt.result)

			if op.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", op.Status, tt.wantStatus)
			}
			if op.Version != 4 {
				t.Errorf("Version = %d, want 4", op.Version)
			}
			if op.Conflicts != tt.wantConflicts {
				t.Errorf("Conflicts = %d, want %d", op.Conflicts, tt.wantConflicts)
			}
		})
	}
}
