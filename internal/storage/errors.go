package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrWriterClosed indicates a write after the audit writer shut down.
	ErrWriterClosed = errors.New("storage: writer closed")

	// ErrBatchInsertFailed indicates a batch insert exhausted its retries.
	ErrBatchInsertFailed = errors.New("storage: batch insert failed")
)

// StorageError wraps storage failures with the operation and table involved.
type StorageError struct {
	Op    string
	Table string
	Err   error
}

func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage.%s(%s): %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("storage.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError.
func NewStorageError(op, table string, err error) *StorageError {
	return &StorageError{Op: op, Table: table, Err: err}
}
