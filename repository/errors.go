package repository

import (
	"errors"
	"fmt"

	"student-polling-backend/database"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateVote is returned when (poll, voter) already has a vote.
	ErrDuplicateVote = errors.New("voter has already voted in this poll")
)

// StorageError wraps a store failure with the operation that hit it and
// whether retrying the operation may succeed.
type StorageError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *StorageError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s storage failure: %v", e.Op, kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a StorageError worth retrying.
func IsTransient(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Transient
}

// wrapErr maps driver errors onto the repository vocabulary.
func wrapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicateVote):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	}

	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Transient: database.IsTransient(err), Err: err}
}
