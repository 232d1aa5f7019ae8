package types

import "fmt"

// StorageError wraps unexpected storage failures (connectivity, lock
// contention, constraint violations other than the expected signature
// conflict). The router treats these as retryable-once, fatal-on-repeat.
type StorageError struct {
	Op  string // the storage operation that failed
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// AlreadyGraduatedError indicates a graduation attempt against an orphan that
// already graduated to a different story. Graduating twice with the same story
// id is an idempotent retry, not an error; a different story id is a
// data-integrity problem.
type AlreadyGraduatedError struct {
	OrphanID        int64
	ExistingStoryID string
	AttemptedStory  string
}

func (e *AlreadyGraduatedError) Error() string {
	return fmt.Sprintf("orphan %d already graduated to story %s (attempted %s)",
		e.OrphanID, e.ExistingStoryID, e.AttemptedStory)
}
