package store

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by LTM operations. CAS callers are expected
// to branch on these to decide between retrying and surfacing the error.
var (
	ErrNotFound  = errors.New("entry not found")
	ErrArchived  = errors.New("entry is archived")
	ErrDuplicate = errors.New("slug already exists")
)

// ConflictError reports a CAS version mismatch. The caller read the row
// at Expected but the stored row is at Actual; re-read and retry.
type ConflictError struct {
	Slug     string
	Expected int
	Actual   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %q: expected %d, actual %d", e.Slug, e.Expected, e.Actual)
}

// IsConflict reports whether err is a CAS conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
