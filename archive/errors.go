package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no post has the requested filename or ID.
	ErrNotFound = errors.New("post not found")

	// ErrConflict means a filename is already taken by a different post or
	// by an unrelated file.
	ErrConflict = errors.New("filename already in use")

	// ErrIntegrity means the store and the artifact directory could not be
	// kept in agreement; the operation was aborted.
	ErrIntegrity = errors.New("store integrity violation")

	// ErrInvalid means a post failed validation.
	ErrInvalid = errors.New("invalid post")
)

// IntegrityError describes an aborted mutation.
type IntegrityError struct {
	Op       string
	Filename string
	Err      error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Filename, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrIntegrity) true for any IntegrityError.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}
