package store

import (
	"errors"

	"github.com/felixniemeyer/repeerv3-sub001/pkg/types"
)

// Sentinel underlying errors, wrapped in a types.Error by every
// exported Store method so callers can use types.KindOf uniformly.
var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
	ErrClosed   = errors.New("store is closed")
)

func errNotFound(op string) error {
	return types.New(types.NotFound, op, ErrNotFound)
}

func errConflict(op string) error {
	return types.New(types.Conflict, op, ErrExists)
}

func errClosed(op string) error {
	return types.New(types.Internal, op, ErrClosed)
}

func errInternal(op string, err error) error {
	return types.New(types.Internal, op, err)
}

// IsNotFound reports whether err is a not-found Store error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is a duplicate-id Store error.
func IsConflict(err error) bool {
	return errors.Is(err, ErrExists)
}
