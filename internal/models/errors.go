package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeInvalidPath = "INVALID_PATH"
	ErrCodeHash        = "HASH_ERROR"
	ErrCodeStoreIO     = "STORE_IO_ERROR"
	ErrCodeNotFound    = "NOT_FOUND"
)

// Sentinel errors
var (
	ErrInvalidPath   = errors.New("invalid path")
	ErrPathNotFound  = fmt.Errorf("%w: path not found", ErrInvalidPath)
	ErrHash          = errors.New("hash failed")
	ErrStoreIO       = errors.New("store i/o failed")
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("folder already exists")
	ErrInvalidName   = errors.New("invalid folder name")
	ErrLocked        = errors.New("folder is locked")
)

// PathError reports a rejected folder path.
type PathError struct {
	Side Side
	Path string
	Err  error
}

func (e *PathError) Error() string {
	if e.Side != "" {
		return fmt.Sprintf("%s path %q: %v", e.Side, e.Path, e.Err)
	}
	return fmt.Sprintf("path %q: %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// HashError represents a file that could not be fingerprinted.
type HashError struct {
	Path string
	Err  error
}

func (e *HashError) Error() string {
	return fmt.Sprintf("hash %s: %v", e.Path, e.Err)
}

func (e *HashError) Unwrap() []error {
	return []error{ErrHash, e.Err}
}

// StoreError represents a failed read or write of a persisted store.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreIO, e.Err}
}

// Code maps an error onto one of the ErrCode constants, or "" when the
// error is outside the taxonomy.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPath):
		return ErrCodeInvalidPath
	case errors.Is(err, ErrHash):
		return ErrCodeHash
	case errors.Is(err, ErrStoreIO):
		return ErrCodeStoreIO
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	default:
		return ""
	}
}
