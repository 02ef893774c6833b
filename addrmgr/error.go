// Copyright (c) 2021-2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind
// when determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific ErrorKind.
const (
	// ErrUnknownAddressType indicates that the network address type could
	// not be determined from a network address' bytes.
	ErrUnknownAddressType = ErrorKind("ErrUnknownAddressType")

	// ErrMismatchedAddressType indicates that a network address was expected
	// to be a certain type, but was derived to be a different type.
	ErrMismatchedAddressType = ErrorKind("ErrMismatchedAddressType")

	// ErrUnsupportedFormat indicates that serialized state declares a
	// format which is newer than what this package is able to read.
	ErrUnsupportedFormat = ErrorKind("ErrUnsupportedFormat")

	// ErrCorruptState indicates that serialized state could not be decoded
	// because it is truncated, malformed, or fails the consistency check
	// after loading.
	ErrCorruptState = ErrorKind("ErrCorruptState")

	// ErrInconsistent indicates that the in-memory tables violate one of
	// the address manager invariants.
	ErrInconsistent = ErrorKind("ErrInconsistent")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies an address manager error.  It has full support for
// errors.Is and errors.As, so the caller can ascertain the specific reason
// for the error by checking the underlying error.
type Error struct {
	Description string
	Err         error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// makeError creates an Error given a set of arguments.
func makeError(kind ErrorKind, desc string) Error {
	return Error{Err: kind, Description: desc}
}
