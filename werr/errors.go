// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package werr holds the sentinel error values shared across pagewal's
// packages. It exists as its own leaf package (rather than living on the
// root pagewal package) purely so that segment can return them without
// creating an import cycle back to the root package, which imports it.
package werr

import (
	"errors"
	"fmt"
)

var (
	// ErrBusySnapshot is returned from upgrade when another writer advanced
	// the log after this connection's read snapshot was taken. The caller
	// must begin a fresh read transaction and retry the upgrade.
	ErrBusySnapshot = errors.New("pagewal: busy snapshot")

	// ErrInvalidHeaderMagic is returned by the compacted segment codec when
	// the header magic doesn't match.
	ErrInvalidHeaderMagic = errors.New("pagewal: invalid compacted segment header magic")

	// ErrInvalidPageSize is returned when a compacted segment's page_size
	// field doesn't match frame.PageSize.
	ErrInvalidPageSize = errors.New("pagewal: invalid compacted segment page size")

	// ErrInvalidVersion is returned when a compacted segment's version field
	// is not one this codec understands. Kept distinct from
	// ErrInvalidPageSize (see DESIGN.md Open Question resolution).
	ErrInvalidVersion = errors.New("pagewal: invalid compacted segment version")

	// ErrChecksumMismatch is returned when a compacted segment's footer CRC
	// doesn't match the recomputed checksum over header+body.
	ErrChecksumMismatch = errors.New("pagewal: checksum mismatch")

	// ErrNamespaceMissing is returned by the registry when the configured
	// resolver can't map a database path to a namespace.
	ErrNamespaceMissing = errors.New("pagewal: namespace missing")

	// ErrSealed is returned when an append is attempted against a segment
	// whose sealed flag is already set. Reaching this is a caller bug: the
	// coordinator must never hand out a write transaction against a sealed
	// current segment.
	ErrSealed = errors.New("pagewal: segment is sealed")

	// ErrClosed names the error for an operation attempted after Close. No
	// operation in this module returns it: calls made after Close are not
	// guarded.
	ErrClosed = errors.New("pagewal: closed")

	// ErrNotFound names the error for a page that can't be located. No
	// operation in this module returns it: segment and tail lookups report
	// a missing page with a false result, and SharedWal.ReadFrame falls
	// through to the base file.
	ErrNotFound = errors.New("pagewal: frame not found")
)

// IOError wraps an underlying I/O error so callers can unwrap it with
// errors.As while still getting a pagewal-flavored message: the failure
// passes through unchanged but tagged with the operation that produced it.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("pagewal: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// WrapIO tags err with the operation that produced it, or returns nil
// unchanged.
func WrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: err}
}

// StrictInvariants enables Assert's panic path. Left false in production so
// a violated invariant degrades to wrong data rather than an outage; tests
// that want to catch a regression turn it on for the duration of the test.
var StrictInvariants = false

// Assert panics with msg (formatted with args) if cond is false and
// StrictInvariants is enabled. It is a no-op otherwise.
func Assert(cond bool, msg string, args ...any) {
	if !cond && StrictInvariants {
		panic(fmt.Sprintf(msg, args...))
	}
}
