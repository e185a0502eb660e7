// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package pagewal

import "github.com/dreamsxin/pagewal/werr"

// Error kinds surfaced to callers. These are re-exports of werr's
// sentinels so that package consumers only need to import this one package
// and can still errors.Is against the same values segment and the registry
// return internally.
var (
	ErrBusySnapshot       = werr.ErrBusySnapshot
	ErrInvalidHeaderMagic = werr.ErrInvalidHeaderMagic
	ErrInvalidPageSize    = werr.ErrInvalidPageSize
	ErrInvalidVersion     = werr.ErrInvalidVersion
	ErrChecksumMismatch   = werr.ErrChecksumMismatch
	ErrNamespaceMissing   = werr.ErrNamespaceMissing
	ErrSealed             = werr.ErrSealed
	ErrClosed             = werr.ErrClosed
	ErrNotFound           = werr.ErrNotFound
)

// IOError wraps an underlying I/O error, passed through unchanged in
// meaning but tagged with the operation that produced it.
type IOError = werr.IOError
