// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

// Package pagewal implements a shared, page-oriented write-ahead log for an
// embeddable single-file relational database: many readers and one writer
// per namespace coordinate through a SharedWal, frames accumulate in an
// appendable current segment until it is sealed and swapped, sealed
// segments form a tail serving older snapshots until checkpoint drains them
// into the base database file, and a Registry ties a resolver-selected
// namespace to its SharedWal and the on-disk layout backing it.
//
// The data model is split across four packages: frame defines the on-disk
// page record shared by every tier, segment implements the current segment
// and the compacted on-disk format sealed segments and the tail are
// written in, txn holds the read/write transaction types a connection
// drives, and werr holds the sentinel errors the rest share. This package
// ties them together into SharedWal and Registry.
package pagewal
