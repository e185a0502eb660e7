// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

//go:build !unix

package ioutil

import (
	"errors"
	"os"
)

var errMmapUnsupported = errors.New("ioutil: mmap unsupported on this platform")

func mmap(f *os.File, size int64) ([]byte, error) {
	return nil, errMmapUnsupported
}

func munmap(b []byte) error {
	return nil
}
