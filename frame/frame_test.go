// Copyright (c) HashiCorp, Inc
// SPDX-License-Identifier: MPL-2.0

package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{PageNo: 7, FrameNo: 42, SizeAfter: 100}
	buf := make([]byte, HeaderSize)
	EncodeHeader(buf, h)

	got, err := DecodeHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestIsCommit(t *testing.T) {
	require.False(t, Header{SizeAfter: 0}.IsCommit())
	require.True(t, Header{SizeAfter: 1}.IsCommit())
}

func TestFrameRoundTrip(t *testing.T) {
	page := make([]byte, PageSize)
	for i := range page {
		page[i] = byte(i)
	}
	f := &Frame{Header: Header{PageNo: 3, FrameNo: 9, SizeAfter: 5}, Page: page}

	buf := make([]byte, Size)
	require.NoError(t, Encode(buf, f))

	var got Frame
	require.NoError(t, Decode(buf, &got))
	require.Equal(t, f.Header, got.Header)
	require.Equal(t, f.Page, got.Page)
}

func TestDecodeShortBuffer(t *testing.T) {
	_, err := DecodeHeader(make([]byte, HeaderSize-1))
	require.Error(t, err)

	var f Frame
	require.Error(t, Decode(make([]byte, Size-1), &f))
}

func TestEncodeRejectsWrongPageSize(t *testing.T) {
	buf := make([]byte, Size)
	f := &Frame{Header: Header{PageNo: 1}, Page: make([]byte, PageSize-1)}
	require.Error(t, Encode(buf, f))
}
