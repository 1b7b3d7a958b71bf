// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapalloc

import (
	"testing"

	"github.com/punnawachara/segheap/heapalloc/arena"
)

func TestPackUnpackHeader(t *testing.T) {
	for _, sz := range []int64{0, 8, 24, 4096, 1 << 28} {
		for _, alloc := range []bool{true, false} {
			v := packHeader(sz, alloc)
			gotSize, gotAlloc := unpackHeader(v)
			if gotSize != sz || gotAlloc != alloc {
				t.Errorf("unpackHeader(packHeader(%d,%v)) = (%d,%v)", sz, alloc, gotSize, gotAlloc)
			}
		}
	}
}

func TestWriteBlockTagsRoundTrip(t *testing.T) {
	m := arena.NewMem()
	if _, err := m.WriteAt(make([]byte, 64), 0); err != nil {
		t.Fatal(err)
	}

	if err := writeBlockTags(m, 8, 32, true); err != nil {
		t.Fatal(err)
	}

	size, alloc, err := readHeader(m, 8)
	if err != nil {
		t.Fatal(err)
	}
	if size != 32 || !alloc {
		t.Fatalf("header = (%d,%v), want (32,true)", size, alloc)
	}

	fsize, falloc, err := readHeader(m, 8+32-wordSize)
	if err != nil {
		t.Fatal(err)
	}
	if fsize != size || falloc != alloc {
		t.Fatalf("footer = (%d,%v), want header's (%d,%v)", fsize, falloc, size, alloc)
	}
}

func TestLinksRoundTrip(t *testing.T) {
	m := arena.NewMem()
	if _, err := m.WriteAt(make([]byte, 64), 0); err != nil {
		t.Fatal(err)
	}

	if err := writeLinks(m, 0, 42, 99); err != nil {
		t.Fatal(err)
	}

	prev, next, err := readLinks(m, 0)
	if err != nil {
		t.Fatal(err)
	}
	if prev != 42 || next != 99 {
		t.Fatalf("readLinks = (%d,%d), want (42,99)", prev, next)
	}
}

func TestAlign8(t *testing.T) {
	cases := map[int64]int64{0: 0, 1: 8, 7: 8, 8: 8, 9: 16, 24: 24, 25: 32}
	for in, want := range cases {
		if got := align8(in); got != want {
			t.Errorf("align8(%d) = %d, want %d", in, got, want)
		}
	}
}
