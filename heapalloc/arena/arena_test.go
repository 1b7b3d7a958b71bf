// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arena

import (
	"bytes"
	"testing"
)

func TestGrowReturnsSequentialAddresses(t *testing.T) {
	a := New(NewMem(), 0)

	a1, err := a.Grow(16)
	if err != nil {
		t.Fatal(err)
	}
	if a1 != 0 {
		t.Fatalf("first Grow returned %d, want 0", a1)
	}

	a2, err := a.Grow(8)
	if err != nil {
		t.Fatal(err)
	}
	if a2 != 16 {
		t.Fatalf("second Grow returned %d, want 16", a2)
	}

	_, hi := a.Bounds()
	if hi != 24 {
		t.Fatalf("Bounds hi = %d, want 24", hi)
	}
}

func TestReadWriteAtRoundTrip(t *testing.T) {
	a := New(NewMem(), 0)
	if _, err := a.Grow(64); err != nil {
		t.Fatal(err)
	}

	want := []byte("hello, arena")
	if _, err := a.WriteAt(want, 8); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(want))
	if _, err := a.ReadAt(got, 8); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNonZeroLoOffsetsAddresses(t *testing.T) {
	m := NewMem()
	if _, err := m.WriteAt(make([]byte, 100), 0); err != nil {
		t.Fatal(err)
	}

	a := New(m, 100)
	addr, err := a.Grow(16)
	if err != nil {
		t.Fatal(err)
	}
	if addr != 100 {
		t.Fatalf("Grow on an arena with lo=100 returned %d, want 100", addr)
	}
}

func TestDiscardIsNoOpWithoutPuncher(t *testing.T) {
	a := New(NewMem(), 0)
	if _, err := a.Grow(32); err != nil {
		t.Fatal(err)
	}
	if err := a.Discard(0, 32); err != nil {
		t.Fatalf("Discard on a non-Puncher Storage should be a no-op, got %v", err)
	}
}
