// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapalloc

import (
	"bytes"
	"math/rand"
	"testing"
	"testing/quick"

	"github.com/punnawachara/segheap/heapalloc/arena"
)

func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	a := arena.New(arena.NewMem(), 0)
	al, err := NewAllocator(a, Options{})
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	return al
}

// Scenario A: a single alloc/free round trip leaves a verifiably clean heap.
func TestAllocFreeRoundTrip(t *testing.T) {
	al := newTestAllocator(t)

	ptr, err := al.Alloc(100)
	if err != nil {
		t.Fatal(err)
	}
	if ptr == 0 {
		t.Fatal("Alloc(100) returned null")
	}

	if err := al.Verify(); err != nil {
		t.Fatalf("Verify after alloc: %v", err)
	}

	if err := al.Free(ptr); err != nil {
		t.Fatal(err)
	}

	if err := al.Verify(); err != nil {
		t.Fatalf("Verify after free: %v", err)
	}
}

// Scenario B: freeing adjacent blocks in various orders always coalesces
// back down to (at most) one free block per contiguous run.
func TestCoalesceAllFourCases(t *testing.T) {
	al := newTestAllocator(t)

	p1, err := al.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := al.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	p3, err := al.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	p4, err := al.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}

	// p1..p4 are adjacent and p4 is followed by a free remainder. The free
	// order below exercises: neither neighbor free (p2), only the right
	// neighbor free (p1), only the left neighbor free (p3, with p4 still
	// allocated), then both neighbors free (p4).
	if err := al.Free(p2); err != nil {
		t.Fatal(err)
	}
	if err := al.Verify(); err != nil {
		t.Fatalf("after freeing p2: %v", err)
	}

	if err := al.Free(p1); err != nil {
		t.Fatal(err)
	}
	if err := al.Verify(); err != nil {
		t.Fatalf("after freeing p1: %v", err)
	}

	if err := al.Free(p3); err != nil {
		t.Fatal(err)
	}
	if err := al.Verify(); err != nil {
		t.Fatalf("after freeing p3: %v", err)
	}

	if err := al.Free(p4); err != nil {
		t.Fatal(err)
	}
	if err := al.Verify(); err != nil {
		t.Fatalf("after freeing p4: %v", err)
	}
}

// Scenario C: writing into a payload and reading it back after realloc
// grows or shrinks the block preserves content up to the smaller size.
func TestReallocPreservesContent(t *testing.T) {
	al := newTestAllocator(t)

	ptr, err := al.Alloc(16)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte("0123456789abcdef")
	if _, err := al.WriteAt(want, ptr); err != nil {
		t.Fatal(err)
	}

	grown, err := al.Realloc(ptr, 4096)
	if err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(want))
	if _, err := al.ReadAt(got, grown); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("after grow: got %q, want %q", got, want)
	}

	shrunk, err := al.Realloc(grown, 8)
	if err != nil {
		t.Fatal(err)
	}
	got2 := make([]byte, 8)
	if _, err := al.ReadAt(got2, shrunk); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got2, want[:8]) {
		t.Fatalf("after shrink: got %q, want %q", got2, want[:8])
	}

	if err := al.Verify(); err != nil {
		t.Fatal(err)
	}
}

// Scenario D: a long randomized sequence of allocs/frees/reallocs never
// violates a heap invariant.
func TestRandomizedOpsStayConsistent(t *testing.T) {
	al := newTestAllocator(t)
	rng := rand.New(rand.NewSource(1))

	var live []int64
	for i := 0; i < 2000; i++ {
		switch {
		case len(live) > 0 && rng.Intn(3) == 0:
			idx := rng.Intn(len(live))
			if err := al.Free(live[idx]); err != nil {
				t.Fatalf("op %d: Free: %v", i, err)
			}
			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]

		case len(live) > 0 && rng.Intn(3) == 1:
			idx := rng.Intn(len(live))
			newSize := int64(rng.Intn(2000) + 1)
			np, err := al.Realloc(live[idx], newSize)
			if err != nil {
				t.Fatalf("op %d: Realloc: %v", i, err)
			}
			live[idx] = np

		default:
			size := int64(rng.Intn(2000) + 1)
			p, err := al.Alloc(size)
			if err != nil {
				t.Fatalf("op %d: Alloc(%d): %v", i, size, err)
			}
			if p != 0 {
				live = append(live, p)
			}
		}

		if i%100 == 0 {
			if err := al.Verify(); err != nil {
				t.Fatalf("op %d: Verify: %v", i, err)
			}
		}
	}

	if err := al.Verify(); err != nil {
		t.Fatalf("final Verify: %v", err)
	}
}

func TestCallocZeroesAndOverflows(t *testing.T) {
	al := newTestAllocator(t)

	ptr, err := al.Calloc(16, 8)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16*8)
	if _, err := al.ReadAt(buf, ptr); err != nil {
		t.Fatal(err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d not zeroed", i)
		}
	}

	if _, err := al.Calloc(1<<62, 1<<62); err == nil {
		t.Fatal("expected overflow error")
	} else if _, ok := err.(*ErrOverflow); !ok {
		t.Fatalf("expected *ErrOverflow, got %T", err)
	}
}

func TestFreeNullAndDoubleFree(t *testing.T) {
	al := newTestAllocator(t)

	if err := al.Free(0); err != nil {
		t.Fatalf("Free(0) should be a no-op, got %v", err)
	}

	ptr, err := al.Alloc(32)
	if err != nil {
		t.Fatal(err)
	}
	if err := al.Free(ptr); err != nil {
		t.Fatal(err)
	}
	if err := al.Free(ptr); err == nil {
		t.Fatal("expected double-free to be reported")
	}
}

// A block satisfied from an existing free list must come out unlinked:
// two back-to-back allocations that fit in the same free block must never
// return the same address, and the heap must still verify clean.
func TestAllocUnlinksHitBlockFromFreeList(t *testing.T) {
	al := newTestAllocator(t)

	p1, err := al.Alloc(16)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := al.Alloc(16)
	if err != nil {
		t.Fatal(err)
	}
	if p1 == p2 {
		t.Fatalf("Alloc returned the same address twice: %d", p1)
	}

	if err := al.Verify(); err != nil {
		t.Fatalf("Verify after two allocs from one initial chunk: %v", err)
	}
}

func TestAllocTooLarge(t *testing.T) {
	al := newTestAllocator(t)

	_, err := al.Alloc(maxBlockSize)
	if err == nil {
		t.Fatal("expected an error for an unrepresentable size")
	}
	if _, ok := err.(*ErrTooLarge); !ok {
		t.Fatalf("expected *ErrTooLarge, got %T", err)
	}
}

func TestOpenAllocatorReattaches(t *testing.T) {
	mem := arena.NewMem()
	a := arena.New(mem, 0)
	al, err := NewAllocator(a, Options{})
	if err != nil {
		t.Fatal(err)
	}

	p1, err := al.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := al.WriteAt([]byte("hello"), p1); err != nil {
		t.Fatal(err)
	}
	p2, err := al.Alloc(128)
	if err != nil {
		t.Fatal(err)
	}
	if err := al.Free(p2); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenAllocator(a, Options{})
	if err != nil {
		t.Fatalf("OpenAllocator: %v", err)
	}
	if err := reopened.Verify(); err != nil {
		t.Fatalf("Verify after reopen: %v", err)
	}

	buf := make([]byte, 5)
	if _, err := reopened.ReadAt(buf, p1); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatalf("content lost across reopen: got %q", buf)
	}

	p3, err := reopened.Alloc(8)
	if err != nil {
		t.Fatal(err)
	}
	if p3 == 0 {
		t.Fatal("Alloc after reopen returned null")
	}
	if err := reopened.Verify(); err != nil {
		t.Fatalf("Verify after alloc on reopened heap: %v", err)
	}
}

// A lightweight property check mirroring falloc_test.go's own use of
// testing/quick: for any in-range size, Alloc followed immediately by
// Free always leaves the heap valid.
func TestAllocFreeProperty(t *testing.T) {
	al := newTestAllocator(t)

	f := func(n uint16) bool {
		size := int64(n) + 1
		ptr, err := al.Alloc(size)
		if err != nil {
			return false
		}
		if err := al.Free(ptr); err != nil {
			return false
		}
		return al.Verify() == nil
	}

	if err := quick.Check(f, &quick.Config{MaxCount: 500}); err != nil {
		t.Error(err)
	}
}
