// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapalloc

import "fmt"

// ErrInvalid reports an invalid argument to a public Allocator method - the
// Go counterpart of the teacher package's ErrINVAL, used for the same class
// of caller mistakes (bad address, negative size, double free, ...).
type ErrInvalid struct {
	Msg string
	Arg interface{}
}

func (e *ErrInvalid) Error() string {
	return fmt.Sprintf("heapalloc: invalid argument: %s: %v", e.Msg, e.Arg)
}

// ErrCorrupt reports a violated heap invariant - the Go counterpart of the
// teacher package's ErrILSEQ. It is returned by Verify, and inline by Alloc's
// free-list search when it meets an allocated block on a free list; the
// unlink and coalesce paths do not check for corruption themselves.
type ErrCorrupt struct {
	Msg  string
	Addr int64
}

func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("heapalloc: corrupt heap at %#x: %s", e.Addr, e.Msg)
}

// ErrOverflow is returned by Calloc when nmemb*size overflows. Spec open
// question 2: the source does not check this; we do.
type ErrOverflow struct {
	Nmemb, Size int64
}

func (e *ErrOverflow) Error() string {
	return fmt.Sprintf("heapalloc: calloc(%d, %d) overflows", e.Nmemb, e.Size)
}

// ErrTooLarge is returned by Alloc/Calloc when the requested size cannot be
// satisfied by any block this allocator can ever represent.
type ErrTooLarge struct {
	Size int64
}

func (e *ErrTooLarge) Error() string {
	return fmt.Sprintf("heapalloc: requested size %d exceeds addressable block size", e.Size)
}
