// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arena models the heap substrate an Allocator grows into: a single
// contiguous, grow-only byte region. It plays the role the teacher package's
// Filer plays for a storage engine, minus the transactional (BeginUpdate /
// EndUpdate / Rollback) surface the allocator never needs and minus
// Truncate, since this region never shrinks.
package arena

import "fmt"

// A Storage is a []byte-like random access byte region. It is not safe for
// concurrent use; callers (the Allocator) serialize access themselves, the
// same contract lldb.Filer documents for its consumers.
type Storage interface {
	// ReadAt behaves like io.ReaderAt.ReadAt.
	ReadAt(b []byte, off int64) (n int, err error)

	// WriteAt behaves like io.WriterAt.WriteAt. Writing past Size extends
	// the storage; callers other than Arena.Grow MUST NOT rely on this -
	// Arena is the only thing that grows the region.
	WriteAt(b []byte, off int64) (n int, err error)

	// Size reports the current size of the storage in bytes.
	Size() int64
}

// A Puncher is implemented by a Storage that can give backing space for a
// byte range back to the OS without changing the logical Size - exactly the
// semantics lldb.Filer.PunchHole documents. Arena consults this optionally;
// Storage implementations that don't care (e.g. Mem) simply don't implement
// it.
type Puncher interface {
	PunchHole(off, size int64) error
}

// ErrStorageShrank is returned by Grow if, after writing the last byte of
// the new region, a Storage reports a Size smaller than the end of that
// region (Had is the expected end, Got the reported Size); Storage is
// grow-only from Arena's point of view and Arena itself never shrinks it.
type ErrStorageShrank struct {
	Had, Got int64
}

func (e *ErrStorageShrank) Error() string {
	return fmt.Sprintf("arena: storage size went backwards: had %d, got %d", e.Had, e.Got)
}

// Arena is a grow-only contiguous byte region backed by a Storage. Grow is
// the only mutating operation; everything else (ReadAt/WriteAt) passes
// through.
type Arena struct {
	s    Storage
	lo   int64
	size int64
}

// New returns an Arena over s. lo is the logical address of the first byte
// of the region (s itself is always addressed from absolute offset 0; lo
// lets a caller carve one logical heap out of the tail of a larger Storage,
// the same role InnerFiler.off plays for lldb.InnerFiler).
func New(s Storage, lo int64) *Arena {
	return &Arena{s: s, lo: lo, size: s.Size() - lo}
}

// Bounds returns the current [lo, hi) logical address range of the region.
func (a *Arena) Bounds() (lo, hi int64) {
	return a.lo, a.lo + a.size
}

// Grow extends the region by exactly n bytes and returns the logical
// address of the first new byte. The new bytes read as zero until written.
func (a *Arena) Grow(n int64) (addr int64, err error) {
	if n <= 0 {
		return 0, fmt.Errorf("arena: Grow requires n > 0, got %d", n)
	}

	addr = a.lo + a.size
	want := addr + n
	// Touch the last byte of the new region so Storage implementations
	// that extend lazily (sparse files, growable slices) actually do so.
	if _, err = a.s.WriteAt([]byte{0}, want-1); err != nil {
		return 0, err
	}

	if got := a.s.Size(); got < want {
		return 0, &ErrStorageShrank{Had: want, Got: got}
	}

	a.size += n
	return addr, nil
}

// ReadAt reads len(b) bytes starting at the logical address off.
func (a *Arena) ReadAt(b []byte, off int64) (int, error) {
	return a.s.ReadAt(b, off)
}

// WriteAt writes b starting at the logical address off. off+len(b) must not
// exceed the current Bounds hi; Grow first if more room is needed.
func (a *Arena) WriteAt(b []byte, off int64) (int, error) {
	return a.s.WriteAt(b, off)
}

// Discard gives the backing space in [off, off+size) back to the OS if the
// underlying Storage supports it (see Puncher); it is a no-op otherwise.
// Logical Size/Bounds are unaffected - this mirrors the lldb.Filer.PunchHole
// contract exactly. The Allocator calls this for large freed blocks so a
// file-backed Arena doesn't hold disk space for content nobody will ever
// read again.
func (a *Arena) Discard(off, size int64) error {
	p, ok := a.s.(Puncher)
	if !ok {
		return nil
	}

	return p.PunchHole(off, size)
}
