// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arena

import (
	"os"

	"github.com/cznic/fileutil"
	"github.com/cznic/mathutil"
)

var _ Storage = (*File)(nil)
var _ Puncher = (*File)(nil)

// File is an os.File backed Storage, the persistent counterpart of Mem. It
// plays the same role lldb.SimpleFileFiler plays for lldb.Filer: it does not
// itself provide structural-integrity guarantees (no WAL, no journal) - it
// relies on the OS's own sparse-file zero-fill for bytes never written, and
// on PunchHole to return the space large freed blocks occupy without
// shrinking the logical size the Allocator sees.
type File struct {
	f    *os.File
	size int64
}

// NewFile returns a new File wrapping f. The caller owns f's lifecycle
// (opening and eventually closing it); NewFile only reads its current size.
func NewFile(f *os.File) (*File, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	return &File{f: f, size: fi.Size()}, nil
}

// ReadAt implements Storage.
func (f *File) ReadAt(b []byte, off int64) (int, error) {
	return f.f.ReadAt(b, off)
}

// WriteAt implements Storage.
func (f *File) WriteAt(b []byte, off int64) (int, error) {
	n, err := f.f.WriteAt(b, off)
	f.size = mathutil.MaxInt64(f.size, off+int64(n))
	return n, err
}

// Size implements Storage.
func (f *File) Size() int64 { return f.size }

// PunchHole implements Puncher, delegating to the same fileutil helper
// lldb.SimpleFileFiler.PunchHole uses.
func (f *File) PunchHole(off, size int64) error {
	return fileutil.PunchHole(f.f, off, size)
}
