// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapalloc

import "encoding/binary"

const (
	minBlockSize = 24 // header(4) + prev(8) + next(8) + footer(4)
	wordSize     = 4
	dwordSize    = 8
	allocBit     = 1

	// prologueSize is the size field value stamped into the prologue's
	// header and footer - 8, per spec.md: "header and footer both encode
	// (size=8, alloc=1)". The prologue's header and footer are adjacent
	// (no payload), so it physically occupies exactly 8 bytes.
	prologueSize = 8

	// maxBlockSize is the largest 8-aligned block size packHeader can store
	// without truncation: the header/footer word is a uint32 with bit 0
	// reserved for the alloc flag, so 0xFFFFFFF8 is the top 8-aligned value
	// that still fits.
	maxBlockSize = 0xFFFFFFF8
)

func align8(n int64) int64 { return (n + 7) &^ 7 }

func putInt64(b []byte, v int64) { binary.BigEndian.PutUint64(b, uint64(v)) }
func getInt64(b []byte) int64    { return int64(binary.BigEndian.Uint64(b)) }

func packHeader(size int64, alloc bool) uint32 {
	v := uint32(size)
	if alloc {
		v |= allocBit
	}

	return v
}

func unpackHeader(v uint32) (size int64, alloc bool) {
	return int64(v &^ allocBit), v&allocBit != 0
}

// storage is the minimal surface block.go needs from *arena.Arena, so tests
// can exercise it against a bare Mem without pulling in the full Allocator.
type storage interface {
	ReadAt(b []byte, off int64) (int, error)
	WriteAt(b []byte, off int64) (int, error)
}

func readHeader(s storage, addr int64) (size int64, alloc bool, err error) {
	var b [4]byte
	if _, err = s.ReadAt(b[:], addr); err != nil {
		return 0, false, err
	}

	size, alloc = unpackHeader(binary.BigEndian.Uint32(b[:]))
	return
}

func writeHeader(s storage, addr, size int64, alloc bool) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], packHeader(size, alloc))
	_, err := s.WriteAt(b[:], addr)
	return err
}

func writeFooter(s storage, addr, size int64, alloc bool) error {
	return writeHeader(s, addr+size-wordSize, size, alloc)
}

// writeBlockTags stamps both the header and the footer of the block at addr
// with (size, alloc) - per spec.md's "every block has header == footer"
// invariant, these are always written together.
func writeBlockTags(s storage, addr, size int64, alloc bool) error {
	if err := writeHeader(s, addr, size, alloc); err != nil {
		return err
	}

	return writeFooter(s, addr, size, alloc)
}

func payloadAddr(addr int64) int64 { return addr + wordSize }

func readLinks(s storage, addr int64) (prev, next int64, err error) {
	var b [16]byte
	if _, err = s.ReadAt(b[:], payloadAddr(addr)); err != nil {
		return 0, 0, err
	}

	return getInt64(b[:8]), getInt64(b[8:]), nil
}

func writePrev(s storage, addr, prev int64) error {
	var b [8]byte
	putInt64(b[:], prev)
	_, err := s.WriteAt(b[:], payloadAddr(addr))
	return err
}

func writeNext(s storage, addr, next int64) error {
	var b [8]byte
	putInt64(b[:], next)
	_, err := s.WriteAt(b[:], payloadAddr(addr)+8)
	return err
}

func writeLinks(s storage, addr, prev, next int64) error {
	if err := writePrev(s, addr, prev); err != nil {
		return err
	}

	return writeNext(s, addr, next)
}
