// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package heapalloc implements a segregated free-list allocator over a
// contiguous, grow-only arena.Arena - the Go counterpart of the teacher
// package's lldb.Allocator, adapted from a file-offset/handle scheme to a
// plain malloc/free/realloc contract: Alloc returns an address the caller
// writes into directly and Free takes that same address back, the same
// shape as C's malloc rather than lldb.Allocator.Alloc(b []byte), which is
// handed its content up front because a Filer has no separate write step.
package heapalloc

import (
	"math"

	"go.uber.org/zap"

	"github.com/punnawachara/segheap/heapalloc/arena"
)

// defaultChunk is the number of bytes the heap grows by when Alloc can't be
// satisfied from any free list - the Go counterpart of the source
// allocator's CHUNKSIZE.
const defaultChunk = 168

// classSlot is one entry of the on-heap directory: the head address of one
// segregated free list, cached in memory and mirrored to the heap bytes at
// off on every write - the same "cache the head, write through" pattern the
// teacher's flt.fltSlot uses for its own persisted free-list heads.
type classSlot struct {
	a    *arena.Arena
	off  int64
	head int64
}

func (c *classSlot) setHead(h int64) error {
	c.head = h
	var b [8]byte
	putInt64(b[:], h)
	_, err := c.a.WriteAt(b[:], c.off)
	return err
}

// Allocator is a segregated-list heap allocator over a single arena.Arena.
// It is not safe for concurrent use; callers serialize their own access,
// same as the teacher's lldb.Allocator and same as libc malloc.
type Allocator struct {
	arena *arena.Arena
	log   *zap.Logger

	dir   [numClasses]*classSlot
	first int64 // address of the first real block, right after the prologue
	epi   int64 // address of the epilogue header
}

// Options configures a new Allocator. The zero value is a ready-to-use
// default: an unnamed nop logger and the standard chunk size.
type Options struct {
	Logger *zap.Logger
	Chunk  int64
}

func (o Options) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}

func (o Options) chunk() int64 {
	if o.Chunk > 0 {
		return align8(o.Chunk)
	}
	return defaultChunk
}

// NewAllocator lays a fresh heap out over a (expected to be empty) arena: the
// list directory, the padding/prologue/epilogue sentinels, and one initial
// free chunk. Grounded on lldb.NewFLTAllocator's role in dbm.go, adapted to
// this package's header/footer block model - the source allocator does the
// equivalent setup inline at the top of mm_init.
func NewAllocator(a *arena.Arena, opts Options) (*Allocator, error) {
	al := &Allocator{arena: a, log: opts.logger()}

	dirAddr, err := a.Grow(dirBytes)
	if err != nil {
		return nil, err
	}

	var d directory
	buf := make([]byte, dirBytes)
	d.encode(buf)
	if _, err := a.WriteAt(buf, dirAddr); err != nil {
		return nil, err
	}
	for i := range al.dir {
		al.dir[i] = &classSlot{a: a, off: dirAddr + int64(i)*8, head: d[i]}
	}

	// padding(4) + prologue header(4) + prologue footer(4) + epilogue header(4)
	sentinels, err := a.Grow(wordSize * 4)
	if err != nil {
		return nil, err
	}
	prologue := sentinels + wordSize
	if err := writeBlockTags(a, prologue, prologueSize, true); err != nil {
		return nil, err
	}
	al.first = prologue + prologueSize
	al.epi = al.first
	if err := writeHeader(a, al.epi, 0, true); err != nil {
		return nil, err
	}

	addr, size, err := al.extendHeap(opts.chunk())
	if err != nil {
		return nil, err
	}
	if err := writeBlockTags(a, addr, size, false); err != nil {
		return nil, err
	}
	if err := al.insert(addr, size); err != nil {
		return nil, err
	}

	al.log.Debug("heap initialized", zap.Int64("first", al.first), zap.Int64("initial_free_bytes", size))
	return al, nil
}

// OpenAllocator reattaches to a heap a prior Allocator already laid out over
// a, reading the on-heap directory back into memory instead of writing a
// fresh one. This is the reopen path for an arena.File-backed heap that
// outlives the process: the directory's on-heap encoding (classes.go's
// directory.decode) exists for exactly this, not for NewAllocator, which
// builds the directory it writes entirely in memory.
func OpenAllocator(a *arena.Arena, opts Options) (*Allocator, error) {
	lo, hi := a.Bounds()

	buf := make([]byte, dirBytes)
	if _, err := a.ReadAt(buf, lo); err != nil {
		return nil, err
	}
	var d directory
	d.decode(buf)

	al := &Allocator{
		arena: a,
		log:   opts.logger(),
		first: lo + dirBytes + wordSize*3, // padding + prologue(8) skipped, see NewAllocator
		epi:   hi - wordSize,
	}
	for i := range al.dir {
		al.dir[i] = &classSlot{a: a, off: lo + int64(i)*8, head: d[i]}
	}

	al.log.Debug("heap reopened", zap.Int64("first", al.first), zap.Int64("epilogue", al.epi))
	return al, nil
}

// adjustedSize returns the total block size (header+payload+footer, 8-byte
// aligned, at least minBlockSize) needed to hold a size-byte payload.
// Grounded on mm_malloc's own adjustment: "max(24, roundup8(size+8))".
func adjustedSize(size int64) int64 {
	a := align8(size + dwordSize)
	if a < minBlockSize {
		return minBlockSize
	}
	return a
}

// Alloc reserves a block able to hold size bytes and returns its payload
// address, or 0 if size is 0. Mirrors mm_malloc: find-fit within the owning
// class and upward, place on a hit, else extend the heap by max(request,
// defaultChunk) and place into the resulting block.
func (al *Allocator) Alloc(size int64) (int64, error) {
	if size < 0 {
		return 0, &ErrInvalid{Msg: "negative size", Arg: size}
	}
	if size == 0 {
		return 0, nil
	}

	need := adjustedSize(size)
	if need > maxBlockSize {
		return 0, &ErrTooLarge{Size: size}
	}

	addr, blockSize, err := al.findFit(need)
	if err != nil {
		return 0, err
	}
	if addr != 0 {
		prev, next, err := readLinks(al.arena, addr)
		if err != nil {
			return 0, err
		}
		if err := al.remove(addr, blockSize, prev, next); err != nil {
			return 0, err
		}
		if err := al.place(addr, blockSize, need); err != nil {
			return 0, err
		}
		return payloadAddr(addr), nil
	}

	grow := need
	if grow < defaultChunk {
		grow = defaultChunk
	}
	addr, blockSize, err = al.extendHeap(grow)
	if err != nil {
		return 0, err
	}
	if err := al.place(addr, blockSize, need); err != nil {
		return 0, err
	}
	return payloadAddr(addr), nil
}

// Calloc reserves space for nmemb elements of size bytes each, zeroed.
// Resolves spec open questions 2 and 3: the product is overflow-checked
// (the source does not check this) and Alloc's null result is returned
// as-is without attempting to zero through it.
func (al *Allocator) Calloc(nmemb, size int64) (int64, error) {
	if nmemb < 0 || size < 0 {
		return 0, &ErrInvalid{Msg: "negative nmemb or size", Arg: [2]int64{nmemb, size}}
	}
	if nmemb != 0 && size > math.MaxInt64/nmemb {
		return 0, &ErrOverflow{Nmemb: nmemb, Size: size}
	}

	total := nmemb * size
	ptr, err := al.Alloc(total)
	if err != nil || ptr == 0 {
		return ptr, err
	}

	zero := make([]byte, total)
	if _, err := al.arena.WriteAt(zero, ptr); err != nil {
		return 0, err
	}
	return ptr, nil
}

// Free releases the block at ptr, coalescing it with any free neighbors.
// ptr must be an address previously returned by Alloc/Calloc/Realloc and
// not already freed; double-free is reported as ErrInvalid rather than
// left as undefined behavior.
func (al *Allocator) Free(ptr int64) error {
	if ptr == 0 {
		return nil
	}
	addr := ptr - wordSize
	if addr < al.first || addr >= al.epi {
		return &ErrInvalid{Msg: "address out of heap bounds", Arg: ptr}
	}

	size, alloc, err := readHeader(al.arena, addr)
	if err != nil {
		return err
	}
	if !alloc {
		return &ErrInvalid{Msg: "double free", Arg: ptr}
	}

	// Clear the alloc bit in this block's own header first: if it is merged
	// into a free left neighbor below, that header is not rewritten, and a
	// second Free of ptr must still read it as free.
	if err := writeHeader(al.arena, addr, size, false); err != nil {
		return err
	}

	// The first 16 payload bytes hold the prev/next links insert writes, so
	// they are kept out of the discarded range.
	if size >= classUpper[len(classUpper)-1] {
		defer func() { _ = al.arena.Discard(payloadAddr(addr)+2*dwordSize, size-3*dwordSize) }()
	}

	return al.coalesceAndLink(addr, size)
}

// Realloc resizes the block at ptr to hold size bytes, preserving content up
// to the smaller of the old and new sizes. ptr == 0 behaves like Alloc;
// size == 0 behaves like Free and returns 0. Mirrors mm_realloc: shrink in
// place and hand the remainder back, grow in place into a free right
// neighbor when there's room, otherwise allocate-copy-free.
func (al *Allocator) Realloc(ptr, size int64) (int64, error) {
	if ptr == 0 {
		return al.Alloc(size)
	}
	if size == 0 {
		return 0, al.Free(ptr)
	}

	addr := ptr - wordSize
	if addr < al.first || addr >= al.epi {
		return 0, &ErrInvalid{Msg: "address out of heap bounds", Arg: ptr}
	}

	o, alloc, err := readHeader(al.arena, addr)
	if err != nil {
		return 0, err
	}
	if !alloc {
		return 0, &ErrInvalid{Msg: "realloc of freed block", Arg: ptr}
	}

	n := adjustedSize(size)
	switch {
	case n == o:
		return ptr, nil

	case n < o:
		// Split only when the remainder can stand as a block of its own (at
		// least minBlockSize); otherwise the block keeps its old size.
		if o-n >= minBlockSize {
			if err := writeBlockTags(al.arena, addr, n, true); err != nil {
				return 0, err
			}
			if err := al.coalesceAndLink(addr+n, o-n); err != nil {
				return 0, err
			}
		}
		return ptr, nil

	default: // n > o
		k := n - o
		rightAddr := addr + o
		if rightAddr < al.epi {
			rsize, ralloc, err := readHeader(al.arena, rightAddr)
			if err != nil {
				return 0, err
			}
			// An exact fit (rsize == k) also grows in place (>=, not >), so
			// it never falls back to a copy.
			if !ralloc && rsize >= k {
				rprev, rnext, err := readLinks(al.arena, rightAddr)
				if err != nil {
					return 0, err
				}
				if err := al.remove(rightAddr, rsize, rprev, rnext); err != nil {
					return 0, err
				}

				remainder := rsize - k
				if remainder >= minBlockSize {
					if err := writeBlockTags(al.arena, addr, n, true); err != nil {
						return 0, err
					}
					if err := al.coalesceAndLink(addr+n, remainder); err != nil {
						return 0, err
					}
				} else if err := writeBlockTags(al.arena, addr, o+rsize, true); err != nil {
					return 0, err
				}
				return ptr, nil
			}
		}

		newPtr, err := al.Alloc(size)
		if err != nil {
			return 0, err
		}

		copyLen := o - dwordSize
		if size < copyLen {
			copyLen = size
		}
		buf := make([]byte, copyLen)
		if _, err := al.arena.ReadAt(buf, ptr); err != nil {
			return 0, err
		}
		if _, err := al.arena.WriteAt(buf, newPtr); err != nil {
			return 0, err
		}
		if err := al.Free(ptr); err != nil {
			return 0, err
		}
		return newPtr, nil
	}
}

// ReadAt reads len(b) bytes from a previously allocated payload address.
func (al *Allocator) ReadAt(b []byte, off int64) (int, error) { return al.arena.ReadAt(b, off) }

// WriteAt writes b at a previously allocated payload address.
func (al *Allocator) WriteAt(b []byte, off int64) (int, error) { return al.arena.WriteAt(b, off) }

// findFit scans the owning class for need and every larger class in order,
// first-fit within each list, mirroring find_fit's "search list[class],
// then list[class+1], ..." fallback.
func (al *Allocator) findFit(need int64) (addr int64, size int64, err error) {
	start := classOf(need)
	for c := start; c < numClasses; c++ {
		b := al.dir[c].head
		for b != 0 {
			bsize, alloc, err := readHeader(al.arena, b)
			if err != nil {
				return 0, 0, err
			}
			if alloc {
				return 0, 0, &ErrCorrupt{Msg: "allocated block on free list", Addr: b}
			}
			if bsize >= need {
				return b, bsize, nil
			}
			_, next, err := readLinks(al.arena, b)
			if err != nil {
				return 0, 0, err
			}
			b = next
		}
	}
	return 0, 0, nil
}

// place carves need bytes off the front of a blockSize-byte block at addr
// (already unlinked from its free list, or never linked at all - the
// extendHeap miss path hands place a block that was never inserted
// anywhere), splitting off and re-linking the remainder if it's large
// enough to be its own block.
func (al *Allocator) place(addr, blockSize, need int64) error {
	remainder := blockSize - need
	if remainder >= minBlockSize {
		if err := writeBlockTags(al.arena, addr, need, true); err != nil {
			return err
		}
		return al.coalesceAndLink(addr+need, remainder)
	}
	return writeBlockTags(al.arena, addr, blockSize, true)
}

// extendHeap grows the arena by n bytes (rounded up to 8, at least
// minBlockSize), stamps a new epilogue, and merges the grown region with
// the heap's previously-last block if that block is free. It returns the
// resulting (addr, size) WITHOUT writing its tags or linking it into any
// free list - callers decide whether that's headed straight for place
// (Alloc's miss path) or into the free lists as-is (NewAllocator's initial
// chunk). Mirrors extend_heap, generalized to merge-left only since the
// epilogue sentinel guarantees the right neighbor is always "allocated".
func (al *Allocator) extendHeap(n int64) (addr int64, size int64, err error) {
	n = align8(n)
	if n < minBlockSize {
		n = minBlockSize
	}

	oldEpi := al.epi
	if _, err = al.arena.Grow(n); err != nil {
		return 0, 0, err
	}
	if err = writeHeader(al.arena, oldEpi+n, 0, true); err != nil {
		return 0, 0, err
	}
	al.epi = oldEpi + n

	return al.mergeLeft(oldEpi, n)
}

// mergeLeft merges the region [addr, addr+size) with its left neighbor if
// that neighbor is a free block, unlinking it from its free list. It does
// not write any tags for the (possibly merged) result and does not touch
// the right neighbor - extendHeap's only caller already knows the right
// neighbor is the fresh epilogue.
func (al *Allocator) mergeLeft(addr, size int64) (int64, int64, error) {
	lsize, lalloc, err := readHeader(al.arena, addr-wordSize)
	if err != nil {
		return 0, 0, err
	}
	if lalloc {
		return addr, size, nil
	}

	leftAddr := addr - lsize
	lprev, lnext, err := readLinks(al.arena, leftAddr)
	if err != nil {
		return 0, 0, err
	}
	if err := al.remove(leftAddr, lsize, lprev, lnext); err != nil {
		return 0, 0, err
	}
	return leftAddr, lsize + size, nil
}

// mergeNeighbors implements the four-case immediate-coalescing decision
// (neither/right/left/both free), unlinking whichever neighbors are free
// from their class lists, and returns the final (addr, size) without
// writing its tags or linking it anywhere. Grounded on the source
// allocator's coalesce, generalized from "prev block in the same heap" to
// "prev/next block read through the prologue/epilogue sentinels", which is
// exactly why no boundary special-casing is needed here: the sentinels
// always read back as allocated.
func (al *Allocator) mergeNeighbors(addr, size int64) (int64, int64, error) {
	lsize, lalloc, err := readHeader(al.arena, addr-wordSize)
	if err != nil {
		return 0, 0, err
	}
	rsize, ralloc, err := readHeader(al.arena, addr+size)
	if err != nil {
		return 0, 0, err
	}

	switch {
	case lalloc && ralloc:
		return addr, size, nil

	case lalloc && !ralloc:
		rightAddr := addr + size
		rprev, rnext, err := readLinks(al.arena, rightAddr)
		if err != nil {
			return 0, 0, err
		}
		if err := al.remove(rightAddr, rsize, rprev, rnext); err != nil {
			return 0, 0, err
		}
		return addr, size + rsize, nil

	case !lalloc && ralloc:
		leftAddr := addr - lsize
		lprev, lnext, err := readLinks(al.arena, leftAddr)
		if err != nil {
			return 0, 0, err
		}
		if err := al.remove(leftAddr, lsize, lprev, lnext); err != nil {
			return 0, 0, err
		}
		return leftAddr, lsize + size, nil

	default: // both free
		leftAddr := addr - lsize
		rightAddr := addr + size

		lprev, lnext, err := readLinks(al.arena, leftAddr)
		if err != nil {
			return 0, 0, err
		}
		if err := al.remove(leftAddr, lsize, lprev, lnext); err != nil {
			return 0, 0, err
		}

		// Re-read the right neighbor's links: if left and right shared a
		// class list and were adjacent in it, unlinking left may have just
		// changed right's prev/next.
		rprev, rnext, err := readLinks(al.arena, rightAddr)
		if err != nil {
			return 0, 0, err
		}
		if err := al.remove(rightAddr, rsize, rprev, rnext); err != nil {
			return 0, 0, err
		}

		return leftAddr, lsize + size + rsize, nil
	}
}

// coalesceAndLink merges addr/size with any free neighbors, stamps the
// result's header/footer as free, and head-inserts it into its owning
// class's free list.
func (al *Allocator) coalesceAndLink(addr, size int64) error {
	addr, size, err := al.mergeNeighbors(addr, size)
	if err != nil {
		return err
	}
	if err := writeBlockTags(al.arena, addr, size, false); err != nil {
		return err
	}
	return al.insert(addr, size)
}

// insert head-inserts the free block at addr into the class list for size.
func (al *Allocator) insert(addr, size int64) error {
	slot := al.dir[classOf(size)]
	head := slot.head
	if err := writeLinks(al.arena, addr, 0, head); err != nil {
		return err
	}
	if head != 0 {
		if err := writePrev(al.arena, head, addr); err != nil {
			return err
		}
	}
	return slot.setHead(addr)
}

// remove unlinks the free block at addr (with the given prev/next, as last
// read) from the class list for size.
func (al *Allocator) remove(addr, size, prev, next int64) error {
	slot := al.dir[classOf(size)]
	switch {
	case prev == 0 && next == 0:
		return slot.setHead(0)
	case prev == 0:
		if err := writePrev(al.arena, next, 0); err != nil {
			return err
		}
		return slot.setHead(next)
	case next == 0:
		return writeNext(al.arena, prev, 0)
	default:
		if err := writeNext(al.arena, prev, next); err != nil {
			return err
		}
		return writePrev(al.arena, next, prev)
	}
}
