// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heapalloc

// Verify walks the entire heap and checks every invariant this package
// relies on: block alignment and bounds, header == footer agreement, no two
// adjacent free blocks, class-list membership matching a free block's actual size, and that the
// forward walk's count of free blocks matches the free lists' own count.
// It is the Go counterpart of lldb.Allocator.Verify, adapted from that
// method's handle/bitmap reconciliation (needed because lldb addresses
// blocks indirectly through a handle table) to a direct count, the
// equivalent reconciliation for this package's direct-address model.
func (al *Allocator) Verify() error {
	freeByWalk, err := al.verifyWalk()
	if err != nil {
		return err
	}

	freeByLists, err := al.verifyFreeLists()
	if err != nil {
		return err
	}

	if freeByWalk != freeByLists {
		return &ErrCorrupt{
			Msg:  "free block count mismatch between heap walk and free lists",
			Addr: al.first,
		}
	}

	return nil
}

// verifyWalk performs the forward, header-to-header heap traversal and
// returns the number of free blocks it finds. It mirrors mm_checkheap's
// in_heap/aligned per-block assertions plus lldb.Allocator.Verify's
// "walk from the start and tag every block you see" phase.
func (al *Allocator) verifyWalk() (freeCount int64, err error) {
	addr := al.first
	prevFree := false
	for addr < al.epi {
		if payloadAddr(addr)%dwordSize != 0 {
			return 0, &ErrCorrupt{Msg: "block payload not doubleword aligned", Addr: addr}
		}

		size, alloc, err := readHeader(al.arena, addr)
		if err != nil {
			return 0, err
		}
		if size < minBlockSize {
			return 0, &ErrCorrupt{Msg: "block smaller than minimum size", Addr: addr}
		}
		if addr+size > al.epi {
			return 0, &ErrCorrupt{Msg: "block extends past epilogue", Addr: addr}
		}

		fsize, falloc, err := readHeader(al.arena, addr+size-wordSize)
		if err != nil {
			return 0, err
		}
		if fsize != size || falloc != alloc {
			return 0, &ErrCorrupt{Msg: "header and footer disagree", Addr: addr}
		}

		if !alloc {
			if prevFree {
				return 0, &ErrCorrupt{Msg: "two adjacent free blocks were not coalesced", Addr: addr}
			}
			freeCount++
		}
		prevFree = !alloc

		addr += size
	}

	if addr != al.epi {
		return 0, &ErrCorrupt{Msg: "heap walk did not land exactly on the epilogue", Addr: addr}
	}

	epiSize, epiAlloc, err := readHeader(al.arena, al.epi)
	if err != nil {
		return 0, err
	}
	if epiSize != 0 || !epiAlloc {
		return 0, &ErrCorrupt{Msg: "epilogue sentinel corrupted", Addr: al.epi}
	}

	return freeCount, nil
}

// verifyFreeLists walks every class's free list and returns the total
// block count across all of them. Each list walk uses tortoise/hare cycle
// detection, the same technique lldb.Allocator.Verify's free-list phase
// uses to rule out a list that loops back on itself.
func (al *Allocator) verifyFreeLists() (total int64, err error) {
	for c, slot := range al.dir {
		n, err := al.verifyOneList(c, slot.head)
		if err != nil {
			return 0, err
		}
		total += n
	}

	return total, nil
}

// verifyOneList walks the free list for one class, checking (per spec.md's
// heap checker): every node is actually free and in the class its size maps
// to, the head's own back-link is null, and every node's forward/backward
// links agree with its neighbors' (next.prev == self, prev.next == self) -
// the exact shape of corruption an alloc-hit path that forgets to unlink a
// block produces, since that block's stale next/prev still point at list
// neighbors that no longer point back at it.
func (al *Allocator) verifyOneList(class int, head int64) (int64, error) {
	if head != 0 {
		prev, _, err := readLinks(al.arena, head)
		if err != nil {
			return 0, err
		}
		if prev != 0 {
			return 0, &ErrCorrupt{Msg: "free list head has a non-null back-link", Addr: head}
		}
	}

	var count int64
	slow, fast := head, head
	var prevAddr int64

	step := func(addr int64) (next int64, err error) {
		size, alloc, err := readHeader(al.arena, addr)
		if err != nil {
			return 0, err
		}
		if alloc {
			return 0, &ErrCorrupt{Msg: "allocated block found on a free list", Addr: addr}
		}
		if classOf(size) != class {
			return 0, &ErrCorrupt{Msg: "free block is in the wrong size class", Addr: addr}
		}

		prev, next, err := readLinks(al.arena, addr)
		if err != nil {
			return 0, err
		}
		if prev != prevAddr {
			return 0, &ErrCorrupt{Msg: "free list node's back-link does not match its predecessor", Addr: addr}
		}
		if prevAddr != 0 {
			_, prevNext, err := readLinks(al.arena, prevAddr)
			if err != nil {
				return 0, err
			}
			if prevNext != addr {
				return 0, &ErrCorrupt{Msg: "free list node's predecessor does not link forward to it", Addr: addr}
			}
		}

		count++
		prevAddr = addr
		return next, nil
	}

	for fast != 0 {
		next, err := step(fast)
		if err != nil {
			return 0, err
		}
		fast = next
		if fast == 0 {
			break
		}

		next2, err := step(fast)
		if err != nil {
			return 0, err
		}
		fast = next2

		_, slow, err = readLinks(al.arena, slow)
		if err != nil {
			return 0, err
		}

		if fast != 0 && fast == slow {
			return 0, &ErrCorrupt{Msg: "cycle detected in free list", Addr: fast}
		}
	}

	return count, nil
}
