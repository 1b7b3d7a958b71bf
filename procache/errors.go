// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package procache

import "fmt"

// ErrTooLarge is returned by Write when a payload exceeds MaxObjectSize -
// the Go counterpart of write_cache's "len > max_object_size" rejection.
type ErrTooLarge struct {
	Size, MaxObjectSize int64
}

func (e *ErrTooLarge) Error() string {
	return fmt.Sprintf("procache: object size %d exceeds max object size %d", e.Size, e.MaxObjectSize)
}

// ErrShortBuffer is returned by Read when the caller's buffer is smaller
// than the cached object. Spec open question 5: the source's fixed
// MAX_OBJECT_SIZE buffer never faces this; an API over an arbitrary []byte
// needs an explicit contract for it instead of silently truncating.
type ErrShortBuffer struct {
	Have, Need int
}

func (e *ErrShortBuffer) Error() string {
	return fmt.Sprintf("procache: buffer too small: have %d, need %d", e.Have, e.Need)
}

// ErrNoSpace is returned by Write if, after evicting everything evictable,
// the cache still cannot make room - only reachable if MaxObjectSize was
// misconfigured larger than MaxCacheSize.
type ErrNoSpace struct {
	Size, MaxCacheSize int64
}

func (e *ErrNoSpace) Error() string {
	return fmt.Sprintf("procache: object size %d cannot fit in cache of size %d", e.Size, e.MaxCacheSize)
}
