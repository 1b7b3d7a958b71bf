// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package procache implements a bounded, reader-preferring LRU content
// cache keyed by (host, uri) - the Go counterpart of the original proxy's
// proxy_cache/cache_block pair (_examples/original_source/Proxy/cache.c,
// cache.h), ported block for block rather than redesigned: head-insert on
// write, linear search by key, tail eviction under capacity pressure, and
// the same two-semaphore reader-preferring synchronization protocol - kept
// as two explicit mutexes plus a reader count rather than sync.RWMutex,
// because the exact writer-starvation-under-continuous-readers behavior
// that protocol produces is part of what this type ports, not an
// implementation detail a stdlib RWMutex happens to also provide.
package procache

import (
	"sync"

	"github.com/golang/snappy"
	"go.uber.org/zap"
)

// Key identifies a cached object, mirroring cache_block's host/uri pair.
type Key struct {
	Host string
	URI  string
}

// compressMinSize is the payload size at or above which Write attempts
// snappy compression before storing - the Go-layer home for the teacher's
// Allocator.Compress/makeUsedBlock pattern (see DESIGN.md), moved up from
// the allocator to this cache because Write receives its whole payload up
// front, the same shape lldb.Allocator.Alloc(b []byte) has.
const compressMinSize = 256

// block is one cached object, doubly linked for MRU-head insertion and
// O(1) unlink. Mirrors cache_block's next/prev/payload_size/host/uri.
type block struct {
	key        Key
	stored     []byte // as stored: compressed if compressed is true
	rawSize    int64  // uncompressed size; what Write/space accounting uses
	compressed bool
	prev, next *block
}

// Options configures a new Cache.
type Options struct {
	MaxCacheSize  int64
	MaxObjectSize int64
	Logger        *zap.Logger
	Metrics       *Metrics
}

func (o Options) logger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}

// Cache is a bounded LRU content cache. The zero value is not usable; build
// one with New.
type Cache struct {
	maxSize       int64
	maxObjectSize int64
	log           *zap.Logger
	metrics       *Metrics

	// root is the MRU head of a doubly linked list, root.prev == nil.
	// space is the bytes not currently charged to any stored (uncompressed)
	// object - mirrors proxy_cache.space exactly, including the fact that
	// it is charged by raw payload size, not by what compression actually
	// stores, so capacity accounting is independent of compressibility.
	readerGate sync.Mutex
	writerGate sync.Mutex
	readers    int64

	root  *block
	space int64
}

// New returns an empty Cache bounded by opts.
func New(opts Options) *Cache {
	c := &Cache{
		maxSize:       opts.MaxCacheSize,
		maxObjectSize: opts.MaxObjectSize,
		log:           opts.logger(),
		metrics:       opts.Metrics,
		space:         opts.MaxCacheSize,
	}
	return c
}

// MaxObjectSize returns the largest payload Write will accept, so callers
// can size a read buffer without guessing.
func (c *Cache) MaxObjectSize() int64 {
	return c.maxObjectSize
}

// Write stores payload under key, evicting LRU entries as needed to make
// room. An existing entry for key is replaced (spec open question 4: the
// source never receives a repeat key in its own test harness, so letting a
// second write silently duplicate the key would leave Read returning
// whichever copy a linear search hits first - a latent bug, not a
// feature, so Write searches and replaces instead).
func (c *Cache) Write(key Key, payload []byte) error {
	size := int64(len(payload))
	if size > c.maxObjectSize {
		c.log.Debug("rejecting oversized object", zap.String("host", key.Host), zap.String("uri", key.URI), zap.Int64("bytes", size))
		return &ErrTooLarge{Size: size, MaxObjectSize: c.maxObjectSize}
	}

	c.writerGate.Lock()
	defer c.writerGate.Unlock()

	if existing := c.find(key); existing != nil {
		c.unlink(existing)
		c.space += existing.rawSize
	}

	for c.space < size {
		victim := c.lru()
		if victim == nil {
			break
		}
		c.unlink(victim)
		c.space += victim.rawSize
		c.log.Debug("evicting lru block", zap.String("host", victim.key.Host), zap.String("uri", victim.key.URI), zap.Int64("bytes", victim.rawSize))
		if c.metrics != nil {
			c.metrics.evictions.Inc()
		}
	}

	if c.space < size {
		c.log.Debug("no room for object", zap.String("host", key.Host), zap.String("uri", key.URI), zap.Int64("bytes", size))
		return &ErrNoSpace{Size: size, MaxCacheSize: c.maxSize}
	}

	stored := payload
	compressed := false
	if size >= compressMinSize {
		if enc := snappy.Encode(nil, payload); len(enc) < len(payload) {
			stored = enc
			compressed = true
		}
	}

	b := &block{key: key, stored: stored, rawSize: size, compressed: compressed}
	c.insertHead(b)
	c.space -= size

	if c.metrics != nil {
		c.metrics.stored.Set(float64(c.maxSize - c.space))
	}
	return nil
}

// Read copies the object cached under key into buf, which must be large
// enough to hold it (see ErrShortBuffer). ok is false on a cache miss.
// Mirrors read_cache's reader-preferring protocol exactly: the reader
// count gate serializes only the readcnt increment/decrement and the
// first/last reader's acquisition of the writer gate, so the shared search
// below runs concurrently with any number of other readers but never
// concurrently with a Write. The LRU promotion that a hit causes is its
// own, separate writer-gate acquisition (lru_update in the source), not
// folded into the read-shared section above it.
func (c *Cache) Read(key Key, buf []byte) (n int, ok bool, err error) {
	c.readerGate.Lock()
	c.readers++
	if c.readers == 1 {
		c.writerGate.Lock()
	}
	c.readerGate.Unlock()

	b := c.find(key)
	var payload []byte
	if b != nil {
		payload = b.stored
		if b.compressed {
			payload, err = snappy.Decode(nil, b.stored)
		}
	}

	c.readerGate.Lock()
	c.readers--
	if c.readers == 0 {
		c.writerGate.Unlock()
	}
	c.readerGate.Unlock()

	if b == nil {
		if c.metrics != nil {
			c.metrics.misses.Inc()
		}
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if c.metrics != nil {
		c.metrics.hits.Inc()
	}

	if len(buf) < len(payload) {
		return 0, true, &ErrShortBuffer{Have: len(buf), Need: len(payload)}
	}
	n = copy(buf, payload)

	c.promote(key)
	return n, true, nil
}

// promote moves the entry for key to the MRU head, under its own writer
// gate acquisition - a separate critical section from the read that
// triggered it, exactly mirroring lru_update's own P(mutex_write)/
// V(mutex_write) pair in the source.
func (c *Cache) promote(key Key) {
	c.writerGate.Lock()
	defer c.writerGate.Unlock()

	b := c.find(key)
	if b == nil || b == c.root {
		return
	}
	c.unlink(b)
	c.insertHead(b)
}

// find performs the linear host+uri scan search_block does.
func (c *Cache) find(key Key) *block {
	for b := c.root; b != nil; b = b.next {
		if b.key == key {
			return b
		}
	}
	return nil
}

// lru walks to the tail of the MRU list, mirroring get_lru.
func (c *Cache) lru() *block {
	if c.root == nil {
		return nil
	}
	b := c.root
	for b.next != nil {
		b = b.next
	}
	return b
}

// unlink bridges b's neighbors, mirroring remove_block. It does not touch
// c.space - callers account for the freed space themselves, since the
// amount to credit back depends on why the unlink is happening.
func (c *Cache) unlink(b *block) {
	if b.prev != nil {
		b.prev.next = b.next
	} else {
		c.root = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	}
	b.prev, b.next = nil, nil
}

// insertHead head-inserts b, mirroring insert_block.
func (c *Cache) insertHead(b *block) {
	b.prev = nil
	b.next = c.root
	if c.root != nil {
		c.root.prev = b
	}
	c.root = b
}
