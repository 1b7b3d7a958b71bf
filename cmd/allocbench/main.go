// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command allocbench drives heapalloc.Allocator through a random mix of
// allocations and frees and reports throughput plus a final heap-checker
// pass. There is no equivalent in the source allocator, which was only
// ever exercised through the mm.c malloc-lab test driver; this is the
// supplement a complete implementation of the Allocator module gets
// instead.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/punnawachara/segheap/heapalloc"
	"github.com/punnawachara/segheap/heapalloc/arena"
)

var cli struct {
	Ops     int   `default:"100000" help:"Number of alloc/free operations to perform."`
	MaxSize int64 `default:"4096" help:"Maximum single allocation size in bytes."`
	Seed    int64 `default:"1" help:"Random seed."`
}

func main() {
	kctx := kong.Parse(&cli, kong.Description(
		"Micro-benchmark and invariant check for the segregated free-list allocator."))

	mem := arena.NewMem()
	a := arena.New(mem, 0)

	al, err := heapalloc.NewAllocator(a, heapalloc.Options{})
	kctx.FatalIfErrorf(err)

	rng := rand.New(rand.NewSource(cli.Seed))
	live := make([]int64, 0, 1024)

	start := time.Now()
	for i := 0; i < cli.Ops; i++ {
		if len(live) > 0 && rng.Intn(2) == 0 {
			idx := rng.Intn(len(live))
			if err := al.Free(live[idx]); err != nil {
				fmt.Fprintln(os.Stderr, "free:", err)
				os.Exit(1)
			}
			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]
			continue
		}

		size := int64(rng.Intn(int(cli.MaxSize))) + 1
		ptr, err := al.Alloc(size)
		if err != nil {
			fmt.Fprintln(os.Stderr, "alloc:", err)
			os.Exit(1)
		}
		if ptr != 0 {
			live = append(live, ptr)
		}
	}
	elapsed := time.Since(start)

	if err := al.Verify(); err != nil {
		fmt.Fprintln(os.Stderr, "heap verification failed:", err)
		os.Exit(1)
	}

	fmt.Printf("%d ops in %s (%.0f ops/sec), %d live allocations, heap ok\n",
		cli.Ops, elapsed, float64(cli.Ops)/elapsed.Seconds(), len(live))
}
