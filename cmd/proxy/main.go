// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command proxy runs a GET-only HTTP forward proxy with an optional
// bounded LRU cache - the Go counterpart of
// _examples/original_source/Proxy/proxy.c's main(), which took the same
// two arguments (a port, and an optional cache on/off flag).
package main

import (
	"context"
	"fmt"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/punnawachara/segheap/procache"
	"github.com/punnawachara/segheap/proxy"
)

// Defaults lifted straight from the source's MAX_CACHE_SIZE/MAX_OBJECT_SIZE
// constants.
const (
	defaultMaxCacheSize  = 1049000
	defaultMaxObjectSize = 102400
)

var cli struct {
	Port        int    `arg:"" help:"TCP port to listen on."`
	CacheStatus string `arg:"" optional:"" default:"enable" help:"Whether to cache responses."`
}

func main() {
	kctx := kong.Parse(&cli, kong.Description(
		"A GET-only HTTP forward proxy with an optional bounded LRU cache."))

	log, err := zap.NewProduction()
	kctx.FatalIfErrorf(err)
	defer log.Sync()

	var cache *procache.Cache
	if cli.CacheStatus != "disable" {
		metrics, err := procache.NewMetrics(prometheusDefaultRegisterer(), "segheap")
		kctx.FatalIfErrorf(err)

		cache = procache.New(procache.Options{
			MaxCacheSize:  defaultMaxCacheSize,
			MaxObjectSize: defaultMaxObjectSize,
			Logger:        log,
			Metrics:       metrics,
		})
	}

	srv := proxy.New(proxy.Options{
		Addr:   fmt.Sprintf(":%d", cli.Port),
		Cache:  cache,
		Logger: log,
	})

	if err := srv.ListenAndServe(context.Background()); err != nil {
		log.Fatal("proxy exited", zap.Error(err))
	}
}
