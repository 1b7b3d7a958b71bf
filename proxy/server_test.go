// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/punnawachara/segheap/procache"
)

// fakeUpstream serves one fixed HTTP/1.0 response body to every connection
// it accepts and counts how many connections it actually served, so a test
// can assert a cache hit never touched the network.
func fakeUpstream(t *testing.T, body string) (addr string, hits *int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var n int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			atomic.AddInt32(&n, 1)
			go func() {
				defer conn.Close()
				br := bufio.NewReader(conn)
				for {
					line, err := br.ReadString('\n')
					if err != nil || strings.TrimSpace(line) == "" {
						break
					}
				}
				fmt.Fprintf(conn, "HTTP/1.0 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
			}()
		}
	}()
	t.Cleanup(func() { ln.Close() })

	return ln.Addr().String(), &n
}

func startProxy(t *testing.T, cache *procache.Cache) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(Options{Cache: cache})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		_ = srv.Serve(ctx, ln)
	}()

	return ln.Addr().String()
}

func doProxyGET(t *testing.T, proxyAddr, host, port, uri string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", proxyAddr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprintf(conn, "GET http://%s:%s%s HTTP/1.1\r\nHost: %s\r\n\r\n", host, port, uri, host)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(out)
}

func TestProxyCachesUpstreamResponse(t *testing.T) {
	upAddr, hits := fakeUpstream(t, "cached body")
	upHost, upPort, err := net.SplitHostPort(upAddr)
	require.NoError(t, err)

	cache := procache.New(procache.Options{MaxCacheSize: 4096, MaxObjectSize: 4096})
	proxyAddr := startProxy(t, cache)

	first := doProxyGET(t, proxyAddr, upHost, upPort, "/page")
	require.Contains(t, first, "cached body")
	require.EqualValues(t, 1, atomic.LoadInt32(hits))

	second := doProxyGET(t, proxyAddr, upHost, upPort, "/page")
	require.Contains(t, second, "cached body")
	require.EqualValues(t, 1, atomic.LoadInt32(hits), "second request should have been served from cache")
}

func TestProxyWithoutCacheAlwaysHitsUpstream(t *testing.T) {
	upAddr, hits := fakeUpstream(t, "uncached body")
	upHost, upPort, err := net.SplitHostPort(upAddr)
	require.NoError(t, err)

	proxyAddr := startProxy(t, nil)

	doProxyGET(t, proxyAddr, upHost, upPort, "/page")
	doProxyGET(t, proxyAddr, upHost, upPort, "/page")

	require.EqualValues(t, 2, atomic.LoadInt32(hits))
}
