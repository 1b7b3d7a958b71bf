// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proxy

import (
	"fmt"
	"net/http"
	"strings"
)

// The fixed header set construct_request_header stamps onto every
// forwarded request, verbatim (the proxy always identifies itself this
// way and always forces the origin server to close the connection after
// one response, since this proxy never reuses an upstream connection).
const (
	headerUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:10.0.3) Gecko/20120305 Firefox/10.0.3"
	headerAccept    = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	headerAcceptEnc = "gzip, deflate"
	headerConnClose = "close"
)

// forcedHeaders names the headers construct_request_header always sets
// itself; any same-named header the client sent is dropped rather than
// forwarded, since forwarding both would be ambiguous to the origin.
var forcedHeaders = map[string]bool{
	"Host":             true,
	"User-Agent":       true,
	"Accept":           true,
	"Accept-Encoding":  true,
	"Connection":       true,
	"Proxy-Connection": true,
}

// buildRequestHeader renders the request line and header block this proxy
// sends upstream: GET on the target's URI, forced to HTTP/1.0 (the
// original always downgrades the outgoing request the same way,
// regardless of what the client sent), the fixed header set, and whatever
// other headers the client sent that aren't in forcedHeaders.
func buildRequestHeader(r *request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "GET %s HTTP/1.0\r\n", r.uri)
	fmt.Fprintf(&b, "Host: %s\r\n", r.host)
	fmt.Fprintf(&b, "User-Agent: %s\r\n", headerUserAgent)
	fmt.Fprintf(&b, "Accept: %s\r\n", headerAccept)
	fmt.Fprintf(&b, "Accept-Encoding: %s\r\n", headerAcceptEnc)
	fmt.Fprintf(&b, "Connection: %s\r\n", headerConnClose)
	fmt.Fprintf(&b, "Proxy-Connection: %s\r\n", headerConnClose)

	for name, values := range r.headers {
		if forcedHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			fmt.Fprintf(&b, "%s: %s\r\n", name, v)
		}
	}

	b.WriteString("\r\n")
	return b.String()
}
