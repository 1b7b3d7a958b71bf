// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import "github.com/prometheus/client_golang/prometheus"

// prometheusDefaultRegisterer returns the registry the cache's metrics are
// registered on: prometheus.DefaultRegisterer. main() calls it instead of
// naming prometheus.DefaultRegisterer inline.
func prometheusDefaultRegisterer() prometheus.Registerer {
	return prometheus.DefaultRegisterer
}
