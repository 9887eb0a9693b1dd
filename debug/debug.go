// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package debug provides a process-wide gate for verbose protocol logging,
// matching the gopcua lineage's "set a bool, get Printf logging" pattern
// so call sites don't have to thread a logger through every function.
package debug

import "log"

// Enable turns on debug logging when true. Off by default.
var Enable bool

// Printf logs via the standard logger when Enable is true.
func Printf(format string, args ...interface{}) {
	if !Enable {
		return
	}
	log.Printf(format, args...)
}
