//go:build !windows

package main

import (
	"os"
	"syscall"
)

// terminationSignals lists the signals that cancel a running summarize.
// SIGTERM is what most process managers send first.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
