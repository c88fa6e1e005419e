//go:build !windows

package dap

import "syscall"

// stopSignal is sent to adapter subprocesses before escalating to kill.
var stopSignal = syscall.SIGTERM
