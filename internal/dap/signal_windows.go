//go:build windows

package dap

import "os"

// Windows has no SIGTERM; kill directly.
var stopSignal = os.Kill
