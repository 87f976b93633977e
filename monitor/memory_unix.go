//go:build unix && !linux

package monitor

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// ResidentMemory returns the peak resident set size reported by getrusage.
func ResidentMemory() uint64 {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil || ru.Maxrss <= 0 {
		return runtimeMemory()
	}
	if runtime.GOOS == "darwin" || runtime.GOOS == "ios" {
		return uint64(ru.Maxrss)
	}
	return uint64(ru.Maxrss) * 1024
}
