//go:build linux

package monitor

import (
	"bytes"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// ResidentMemory returns the resident set size of the current process in
// bytes, read from /proc/self/statm.
func ResidentMemory() uint64 {
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return runtimeMemory()
	}
	fields := bytes.Fields(data)
	if len(fields) < 2 {
		return runtimeMemory()
	}
	pages, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return runtimeMemory()
	}
	return pages * uint64(unix.Getpagesize())
}
