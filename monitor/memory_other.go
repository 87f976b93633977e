//go:build !unix

package monitor

// ResidentMemory falls back to the memory obtained from the OS by the Go
// runtime.
func ResidentMemory() uint64 { return runtimeMemory() }
