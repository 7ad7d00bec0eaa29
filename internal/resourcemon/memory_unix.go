//go:build darwin || linux

package resourcemon

import "runtime"

// availableMemory estimates bytes of system memory the worker can use
// for part-buffer backing without risking an OOM kill, adapted from the
// reference system's internal/resources/memory_unix.go heuristic:
// assume a conservative total system budget and subtract what the Go
// runtime already has allocated.
func availableMemory() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	const assumedTotalSystemMemory = 4 * 1024 * 1024 * 1024 // 4GB conservative default

	if assumedTotalSystemMemory <= m.Alloc {
		return minAvailableFallback
	}
	return uint64(float64(assumedTotalSystemMemory-m.Alloc) * 0.75)
}
