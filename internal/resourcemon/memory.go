// Package resourcemon estimates available system memory so the Upload
// Scheduler can fold a memory ceiling into its backpressure decision
// (§4.D: "bufferedBytes exceeds an implementation-chosen memory
// ceiling"), alongside the fixed in-flight-count water marks.
package resourcemon

import "github.com/rescale-labs/streamrelay/internal/constants"

const minAvailableFallback = 2 * 1024 * 1024 * 1024 // 2GB

// Ceiling returns the memory budget, in bytes, the Scheduler should treat
// as its backpressure ceiling for bufferedBytes: the smaller of a fixed
// default and the host's estimated available memory, so a constrained
// container never gets sized past what it actually has.
func Ceiling() int64 {
	avail := availableMemory()
	if avail == 0 || avail > constants.DefaultMemoryCeilingBytes {
		return constants.DefaultMemoryCeilingBytes
	}
	return int64(avail)
}
