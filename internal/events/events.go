// Package events carries the Part Buffer's byte-progress notifications to
// the Progress Publisher as a channel of values, per the Design Notes'
// re-architecture guidance: the reference wires an onProgress callback
// into the streaming function; here the hot path only ever sends on a
// channel, decoupling it from whatever the consumer does with the event.
package events

// Progress is emitted once per chunk consumed off the wire. It carries
// the running total, not a delta, so a slow or dropped consumer never
// needs to reconstruct history.
type Progress struct {
	BytesTransferred int64
	TotalBytes       int64
}
