// Package transfer uploads a source as adaptively sized units.
//
// A Session slices the source lazily: each unit takes whatever size the
// SizeController holds when the unit is sliced. A Coordinator runs units
// through a bounded worker pool; every successful attempt feeds its
// throughput back into the controller, failed attempts are retried with
// exponential backoff up to a fixed cap, and one unit's failure never
// cancels its siblings. Once every unit has reached a terminal state the
// session issues a single finalize request.
package transfer
