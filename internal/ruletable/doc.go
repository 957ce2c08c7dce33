// Package ruletable holds the authoritative in-memory rule set and publishes
// immutable snapshots for matching.
//
// Readers call Snapshot once per request and keep the returned value for the
// whole matching decision; it is never modified afterwards. Writers compile
// outside the table lock, then build the next snapshot beside the current one
// and swap a single pointer. Persistence calls are queued in publish order
// and executed by the goroutine running Table.Run, outside the lock.
package ruletable
