// Package registry persists scheduled jobs in a core.KV store and allocates
// their ids.
//
// Layout:
//
//	("jobs", queue, id)       job record, JSON, TTL = delay + record grace
//	("counters", "job_id")    last allocated id, 8-byte big-endian
//
// Listing one queue is a prefix scan. Removing by bare id scans the whole
// ("jobs") namespace, since the queue is not part of the caller's handle.
//
// Allocation, record write, trigger enqueue and counter increment commit in
// one atomic operation guarded by the counter's versionstamp, so a
// successful Create yields an id that is exactly one more than the previous
// success and no two Creates can observe the same id.
package registry
