// Package slicecache serves the results of expensive producers from a KV
// store, split into bounded slices, and can keep hot entries warm by
// recomputing them shortly before they expire.
//
// Components:
//   - Provider: batched KV backend with TTLs (Redis, Ristretto, BigCache).
//   - pipeline.Store: one handle per (connection, db); all I/O of one
//     request pass is a single pipelined round trip.
//   - chunk.Slicer: splits an ordered result set into at most MaxSlices
//     chunks and reassembles them all-or-nothing.
//   - Registry: producers addressed by (target, method), typed via Func0..Func3.
//   - Dispatcher: delayed tasks that drive keep-warm refresh cycles.
//
// Keys:
//
//	<ns>:<module>:<suffix>:<i>     - chunk i of a slice set
//	<ns>:210:<signature>           - keep-warm counter
//	<ns>:9999:<group>              - key list for Clear
//
// Flow:
//
//	recs, err := cache.Request().
//	    CallStatic("stats", "daily").
//	    Args(projectID).
//	    Suffix("daily:" + strconv.Itoa(projectID)).
//	    Template(map[string]string{"user.id": "uid"}).
//	    Prepare().Output(ctx)
//
// A hit returns the stored slices without calling the producer. A miss calls
// the producer, projects each record through the template, stores the
// projected records and returns them. Store failures never fail a request
// whose producer succeeded.
package slicecache
