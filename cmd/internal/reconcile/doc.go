// Package reconcile serves the batched sync endpoint.
//
// A batch carries pending client actions and per-conversation read cursors. Every action is applied
// before any read is computed, so a client sees its own writes in the same round trip. Actions are
// isolated from each other: each one produces its own result keyed by client_action_id, and a failed
// action never rolls back a sibling. Reads run concurrently on a bounded worker group and a failing
// read is reported on its own conversation entry.
package reconcile
