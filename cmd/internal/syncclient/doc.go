// Package syncclient is the polling side of duo.
//
// A Session owns one ActivityTracker, one SyncScheduler, one ActionQueue and a Timeline per opened
// conversation. Every tick it sends one batch: queued actions plus reads for active conversations that are
// due, then folds the response into the timelines. Merges key on message id, so a late or repeated response
// is harmless.
package syncclient
