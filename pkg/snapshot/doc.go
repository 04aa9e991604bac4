// Package snapshot reconciles coordinator events into a consistent local
// view of places, resources and reservations.
//
// # States
//
//	EMPTY ──BeginSync──► SYNCING ──SyncComplete──► LIVE
//	                        ▲                        │
//	                        └──BeginSync── STALE ◄───┘ MarkStale
//
// Reset returns any state to EMPTY.
//
// While syncing, events are buffered. The matching SyncComplete rebuilds
// the snapshot from the buffer and publishes the difference to the
// previous snapshot as a single notification.
//
// # Attachment
//
// A resource is attached to at most one place: the first place, by name,
// with a match rule selecting it. Attachment is recomputed from the
// current places and resources on every apply, so the final state does
// not depend on event order.
//
// # Revisions
//
// Every apply that changes something increments the revision and
// publishes one Notification. Applies that change nothing are silent.
package snapshot
