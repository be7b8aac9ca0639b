// Package resource tracks what each domain holds and reclaims it in bulk.
//
// Per domain the Tracker keeps the page ranges granted to it, ordered by
// start frame, and at most one private state value. Shared heap allocations
// are found through their owner tag, so the tracker does not record them.
//
// # Reclaim
//
// Reclaim runs in a fixed order:
//
//	1. shared allocations owned by the domain, except those the policy forwards
//	2. registered page ranges, returned to the page allocator
//	3. private state, dropped if it implements Dropper
//
// Reclaim is idempotent. A second reclaim of the same id, or a reclaim of an
// id that never registered anything, reports an empty Report and no error.
//
// # Forwarding
//
// A hot swap may hand live objects to the successor domain instead of
// destroying them:
//
//	tracker.Reclaim(old, resource.ForwardAll(next))
//	tracker.Reclaim(old, resource.ForwardTypes(next, cacheType))
//	tracker.Reclaim(old, resource.ForwardStored(next, store, "superblock"))
//
// Forwarded allocations are retagged to the successor together with the
// nested handles they own.
//
// # Observers
//
// Register observers to follow page grants and reclaims:
//
//	tracker.Subscribe(metrics.TrackerObserver{})
package resource
