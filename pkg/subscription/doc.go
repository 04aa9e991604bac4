// Package subscription fans snapshot notifications out to independent
// observers.
//
// Each Handle owns an ordered queue filled by Manager.Publish, which never
// blocks: a subscriber that falls more than MaxPending notifications
// behind has its queue replaced by a single Lagged marker and should
// re-read the snapshot.
//
// Registration and publishing share the snapshot store's lock when the
// manager is installed as the store's publisher, so a handle created
// inside Store.Observe receives exactly the notifications that follow
// the observed view.
package subscription
