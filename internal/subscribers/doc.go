// Package subscribers fans session events out to local callbacks and, over a
// broadcast channel, to other contexts sharing the storage key.
//
// Events received from the channel are replayed locally without being
// re-posted, so two contexts never echo an event back and forth.
package subscribers
