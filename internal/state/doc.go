// Package state implements the derived-state store: a versioned,
// per-document map of the last known good annotation payload, with a
// validator guarding every commit, a disposable TTL+LRU read cache, and a
// notifier that fans state changes out to listeners.
//
// # Ownership
//
// The Store exclusively owns every DerivedState. Callers only ever receive
// copies; the payload slice handed to Commit is cloned before it is stored.
//
// # Serialization
//
// Commits to the same key are linearized by a per-key lock held across
// validation, comparison, write and notification enqueue. Commits to
// different keys proceed in parallel. Because notifications are enqueued
// under the key lock and the notifier drains its queue sequentially,
// listeners observe the commits of one key in increasing version order.
//
// # Versions
//
// Versions come from one logical clock per store, so they are unique across
// keys and strictly increasing within a key. A version is consumed whenever
// the payload or the error of a state changes. Toggling the loading flag
// alone never consumes a version.
package state
