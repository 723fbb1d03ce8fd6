// Package storage defines the key-value adapter the session store persists
// through, and ships three implementations: an in-memory map, a Redis-backed
// adapter and a JSON file.
//
// # Architecture boundaries
//
// Adapters move opaque strings. They do NOT decode sessions, enforce expiry,
// or coordinate writers; serialization belongs to package session and write
// exclusion to package lock.
//
// # Server-side adapters
//
// An adapter that proxies a server-held store (cookies, a request-scoped
// cache) declares itself with [ServerSide]. [MarkServer] wraps any adapter
// with that flag.
package storage
