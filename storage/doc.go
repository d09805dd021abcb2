// Package storage defines the persistence contracts for registered OAuth
// clients and authorization codes.
//
// The authorization server owns all client and code state through these
// interfaces:
//   - ClientStore: the registry of dynamically registered clients
//   - FlowStore: issued authorization codes and their single-use consumption
//
// Implementations are provided in subpackages:
//   - storage/file: JSON document on local disk, the default backend
//   - storage/sqlite: SQLite database via modernc.org/sqlite
//   - storage/mock: function-field mock for unit tests
//
// Every implementation must serialize mutations, never expose a partially
// written record to readers, and make AtomicCheckAndMarkAuthCodeUsed a single
// atomic step so that concurrent redemptions of one code have exactly one
// winner.
package storage
