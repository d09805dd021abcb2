// Package file provides the default durable storage backend: registered
// clients and authorization codes are held in memory and mirrored to a single
// JSON document on local disk.
//
// Every mutation is applied under one write lock and flushed (temporary file,
// fsync, rename) before the call returns. When a flush fails the in-memory
// change is undone, so a failed write is as if it never happened. On startup
// the document is loaded back into memory.
//
// The store is intended for a single authoritative process. Two processes
// pointed at the same file will overwrite each other.
package file
