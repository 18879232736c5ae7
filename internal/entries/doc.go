// Package entries stores JSON values under string keys.
//
// Entries live in a single table created by EnsureSchema using the active
// backend's Dialect, so the same Store works on the file and the network
// backend. Values are validated and stored as compact JSON text; a value
// written as 100 reads back as 100.
//
// Keys are non-empty and at most MaxKeyLength bytes. PutMany writes all of
// its entries in one transaction.
package entries
