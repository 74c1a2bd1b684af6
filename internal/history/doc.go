// Package history provides the archive sinks that receive history entries
// evicted from the in-memory ledger: memory, JSONL file, MySQL, SQLite and
// Redis. Every sink can also list what it archived, newest first.
package history
