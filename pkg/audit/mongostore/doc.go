// Package mongostore stores the audit trail in a MongoDB collection.
//
// Entries carry a unique, monotonically increasing sequence number; an
// insert that races another writer for the same number fails on the
// unique index and is retried against the new chain head.
package mongostore
