// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the task pipeline, so the enhancement lifecycle and the credit ledger
// can be exercised against fakes as well as PostgreSQL.
package store
