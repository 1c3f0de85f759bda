// Package postgres provides the PostgreSQL implementations of the store
// interfaces, the embedded goose migrations that create their schema, and
// the mapping from driver errors to store errors.
//
// Status transitions on enhancement tasks and balance changes on credit
// accounts are single conditional statements. Nothing here reads a row,
// decides in Go, and writes it back.
package postgres
