// Package localstore provides the key/value backends the report store persists
// its collection and confirmation ledger into: sqlite for a durable on-device
// file, redis for a shared cache, and memory for tests and ephemeral runs.
// Every backend reports a missing key as ok=false rather than as an error.
package localstore
