// Package mutate implements the Mutator (§4.5): applies a Differ-produced
// ChangeSet to a Source's current table and emits the partitioned delta
// files downstream consumers read. Every operation that writes current
// runs inside its own database transaction; HandleTabulaRasa only reads.
// The operations for one file are separate transactions, so a failure in a
// later one leaves the earlier ones committed.
package mutate
