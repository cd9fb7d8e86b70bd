// Package dedupe implements the Deduplicator (§4.3): collapsing duplicate
// logical ids inside one table down to the last-inserted row, so the
// logical-id uniqueness invariant holds before the Differ runs.
package dedupe
