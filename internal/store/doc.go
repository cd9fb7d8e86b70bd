// Package store is the Store Adapter (§4.10): every primitive database
// operation the rest of the pipeline needs — TRUNCATE, index lifecycle,
// COPY-in bulk load, MD5 hashing, expression-indexed logical-id lookup,
// the two hash anti-joins that back the Differ, the JSON containment query
// that backs the Enrichment Engine's fan-out, and row-level fetch/delete —
// lives here behind a small, repository-shaped API. Callers never write
// raw SQL themselves.
package store
