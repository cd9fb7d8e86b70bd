// Package deleteregistry implements the Delete Registry (§4.7): a
// persistent, per-recid counter of soft (REJECTED) and hard (REMOVED)
// deletions. It is advisory — it never affects the Differ's ChangeSet —
// and is never auto-expired.
package deleteregistry
