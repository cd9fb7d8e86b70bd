package domain

import "time"

// DeleteStatus classifies a Delete Registry entry as a soft removal
// (REJECTED, produced by the Differ's implicit delete path) or a hard
// removal (REMOVED, produced by an explicit kill list).
type DeleteStatus string

const (
	StatusRejected DeleteStatus = "REJECTED"
	StatusRemoved  DeleteStatus = "REMOVED"
)

// DeleteRegistryEntry is one persistent, per-recid bookkeeping row. REMOVED
// supersedes REJECTED when both are observed for the same recid; Count
// increments on every observation regardless of status.
type DeleteRegistryEntry struct {
	RecID     string       `db:"recid"`
	Status    DeleteStatus `db:"status"`
	Count     int          `db:"count"`
	UpdatedAt time.Time    `db:"updated_at"`
}

// Supersedes reports whether status a takes precedence over status b when
// both have been observed for the same recid.
func (a DeleteStatus) Supersedes(b DeleteStatus) bool {
	return a == StatusRemoved && b == StatusRejected
}
