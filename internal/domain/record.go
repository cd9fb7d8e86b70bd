package domain

import "time"

// Record is one row of an import or current table: an opaque JSON document
// plus the bookkeeping columns the Store Adapter maintains around it.
type Record struct {
	ID         int64     `db:"id"`
	JSON       []byte    `db:"rec"`
	Hash       string    `db:"hash"`
	InsertedAt time.Time `db:"inserted_at"`
}

// LogicalID extracts the value at the Source's idField from a JSON document.
// Returns ok=false when the field is absent or not a string/number.
func LogicalID(doc []byte, idField string) (string, bool) {
	return jsonStringField(doc, idField)
}

// ScientificNameGroup extracts acceptedName.scientificNameGroup from a
// taxonomic Record, the join key the Enrichment Engine fans taxon changes
// out through (§4.6).
func ScientificNameGroup(doc []byte) (string, bool) {
	return jsonStringField(doc, "acceptedName.scientificNameGroup")
}
