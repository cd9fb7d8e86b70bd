// Package diff implements the Differ (§4.4): classifying import rows
// against current rows by hash symmetric difference into new, update and
// delete candidates, keyed by logical id.
package diff
