package mutate

import "errors"

// ErrIncrementalSource is returned by HandleDeletes when called against an
// incremental Source: §4.4/§4.5 reserve implicit deletes for
// non-incremental sources only.
var ErrIncrementalSource = errors.New("mutate: implicit deletes not valid for an incremental source")

// ErrMissingLogicalID names the record-level error (§7(d)) of a document
// with no value at the Source's idField. No Mutator operation returns it or
// records it in Result.Skipped.
var ErrMissingLogicalID = errors.New("mutate: record has no logical id")
