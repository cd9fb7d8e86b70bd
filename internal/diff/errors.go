package diff

import "errors"

// ErrNullHash names the condition of a candidate row carrying no hash. Diff
// does not return it: such rows are left out of the ChangeSet and counted
// in Result.NullHashCount.
var ErrNullHash = errors.New("diff: row has no hash")
