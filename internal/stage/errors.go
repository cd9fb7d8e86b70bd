package stage

import "errors"

// ErrFileUnreadable is returned when the input file cannot be opened or
// read; a file-level failure per §7(c) that the Job Runner must not let
// abort the rest of the job.
var ErrFileUnreadable = errors.New("stage: input file unreadable")
