package lock

import "errors"

// ErrHeld is returned by Acquire when a live process already holds the
// lock; the caller must exit without side effects (§4.1 step 2).
var ErrHeld = errors.New("lock: already held by a live process")
