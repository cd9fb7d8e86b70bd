package enrich

import "errors"

// ErrCacheClosed names the condition of using a Cache after Close has run.
// The Cache methods do not return it; after Close they fail with the
// database/sql error of the closed handle.
var ErrCacheClosed = errors.New("enrich: cache already closed")
