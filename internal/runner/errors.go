package runner

import "errors"

// ErrNoSuchKind is returned when a manifest references a data-supplier/kind
// pair that does not resolve to a registered Source.
var ErrNoSuchKind = errors.New("runner: no source registered for manifest kind")
