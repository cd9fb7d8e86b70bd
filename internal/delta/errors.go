package delta

import "errors"

// ErrClosed is returned by Append (and so by AppendValue) once the Writer
// has been closed.
var ErrClosed = errors.New("delta: writer already closed")
