// Package pipeline assembles the process-wide Pipeline context of §9: the
// database connection pool and the enrichment disk cache — the two
// resources the original system kept as hidden globals — plus every
// component built on top of them, created once at startup and threaded
// through the Job Runner instead of referenced through package-level
// state.
package pipeline
