// Package stage implements the Stager (§4.2): truncating a Source's
// staging table, bulk-loading one newline-delimited JSON file into it via
// the Store Adapter's COPY path, computing content hashes, and rebuilding
// indices.
package stage
