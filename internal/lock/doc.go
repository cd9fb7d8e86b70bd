// Package lock implements the single-writer job lock of the concurrency
// model: a file in the jobs directory named ".lock" containing JSON
// {job, pid}, serialising job runners without any advisory OS or database
// locking. Acquisition is a simple create-if-absent; on crash, the next
// runner performs liveness recovery against the recorded pid.
package lock
