// Package delta writes the append-only JSONL delta files of §6: one file
// per (job, source, action), named "{jobId}-{index}-{action}.json", living
// under the configured delta directory. The Mutator is the only component
// that appends records; the Job Runner creates and closes the Writer and
// reads the paths it returns.
package delta
