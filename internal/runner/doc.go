// Package runner implements the Job Runner of §4.1: manifest parsing,
// single-writer lock acquisition with crash recovery, per-file dispatch
// across the normal and tabula-rasa import paths plus explicit deletes,
// job finalization, and a watch-mode dispatch loop around the same
// per-manifest entry point.
package runner
