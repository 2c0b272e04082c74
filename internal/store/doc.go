// Package store persists recording pipeline state in SQLite.
//
// The store is the only shared mutable structure in the pipeline: every
// worker coordinates through its atomic claim and complete operations.
// All stage transitions are compare-and-set on the expected current
// stage, so concurrent claims for the same recording resolve to exactly
// one winner and a lost claim surfaces as ErrInvalidTransition instead
// of silent double-processing.
package store
