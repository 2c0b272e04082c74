// Package window accumulates transcribed recordings into fixed-interval,
// grid-aligned time windows and seals each window into an analysis batch when
// its interval elapses. Open windows live in memory only; after a restart the
// pipeline re-queues in-flight recordings and windows rebuild from scratch.
package window
