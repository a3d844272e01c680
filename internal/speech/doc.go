// Package speech drives a non-reentrant synthesis backend from many
// concurrent producers.
//
// Producers submit text through a Pipeline. Text is chunked into utterances,
// queued in arrival order and spoken one at a time by a single worker
// goroutine. The worker holds the engine lock only for individual backend
// calls, waiting on each utterance in short poll ticks, so Cancel and
// SetRate from other goroutines take effect between ticks.
//
// Lifecycle:
//
//	worker: idle -> running -> draining -> stopped
//	engine: uninitialized -> ready <-> speaking -> stopped
package speech
