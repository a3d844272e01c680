// Package cache stores synthesized PCM so repeated sentences skip synthesis.
// It has an in-memory LRU tier and an optional zstd-compressed disk tier
// that survives restarts.
package cache
