// Package audio plays raw 16-bit PCM produced by synthesis backends using
// oto/v3. Builds with the nocgo tag get a stub player that always fails, so
// only the command-line backends are usable there.
package audio
