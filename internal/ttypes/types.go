// Package ttypes contains shared types and interfaces for the speech pipeline.
// This package is used to break import cycles between speech, engines, audio, and queue packages.
package ttypes

import (
	"time"
)

// EngineType represents the synthesis backend selection
type EngineType string

const (
	// EngineSay drives the macOS say command
	EngineSay EngineType = "say"

	// EngineEspeak drives espeak-ng (or espeak) on Linux and BSD
	EngineEspeak EngineType = "espeak"

	// EnginePiper represents the Piper offline engine with in-process playback
	EnginePiper EngineType = "piper"

	// EngineGoogle represents Google Translate TTS through gtts-cli
	EngineGoogle EngineType = "gtts"

	// EngineMock represents the silent test backend
	EngineMock EngineType = "mock"

	// EngineNone represents no engine selected
	EngineNone EngineType = ""
)

// WorkerState is the lifecycle state of the speech worker.
type WorkerState int32

const (
	// WorkerIdle indicates the worker has not been started
	WorkerIdle WorkerState = iota

	// WorkerRunning indicates the worker is consuming the queue
	WorkerRunning

	// WorkerDraining indicates stop was requested and the worker is finishing
	WorkerDraining

	// WorkerStopped indicates the worker exited and the engine is released
	WorkerStopped
)

// String returns the string representation of the state
func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerRunning:
		return "running"
	case WorkerDraining:
		return "draining"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// EngineState is the state of the synthesis engine session.
type EngineState int32

const (
	// EngineUninitialized indicates the backend has not been opened
	EngineUninitialized EngineState = iota

	// EngineReady indicates the backend is open and idle
	EngineReady

	// EngineSpeaking indicates an utterance has been submitted
	EngineSpeaking

	// EngineStopped indicates the backend was closed
	EngineStopped
)

// String returns the string representation of the state
func (s EngineState) String() string {
	switch s {
	case EngineUninitialized:
		return "uninitialized"
	case EngineReady:
		return "ready"
	case EngineSpeaking:
		return "speaking"
	case EngineStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Utterance is one speakable unit of text. It is immutable once enqueued.
type Utterance struct {
	// Seq is assigned at enqueue time and matches speaking order
	Seq uint64

	// Text is the trimmed, non-empty content to speak
	Text string

	// Session identifies the producer session that created the utterance
	Session string

	// Enqueued is when the utterance entered the queue
	Enqueued time.Time
}

// Backend is a synthesis engine. Implementations are not required to be
// safe for concurrent use; the speech package serializes every call except
// Kill behind a single lock.
type Backend interface {
	// Name returns the backend name for logging
	Name() string

	// Open acquires the underlying engine
	Open() error

	// Say submits text without blocking. finished is called exactly once
	// when the utterance completes, fails, or is interrupted.
	Say(text string, finished func(error)) error

	// Iterate advances internal processing by one step
	Iterate() error

	// Busy reports whether an utterance is still being spoken
	Busy() bool

	// Interrupt abandons the current utterance
	Interrupt() error

	// SetRate sets the speaking rate in words per minute
	SetRate(wpm int) error

	// Close releases the underlying engine
	Close() error
}

// Killer is implemented by backends that speak through an external process.
// Kill must be safe to call from any goroutine without holding the engine
// lock and must return promptly.
type Killer interface {
	Kill() error
}

// PCMPlayer plays raw 16-bit little-endian PCM audio.
type PCMPlayer interface {
	// Play starts playback and returns immediately
	Play(audio []byte) error

	// Stop halts the current playback
	Stop() error

	// IsPlaying reports whether audio is still playing
	IsPlaying() bool

	// Close releases the audio device
	Close() error
}
