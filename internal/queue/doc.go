// Package queue holds the ordered backlog of utterances between producers
// and the speech worker. It is unbounded: producers never block, and the
// single consumer waits with a timeout so it can observe shutdown.
package queue
