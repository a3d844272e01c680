package speech

import (
	"errors"
	"sync"
	"unicode/utf8"

	"github.com/readaloud/readaloud/internal/chunker"
)

// ErrStreamClosed is returned when writing to a closed stream
var ErrStreamClosed = errors.New("stream is closed")

// Stream is a producer session. Each Write feeds the session's chunker and
// enqueues completed sentences; Close flushes the trailing text.
type Stream struct {
	p       *Pipeline
	session string
	chunker *chunker.Chunker

	mu      sync.Mutex
	partial []byte // incomplete UTF-8 sequence carried between writes
	count   int
	closed  bool
}

// Session returns the stream's session id.
func (s *Stream) Session() string {
	return s.session
}

// Write implements io.Writer.
func (s *Stream) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStreamClosed
	}

	data := make([]byte, 0, len(s.partial)+len(b))
	data = append(data, s.partial...)
	data = append(data, b...)

	cut := completeRunes(data)
	s.partial = append(s.partial[:0], data[cut:]...)

	s.count += s.p.enqueue(s.session, s.chunker.Feed(string(data[:cut])))
	return len(b), nil
}

// WriteString implements io.StringWriter.
func (s *Stream) WriteString(text string) (int, error) {
	return s.Write([]byte(text))
}

// Close flushes the remaining text. Closing twice is a no-op.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	units := s.chunker.Feed(string(s.partial))
	s.partial = nil
	units = append(units, s.chunker.Flush()...)
	s.count += s.p.enqueue(s.session, units)
	return nil
}

// Count returns the number of utterances enqueued by this stream so far.
func (s *Stream) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// completeRunes returns the length of the longest prefix of b that does not
// end inside a multi-byte sequence.
func completeRunes(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}
