package llm

import (
	"bufio"
	"bytes"
	"io"
)

// maxEventSize bounds a single SSE line.
const maxEventSize = 1 << 20

// sseScanner reads the data lines of a Server-Sent Events stream.
type sseScanner struct {
	scanner *bufio.Scanner
	data    []byte
	err     error
}

func newSSEScanner(r io.Reader) *sseScanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &sseScanner{scanner: scanner}
}

// Scan advances to the next data line, skipping comments, event names and
// blank separators.
func (s *sseScanner) Scan() bool {
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if data, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			s.data = bytes.TrimSpace(data)
			return true
		}
	}
	s.err = s.scanner.Err()
	return false
}

// Data returns the payload of the current data line.
func (s *sseScanner) Data() []byte {
	return s.data
}

// Done reports whether the current line is the OpenAI end marker.
func (s *sseScanner) Done() bool {
	return string(s.data) == "[DONE]"
}

// Err returns the read error that ended the scan, if any.
func (s *sseScanner) Err() error {
	return s.err
}
