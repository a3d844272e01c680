// Package chunker segments incrementally arriving text into speakable units.
package chunker

import (
	"strings"
	"unicode"
)

// DefaultLimit is the maximum unit length in runes.
const DefaultLimit = 250

// Chunker accumulates text fragments and emits units at sentence boundaries,
// or at the length limit when no boundary arrives in time.
//
// A Chunker belongs to a single producer session and is not safe for
// concurrent use.
type Chunker struct {
	limit int
	buf   []rune
}

// New creates a chunker with the given limit. A non-positive limit selects
// DefaultLimit.
func New(limit int) *Chunker {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Chunker{limit: limit}
}

// Limit returns the maximum unit length in runes.
func (c *Chunker) Limit() int {
	return c.limit
}

// Feed appends a fragment and returns every unit that is now complete.
func (c *Chunker) Feed(fragment string) []string {
	if fragment == "" {
		return nil
	}
	c.buf = append(c.buf, []rune(fragment)...)
	return c.drain(false)
}

// Flush ends the stream and returns the remaining units, including the
// trailing partial one. The chunker can be reused afterwards.
func (c *Chunker) Flush() []string {
	units := c.drain(true)
	c.buf = c.buf[:0]
	return units
}

// Pending returns the number of buffered runes not yet emitted.
func (c *Chunker) Pending() int {
	return len(c.buf)
}

// Split chunks a complete text in one call.
func Split(text string, limit int) []string {
	c := New(limit)
	units := c.Feed(text)
	return append(units, c.Flush()...)
}

func (c *Chunker) drain(final bool) []string {
	var units []string
	for {
		c.buf = trimLeft(c.buf)
		if len(c.buf) == 0 {
			return units
		}

		end := boundary(c.buf, c.limit, final)
		switch {
		case end > 0:
			units = appendUnit(units, c.buf[:end])
			c.buf = c.buf[end:]
		case len(c.buf) > c.limit:
			units = appendUnit(units, c.buf[:c.limit])
			c.buf = c.buf[c.limit:]
		case final:
			units = appendUnit(units, c.buf)
			c.buf = c.buf[:0]
		default:
			return units
		}
	}
}

// boundary returns the end of the first confirmed unit within the limit, or
// zero. A terminator run only counts once the next rune is known to be
// whitespace, so "3.14" and a split "..." are not broken apart mid-stream.
func boundary(buf []rune, limit int, final bool) int {
	for i := 0; i < len(buf) && i < limit; i++ {
		r := buf[i]
		switch {
		case isTerminal(r):
			j := i + 1
			for j < len(buf) && isTerminal(buf[j]) {
				j++
			}
			for j < len(buf) && isCloser(buf[j]) {
				j++
			}
			if j == len(buf) {
				if final && j <= limit {
					return j
				}
				return 0
			}
			if unicode.IsSpace(buf[j]) {
				if j <= limit {
					return j
				}
				return 0
			}
			i = j - 1

		case r == '\n' && i > 0:
			k := i + 1
			for k < len(buf) && (buf[k] == ' ' || buf[k] == '\t' || buf[k] == '\r') {
				k++
			}
			if k < len(buf) && buf[k] == '\n' {
				return i
			}
		}
	}
	return 0
}

func appendUnit(units []string, r []rune) []string {
	s := strings.TrimSpace(string(r))
	if !speakable(s) {
		return units
	}
	return append(units, s)
}

// speakable reports whether s has anything besides punctuation and
// spacing. Symbols such as emoji count; an ellipsis alone does not.
func speakable(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSymbol(r)
	}) >= 0
}

func trimLeft(r []rune) []rune {
	i := 0
	for i < len(r) && unicode.IsSpace(r[i]) {
		i++
	}
	return r[i:]
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '}', '”', '’', '»':
		return true
	}
	return false
}
