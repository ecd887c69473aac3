// Package extractor turns a growing text buffer into complete sentences.
//
// A sentence ends at '.', '?' or '!' immediately followed by one whitespace
// character. The marker is part of the sentence; the whitespace is consumed
// and dropped. A marker at the very end of the buffer is not a boundary yet,
// since the next write may continue the sentence.
package extractor

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"topicseg/internal/domain"
)

// Extractor is an incremental sentence parser. It is not safe for concurrent
// use; the stream driver owns it.
type Extractor struct {
	buf []byte
	// start is the offset of the first unconsumed byte.
	start int
	// scanned is the offset below which buf holds no boundary.
	scanned int
	next    int
}

// New creates an empty extractor.
func New() *Extractor { return &Extractor{} }

// Write appends decoded text to the buffer. Consumed bytes are reclaimed
// once they make up at least half of it, so appends stay amortized O(1).
func (x *Extractor) Write(text string) {
	if x.start > 0 && x.start >= len(x.buf)-x.start {
		n := copy(x.buf, x.buf[x.start:])
		x.buf = x.buf[:n]
		x.scanned -= x.start
		x.start = 0
	}
	x.buf = append(x.buf, text...)
}

// Next returns the first complete sentence in the buffer and removes it
// along with its trailing separator. It reports false when no complete
// sentence is available, leaving the buffer untouched.
func (x *Extractor) Next() (domain.Sentence, bool) {
	for i := max(x.scanned, x.start); i < len(x.buf); i++ {
		if !isMarker(x.buf[i]) || i+1 >= len(x.buf) {
			continue
		}
		r, size := utf8.DecodeRune(x.buf[i+1:])
		if !unicode.IsSpace(r) {
			continue
		}
		consumed := i + 1 + size
		raw := string(x.buf[x.start:consumed])
		s := domain.Sentence{
			Index: x.next,
			Text:  strings.TrimLeftFunc(raw[:i+1-x.start], unicode.IsSpace),
			Raw:   raw,
		}
		x.start = consumed
		x.scanned = consumed
		x.next++
		return s, true
	}
	// The last byte may be a marker still waiting for its separator.
	if len(x.buf) > x.start {
		x.scanned = len(x.buf) - 1
	}
	return domain.Sentence{}, false
}

// Drain returns every complete sentence currently in the buffer, in order.
func (x *Extractor) Drain() []domain.Sentence {
	var out []domain.Sentence
	for {
		s, ok := x.Next()
		if !ok {
			return out
		}
		out = append(out, s)
	}
}

// Remainder returns the unterminated text still held in the buffer.
func (x *Extractor) Remainder() string { return string(x.buf[x.start:]) }

// Len returns the number of buffered bytes.
func (x *Extractor) Len() int { return len(x.buf) - x.start }

func isMarker(b byte) bool {
	return b == '.' || b == '?' || b == '!'
}
