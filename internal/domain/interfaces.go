package domain

import "errors"

// Sentence is one complete, terminated sentence taken off the input stream.
type Sentence struct {
	// Index is the zero-based arrival position in the stream.
	Index int
	// Text is the sentence up to and including its terminating marker.
	Text string
	// Raw is the exact span consumed from the buffer, including any leading
	// whitespace and the separator that followed the marker.
	Raw string
}

// Segment is a finished run of consecutive sentences sharing one topic.
// Once emitted it is never mutated.
type Segment struct {
	ID        string
	Index     int
	Text      string
	Sentences int
	Headline  string
}

// Summarizer picks a short representative text for a segment.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}

var (
	// ErrIO marks a read failure on the input source. Fatal to a run.
	ErrIO = errors.New("input read failed")
	// ErrModel marks a feature provider failure for one sentence.
	ErrModel = errors.New("feature model failed")
	// ErrEmptySentence is returned by providers for blank input.
	ErrEmptySentence = errors.New("empty sentence")
	// ErrDimensionMismatch marks a vector whose length differs from earlier ones in the run.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrInvalidConfig marks a configuration that failed validation.
	ErrInvalidConfig = errors.New("invalid config")
)
