// Package segmenter implements the online, single-pass topic segmentation
// engine. Sentences must be fed in arrival order from a single goroutine.
package segmenter

import (
	"strings"
	"unicode/utf8"

	"topicseg/internal/domain"
)

// Kind is the outcome of one Decide call.
type Kind int

const (
	// Extend means the sentence joined the open segment.
	Extend Kind = iota
	// Boundary means the open segment closed and the sentence opened a new one.
	Boundary
)

func (k Kind) String() string {
	if k == Boundary {
		return "boundary"
	}
	return "extend"
}

// Decision carries the finished segment when Kind is Boundary.
type Decision struct {
	Kind     Kind
	Previous domain.Segment
}

// State is the running aggregate of the open segment.
type State struct {
	text strings.Builder
	// Centroid is the sum (not the mean) of member vectors.
	Centroid []float64
	// Count is the number of member sentences that took part in scoring.
	Count int
	// TotalLen is the summed rune length of member sentences.
	TotalLen int
	absorbed int
}

// AvgLen returns the mean rune length of member sentences.
func (s *State) AvgLen() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.TotalLen) / float64(s.Count)
}

// Text returns the accumulated segment text.
func (s *State) Text() string { return s.text.String() }

func (s *State) appendText(t string) {
	if s.text.Len() > 0 {
		s.text.WriteByte(' ')
	}
	s.text.WriteString(t)
}

func (s *State) add(sentence domain.Sentence, v []float64) {
	s.appendText(sentence.Text)
	s.Count++
	s.TotalLen += utf8.RuneCountInString(sentence.Text)
	if v == nil {
		return
	}
	if s.Centroid == nil {
		s.Centroid = make([]float64, len(v))
	}
	if len(v) != len(s.Centroid) {
		return
	}
	for i := range s.Centroid {
		s.Centroid[i] += v[i]
	}
}

// Policy decides whether a sentence continues the open segment.
type Policy interface {
	Name() string
	// UsesVectors reports whether the policy needs a feature vector per sentence.
	UsesVectors() bool
	Continues(st *State, s domain.Sentence, v []float64) bool
}

// Engine holds the open segment and applies a Policy to each sentence.
type Engine struct {
	policy  Policy
	current *State
	pending []string
	index   int
}

// NewEngine creates an engine with no open segment.
func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// Policy returns the configured policy.
func (e *Engine) Policy() Policy { return e.policy }

// Decide assigns the sentence to the open segment or closes that segment and
// opens a new one starting with this sentence.
func (e *Engine) Decide(s domain.Sentence, v []float64) Decision {
	if e.current == nil {
		e.current = e.open(s, v)
		return Decision{Kind: Extend}
	}
	if e.policy.Continues(e.current, s, v) {
		e.current.add(s, v)
		return Decision{Kind: Extend}
	}
	prev := e.take()
	e.current = e.open(s, v)
	return Decision{Kind: Boundary, Previous: prev}
}

// Absorb keeps a sentence's text without letting it influence scoring. Used
// when the feature provider failed for that sentence.
func (e *Engine) Absorb(s domain.Sentence) {
	if e.current == nil {
		e.pending = append(e.pending, s.Text)
		return
	}
	e.current.appendText(s.Text)
	e.current.absorbed++
}

// Flush closes the open segment, if any, at end of stream.
func (e *Engine) Flush() (domain.Segment, bool) {
	if e.current == nil {
		if len(e.pending) == 0 {
			return domain.Segment{}, false
		}
		st := &State{absorbed: len(e.pending)}
		st.appendText(strings.Join(e.pending, " "))
		e.pending = nil
		e.current = st
	}
	return e.take(), true
}

// Open reports whether a segment is currently accumulating.
func (e *Engine) Open() bool { return e.current != nil }

func (e *Engine) open(s domain.Sentence, v []float64) *State {
	st := &State{}
	if len(e.pending) > 0 {
		st.appendText(strings.Join(e.pending, " "))
		st.absorbed = len(e.pending)
		e.pending = nil
	}
	st.add(s, v)
	return st
}

// take finalizes the open segment and clears it.
func (e *Engine) take() domain.Segment {
	st := e.current
	e.current = nil
	seg := domain.Segment{
		Index:     e.index,
		Text:      st.Text(),
		Sentences: st.Count + st.absorbed,
	}
	e.index++
	return seg
}
