package segmenter

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"topicseg/internal/domain"
)

// Similarity returns the cosine similarity of a and b. Zero-norm or
// mismatched vectors score 0.
func Similarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Cosine continues a segment while the sentence vector is at least Threshold
// similar to the running centroid.
type Cosine struct {
	Threshold float64
}

// Name returns the policy identifier.
func (c Cosine) Name() string { return "embedding" }

// UsesVectors is always true for Cosine.
func (c Cosine) UsesVectors() bool { return true }

// Continues compares inclusively: a score equal to the threshold extends.
func (c Cosine) Continues(st *State, _ domain.Sentence, v []float64) bool {
	return Similarity(st.Centroid, v) >= c.Threshold
}

// HeuristicConfig configures the model-free policy.
type HeuristicConfig struct {
	MaxSentences   int
	Markers        []string
	MinMembers     int
	LengthRatio    float64
	SectionPattern string
}

// DefaultMarkers are discourse phrases that usually open a new topic.
var DefaultMarkers = []string{
	"however",
	"on the other hand",
	"in contrast",
	"meanwhile",
	"moving on",
	"turning to",
	"in conclusion",
}

// Heuristic closes a segment on any of: the sentence cap is reached, a
// discourse marker appears, the section pattern matches, or the sentence
// length is more than LengthRatio away from the running average once the
// segment has more than MinMembers sentences.
type Heuristic struct {
	maxSentences int
	markers      []string
	minMembers   int
	lengthRatio  float64
	section      *regexp.Regexp
}

// NewHeuristic builds a heuristic policy. Markers match case-insensitively.
func NewHeuristic(cfg HeuristicConfig) (*Heuristic, error) {
	if cfg.MaxSentences < 0 || cfg.MinMembers < 0 {
		return nil, fmt.Errorf("%w: negative heuristic limit", domain.ErrInvalidConfig)
	}
	if cfg.LengthRatio < 0 || (cfg.LengthRatio > 0 && cfg.LengthRatio <= 1) {
		return nil, fmt.Errorf("%w: length ratio %v must be 0 (off) or greater than 1", domain.ErrInvalidConfig, cfg.LengthRatio)
	}
	h := &Heuristic{
		maxSentences: cfg.MaxSentences,
		minMembers:   cfg.MinMembers,
		lengthRatio:  cfg.LengthRatio,
	}
	for _, m := range cfg.Markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			h.markers = append(h.markers, m)
		}
	}
	if cfg.SectionPattern != "" {
		re, err := regexp.Compile(cfg.SectionPattern)
		if err != nil {
			return nil, fmt.Errorf("%w: section pattern: %w", domain.ErrInvalidConfig, err)
		}
		h.section = re
	}
	return h, nil
}

// Name returns the policy identifier.
func (h *Heuristic) Name() string { return "heuristic" }

// UsesVectors is always false for Heuristic.
func (h *Heuristic) UsesVectors() bool { return false }

// Continues applies the independent boundary triggers.
func (h *Heuristic) Continues(st *State, s domain.Sentence, _ []float64) bool {
	if h.maxSentences > 0 && st.Count >= h.maxSentences {
		return false
	}
	lower := strings.ToLower(s.Text)
	for _, m := range h.markers {
		if strings.Contains(lower, m) {
			return false
		}
	}
	if h.section != nil && h.section.MatchString(s.Text) {
		return false
	}
	if h.lengthRatio > 0 && st.Count > h.minMembers {
		avg := st.AvgLen()
		l := float64(utf8.RuneCountInString(s.Text))
		if l > avg*h.lengthRatio || l*h.lengthRatio < avg {
			return false
		}
	}
	return true
}
