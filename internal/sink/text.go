package sink

import (
	"context"
	"io"
	"strings"

	"topicseg/internal/domain"
)

// Text writes segment text with a marker line between consecutive segments.
type Text struct {
	w       io.Writer
	between string
	written int
}

// NewText creates a plain-text sink. The marker is written on its own line
// between segments; surrounding whitespace in marker is ignored, and an
// empty marker leaves a single newline between segments.
func NewText(w io.Writer, marker string) *Text {
	between := "\n"
	if m := strings.TrimSpace(marker); m != "" {
		between = "\n" + m + "\n"
	}
	return &Text{w: w, between: between}
}

// Write prints seg, preceded by the separator line unless it is the first.
func (t *Text) Write(_ context.Context, seg domain.Segment) error {
	if t.written > 0 {
		if _, err := io.WriteString(t.w, t.between); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(t.w, seg.Text); err != nil {
		return err
	}
	t.written++
	return nil
}

// Close terminates the last segment with a newline.
func (t *Text) Close() error {
	if t.written == 0 {
		return nil
	}
	_, err := io.WriteString(t.w, "\n")
	return err
}
