package sink

import (
	"context"
	"encoding/json"
	"io"

	"topicseg/internal/domain"
)

type jsonSegment struct {
	ID        string `json:"id"`
	Index     int    `json:"index"`
	Text      string `json:"text"`
	Sentences int    `json:"sentences"`
	Headline  string `json:"headline,omitempty"`
}

// JSONL writes one JSON object per segment.
type JSONL struct {
	enc *json.Encoder
}

// NewJSONL creates a sink that encodes each segment as one line of JSON.
func NewJSONL(w io.Writer) *JSONL {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONL{enc: enc}
}

// Write encodes seg followed by a newline.
func (j *JSONL) Write(_ context.Context, seg domain.Segment) error {
	return j.enc.Encode(jsonSegment{
		ID:        seg.ID,
		Index:     seg.Index,
		Text:      seg.Text,
		Sentences: seg.Sentences,
		Headline:  seg.Headline,
	})
}

// Close is a no-op; the caller owns the writer.
func (j *JSONL) Close() error { return nil }
