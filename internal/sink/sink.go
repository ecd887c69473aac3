// Package sink writes emitted segments to their destination.
package sink

import (
	"context"
	"fmt"
	"io"
	"strings"

	"topicseg/internal/domain"
)

// Sink receives segments in emission order.
type Sink interface {
	Write(ctx context.Context, seg domain.Segment) error
	Close() error
}

// Options configures New.
type Options struct {
	Format     string
	Separator  string
	SQLitePath string
}

// New builds the sink named by opts.Format. Text and jsonl sinks write to w.
func New(opts Options, w io.Writer) (Sink, error) {
	switch opts.Format {
	case "text", "":
		return NewText(w, opts.Separator), nil
	case "jsonl":
		return NewJSONL(w), nil
	case "sqlite":
		return NewSQLite(opts.SQLitePath)
	case "memory":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("%w: unknown output format %q", domain.ErrInvalidConfig, opts.Format)
}

// runOf returns the run part of a segment ID.
func runOf(seg domain.Segment) string {
	if i := strings.LastIndexByte(seg.ID, ':'); i >= 0 {
		return seg.ID[:i]
	}
	return seg.ID
}
