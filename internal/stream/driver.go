// Package stream drives segmentation over an unbounded byte source.
//
// The driver reads, decodes and extracts sentences on one goroutine. Feature
// computation runs on worker goroutines, but results are applied to the
// segmentation engine strictly in arrival order: with Lookahead 1 each
// sentence is computed and awaited before the next one is dispatched.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"topicseg/internal/domain"
	"topicseg/internal/embedding"
	"topicseg/internal/extractor"
	"topicseg/internal/logger"
	"topicseg/internal/segmenter"
	"topicseg/internal/trace"
)

// State is the driver's position in its read loop.
type State int

const (
	Filling State = iota
	Draining
	Flushing
	Done
)

func (s State) String() string {
	switch s {
	case Filling:
		return "filling"
	case Draining:
		return "draining"
	case Flushing:
		return "flushing"
	default:
		return "done"
	}
}

// ModelErrorPolicy says what to do when the feature provider fails.
type ModelErrorPolicy int

const (
	// SkipOnModelError keeps the sentence text in the open segment without
	// letting it affect the centroid or sentence count.
	SkipOnModelError ModelErrorPolicy = iota
	// AbortOnModelError stops the run and returns the error.
	AbortOnModelError
)

// ParseModelErrorPolicy maps "skip" and "abort" to a policy.
func ParseModelErrorPolicy(s string) (ModelErrorPolicy, error) {
	switch s {
	case "skip", "":
		return SkipOnModelError, nil
	case "abort":
		return AbortOnModelError, nil
	}
	return 0, fmt.Errorf("%w: on_model_error %q", domain.ErrInvalidConfig, s)
}

// EmitFunc receives each finished segment, in order.
type EmitFunc func(ctx context.Context, seg domain.Segment) error

// Options tune a Driver.
type Options struct {
	ReadSize     int
	Lookahead    int
	OnModelError ModelErrorPolicy
	// Summarizer, when set, fills Segment.Headline.
	Summarizer domain.Summarizer
	// RunID prefixes segment IDs; a random UUID is used when empty.
	RunID string
}

// Stats summarizes one run.
type Stats struct {
	RunID        string
	BytesRead    int64
	Sentences    int
	Skipped      int
	Segments     int
	Replacements int
	// Dropped is the byte length of trailing unterminated text.
	Dropped int
}

// Driver wires extractor, feature provider and engine together.
type Driver struct {
	policy   segmenter.Policy
	provider embedding.Embedder
	opts     Options
	state    State
}

// NewDriver validates the combination of policy and provider.
func NewDriver(policy segmenter.Policy, provider embedding.Embedder, opts Options) (*Driver, error) {
	if policy == nil {
		return nil, fmt.Errorf("%w: nil policy", domain.ErrInvalidConfig)
	}
	if policy.UsesVectors() && provider == nil {
		return nil, fmt.Errorf("%w: policy %s needs a feature provider", domain.ErrInvalidConfig, policy.Name())
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = 4096
	}
	if opts.Lookahead <= 0 {
		opts.Lookahead = 1
	}
	return &Driver{policy: policy, provider: provider, opts: opts, state: Done}, nil
}

// State returns the current loop state; Done between runs.
func (d *Driver) State() State { return d.state }

// run holds per-Run mutable state owned by the reading goroutine.
type run struct {
	id      string
	engine  *segmenter.Engine
	queue   []*pending
	stats   Stats
	emit    EmitFunc
	// dim is the vector length of the first successful computation.
	dim     int
	compute context.Context
	cancel  context.CancelFunc
}

type pending struct {
	sentence domain.Sentence
	done     chan result
}

type readResult struct {
	n   int
	err error
}

type result struct {
	vec []float64
	err error
}

// Run consumes r until it is exhausted, emitting segments as boundaries are
// found. A read returning zero bytes or io.EOF ends the stream; trailing
// unterminated text is dropped. A read failure flushes the open segment and
// returns an error wrapping domain.ErrIO.
func (d *Driver) Run(ctx context.Context, r io.Reader, emit EmitFunc) (Stats, error) {
	id := d.opts.RunID
	if id == "" {
		id = uuid.NewString()
	}
	ctx, span := trace.StartSpan(ctx, "stream.run",
		attribute.String(trace.AttrRunID, id),
		attribute.String(trace.AttrPolicy, d.policy.Name()),
	)
	defer span.End()

	ru := &run{id: id, engine: segmenter.NewEngine(d.policy), emit: emit}
	ru.stats.RunID = id
	ru.compute, ru.cancel = context.WithCancel(ctx)
	defer ru.cancel()

	src := &sourceReader{r: r}
	decoded := transform.NewReader(src, unicode.UTF8.NewDecoder())
	x := extractor.New()
	buf := make([]byte, d.opts.ReadSize)
	var partial []byte
	reads := make(chan readResult, 1)

	var (
		exhausted bool
		readErr   error
	)
	d.state = Filling
	for d.state != Done {
		if err := ctx.Err(); err != nil {
			d.abandon(ru)
			return ru.finish(src), err
		}
		switch d.state {
		case Filling:
			// The read runs on its own goroutine so cancellation is not
			// held up by a source blocked in Read.
			go func() {
				n, err := decoded.Read(buf)
				reads <- readResult{n: n, err: err}
			}()
			var res readResult
			select {
			case res = <-reads:
			case <-ctx.Done():
				d.abandon(ru)
				return ru.finish(src), ctx.Err()
			}
			n, err := res.n, res.err
			if n > 0 {
				partial = append(partial, buf[:n]...)
				k := completeRunes(partial)
				chunk := string(partial[:k])
				partial = append(partial[:0], partial[k:]...)
				ru.stats.Replacements += strings.Count(chunk, "\uFFFD")
				x.Write(chunk)
			}
			switch {
			case err == nil && n == 0, errors.Is(err, io.EOF):
				exhausted = true
			case err != nil:
				readErr = fmt.Errorf("%w: %w", domain.ErrIO, err)
				logger.Error("read failed after %d bytes: %v", src.n.Load(), err)
			}
			if n > 0 {
				d.state = Draining
			} else if exhausted || readErr != nil {
				d.state = Flushing
			}
		case Draining:
			for _, s := range x.Drain() {
				ru.stats.Sentences++
				if err := d.dispatch(ru, s); err != nil {
					d.abandon(ru)
					trace.RecordError(span, err)
					return ru.finish(src), err
				}
			}
			if exhausted || readErr != nil {
				d.state = Flushing
			} else {
				d.state = Filling
			}
		case Flushing:
			if err := d.flush(ru); err != nil {
				d.abandon(ru)
				trace.RecordError(span, err)
				return ru.finish(src), err
			}
			if rest := strings.TrimSpace(x.Remainder()); rest != "" {
				ru.stats.Dropped = x.Len()
				logger.Debug("dropping %d bytes of unterminated text", x.Len())
			}
			d.state = Done
		}
	}
	span.SetAttributes(attribute.Int64(trace.AttrBytesRead, src.n.Load()))
	if readErr != nil {
		trace.RecordError(span, readErr)
	}
	return ru.finish(src), readErr
}

func (ru *run) finish(src *sourceReader) Stats {
	ru.stats.BytesRead = src.n.Load()
	return ru.stats
}

// dispatch starts feature computation for s and applies every queued result
// that must be resolved to keep at most Lookahead computations in flight.
func (d *Driver) dispatch(ru *run, s domain.Sentence) error {
	if !d.policy.UsesVectors() {
		return d.apply(ru, s, result{})
	}
	p := &pending{sentence: s, done: make(chan result, 1)}
	go func() {
		vec, err := d.computeFeatures(ru.compute, s)
		p.done <- result{vec: vec, err: err}
	}()
	ru.queue = append(ru.queue, p)
	for len(ru.queue) >= d.opts.Lookahead {
		if err := d.resolveHead(ru); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) resolveHead(ru *run) error {
	head := ru.queue[0]
	ru.queue[0] = nil
	ru.queue = ru.queue[1:]
	return d.apply(ru, head.sentence, <-head.done)
}

func (d *Driver) computeFeatures(ctx context.Context, s domain.Sentence) ([]float64, error) {
	ctx, span := trace.StartSpan(ctx, "feature.compute",
		attribute.String(trace.AttrProvider, d.provider.Name()),
		attribute.Int(trace.AttrSentenceIndex, s.Index),
	)
	defer span.End()
	vec, err := d.provider.Embed(ctx, s.Text)
	if err != nil {
		err = embedding.ModelError(d.provider.Name(), err)
		trace.RecordError(span, err)
		return nil, err
	}
	return vec, nil
}

func (d *Driver) apply(ru *run, s domain.Sentence, r result) error {
	if r.err == nil && d.policy.UsesVectors() {
		if ru.dim == 0 {
			ru.dim = len(r.vec)
		} else if len(r.vec) != ru.dim {
			r.err = embedding.ModelError(d.provider.Name(),
				fmt.Errorf("%w: got %d values, want %d", domain.ErrDimensionMismatch, len(r.vec), ru.dim))
		}
	}
	if r.err != nil {
		if d.opts.OnModelError == AbortOnModelError {
			return fmt.Errorf("sentence %d: %w", s.Index, r.err)
		}
		logger.Warn("skipping sentence %d from scoring: %v", s.Index, r.err)
		ru.stats.Skipped++
		ru.engine.Absorb(s)
		return nil
	}
	dec := ru.engine.Decide(s, r.vec)
	logger.Debug("sentence %d: %s", s.Index, dec.Kind)
	if dec.Kind == segmenter.Boundary {
		return d.emit(ru, dec.Previous)
	}
	return nil
}

// flush resolves in-flight computations, then closes the open segment.
func (d *Driver) flush(ru *run) error {
	for len(ru.queue) > 0 {
		if err := d.resolveHead(ru); err != nil {
			return err
		}
	}
	if seg, ok := ru.engine.Flush(); ok {
		return d.emit(ru, seg)
	}
	return nil
}

func (d *Driver) emit(ru *run, seg domain.Segment) error {
	seg.ID = fmt.Sprintf("%s:%d", ru.id, seg.Index)
	if d.opts.Summarizer != nil {
		if h, err := d.opts.Summarizer.Summarize(seg.Text, 1); err == nil {
			seg.Headline = h
		}
	}
	ctx, span := trace.StartSpan(ru.compute, "segment.emit",
		attribute.Int(trace.AttrSegmentIndex, seg.Index),
		attribute.Int(trace.AttrSegmentSize, seg.Sentences),
	)
	defer span.End()
	if err := ru.emit(ctx, seg); err != nil {
		trace.RecordError(span, err)
		return fmt.Errorf("emit segment %d: %w", seg.Index, err)
	}
	ru.stats.Segments++
	return nil
}

// abandon cancels and waits for in-flight computations so none outlive Run.
func (d *Driver) abandon(ru *run) {
	ru.cancel()
	for _, p := range ru.queue {
		<-p.done
	}
	ru.queue = nil
	d.state = Done
}

// completeRunes returns the length of the longest prefix of p that does not
// end inside a multi-byte rune.
func completeRunes(p []byte) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if utf8.FullRune(p[i:]) {
				return len(p)
			}
			return i
		}
	}
	return len(p)
}

// sourceReader counts raw bytes and treats an empty, error-free read as
// exhaustion.
type sourceReader struct {
	r io.Reader
	n atomic.Int64
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.n.Add(int64(n))
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}
