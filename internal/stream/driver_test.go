package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topicseg/internal/domain"
	"topicseg/internal/embedding/tfidf"
	"topicseg/internal/segmenter"
	"topicseg/internal/summarizer"
)

const e2eInput = "Introduction. Topic one. Topic one continues. However, topic two begins. Topic two continues."

// fakeEmbedder returns canned vectors and records concurrency.
type fakeEmbedder struct {
	vectors  map[string][]float64
	fail     string
	delay    func(text string) time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
}

func (f *fakeEmbedder) Name() string   { return "fake" }
func (f *fakeEmbedder) Dimension() int { return 2 }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay != nil {
		select {
		case <-time.After(f.delay(text)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != "" && strings.Contains(text, f.fail) {
		return nil, errors.New("model rejected input")
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float64{0, 0}, nil
}

type collector struct {
	mu   sync.Mutex
	segs []domain.Segment
}

func (c *collector) emit(_ context.Context, s domain.Segment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segs = append(c.segs, s)
	return nil
}

func (c *collector) texts() []string {
	var out []string
	for _, s := range c.segs {
		out = append(out, s.Text)
	}
	return out
}

func heuristicPolicy(t *testing.T) segmenter.Policy {
	t.Helper()
	h, err := segmenter.NewHeuristic(segmenter.HeuristicConfig{
		MaxSentences: 5,
		Markers:      []string{"however"},
		MinMembers:   2,
		LengthRatio:  2,
	})
	require.NoError(t, err)
	return h
}

func TestRun_HeuristicEndToEnd(t *testing.T) {
	d, err := NewDriver(heuristicPolicy(t), nil, Options{RunID: "run1"})
	require.NoError(t, err)

	var c collector
	stats, err := d.Run(context.Background(), strings.NewReader(e2eInput), c.emit)
	require.NoError(t, err)

	require.Len(t, c.segs, 2)
	assert.Equal(t, "Introduction. Topic one. Topic one continues.", c.segs[0].Text)
	assert.True(t, strings.HasPrefix(c.segs[1].Text, "However, topic two begins."))
	assert.Equal(t, "run1:0", c.segs[0].ID)
	assert.Equal(t, "run1:1", c.segs[1].ID)
	assert.Equal(t, 3, c.segs[0].Sentences)

	assert.Equal(t, 4, stats.Sentences)
	assert.Equal(t, 2, stats.Segments)
	assert.Equal(t, len("Topic two continues."), stats.Dropped)
	assert.Equal(t, int64(len(e2eInput)), stats.BytesRead)
	assert.Equal(t, Done, d.State())
}

func TestRun_ChunkingDoesNotChangeSegments(t *testing.T) {
	input := e2eInput + " Later text arrives. More of it! Does it? Yes. "
	var want collector
	d, err := NewDriver(heuristicPolicy(t), nil, Options{RunID: "r", ReadSize: 1 << 16})
	require.NoError(t, err)
	_, err = d.Run(context.Background(), strings.NewReader(input), want.emit)
	require.NoError(t, err)

	for _, size := range []int{1, 2, 3, 7, 64} {
		var got collector
		d, err := NewDriver(heuristicPolicy(t), nil, Options{RunID: "r", ReadSize: size})
		require.NoError(t, err)
		_, err = d.Run(context.Background(), iotest.HalfReader(strings.NewReader(input)), got.emit)
		require.NoError(t, err)
		assert.Equal(t, want.segs, got.segs, "read size %d", size)
	}
}

func TestRun_EmbeddingPolicyWithTFIDF(t *testing.T) {
	d, err := NewDriver(segmenter.Cosine{Threshold: 0.3}, tfidf.NewEmbedder(1024), Options{})
	require.NoError(t, err)

	var c collector
	input := "Cats purr softly. Cats purr loudly. Stocks fell sharply. Stocks fell again. "
	_, err = d.Run(context.Background(), strings.NewReader(input), c.emit)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Cats purr softly. Cats purr loudly.",
		"Stocks fell sharply. Stocks fell again.",
	}, c.texts())
}

func TestRun_Deterministic(t *testing.T) {
	input := "Cats purr softly. Cats purr loudly. Stocks fell sharply. Stocks fell again. Cats nap. "
	var first, second collector
	for _, c := range []*collector{&first, &second} {
		d, err := NewDriver(segmenter.Cosine{Threshold: 0.3}, tfidf.NewEmbedder(1024), Options{RunID: "same"})
		require.NoError(t, err)
		_, err = d.Run(context.Background(), strings.NewReader(input), c.emit)
		require.NoError(t, err)
	}
	assert.Equal(t, first.segs, second.segs)
}

// zeroReader delivers its data once, then returns (0, nil) forever.
type zeroReader struct {
	data string
	done bool
}

func (z *zeroReader) Read(p []byte) (int, error) {
	if z.done {
		return 0, nil
	}
	z.done = true
	return copy(p, z.data), nil
}

func TestRun_ZeroLengthReadEndsStream(t *testing.T) {
	d, err := NewDriver(heuristicPolicy(t), nil, Options{})
	require.NoError(t, err)
	var c collector
	_, err = d.Run(context.Background(), &zeroReader{data: "One. Two. tail"}, c.emit)
	require.NoError(t, err)
	assert.Equal(t, []string{"One. Two."}, c.texts())
}

func TestRun_ReadErrorFlushesAndFails(t *testing.T) {
	d, err := NewDriver(heuristicPolicy(t), nil, Options{})
	require.NoError(t, err)
	src := io.MultiReader(strings.NewReader("One. Two. "), iotest.ErrReader(errors.New("disk gone")))

	var c collector
	_, err = d.Run(context.Background(), src, c.emit)
	assert.ErrorIs(t, err, domain.ErrIO)
	assert.Equal(t, []string{"One. Two."}, c.texts())
	assert.Equal(t, Done, d.State())
}

func TestRun_InvalidUTF8IsReplaced(t *testing.T) {
	d, err := NewDriver(heuristicPolicy(t), nil, Options{ReadSize: 1})
	require.NoError(t, err)
	var c collector
	stats, err := d.Run(context.Background(), strings.NewReader("Caf\xff. Crème brûlée. "), c.emit)
	require.NoError(t, err)
	assert.Equal(t, []string{"Caf\uFFFD. Crème brûlée."}, c.texts())
	assert.Equal(t, 1, stats.Replacements)
}

func TestRun_ModelErrorSkip(t *testing.T) {
	f := &fakeEmbedder{
		fail: "FAIL",
		vectors: map[string][]float64{
			"Alpha one.": {1, 0},
			"Alpha two.": {1, 0.1},
			"Beta one.":  {0, 1},
		},
	}
	d, err := NewDriver(segmenter.Cosine{Threshold: 0.5}, f, Options{OnModelError: SkipOnModelError})
	require.NoError(t, err)

	var c collector
	stats, err := d.Run(context.Background(), strings.NewReader("Alpha one. FAIL here. Alpha two. Beta one. "), c.emit)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha one. FAIL here. Alpha two.", "Beta one."}, c.texts())
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 3, c.segs[0].Sentences)
}

func TestRun_ModelErrorAbort(t *testing.T) {
	f := &fakeEmbedder{fail: "FAIL", vectors: map[string][]float64{"A.": {1, 0}, "B.": {0, 1}}}
	d, err := NewDriver(segmenter.Cosine{Threshold: 0.5}, f, Options{OnModelError: AbortOnModelError})
	require.NoError(t, err)

	var c collector
	_, err = d.Run(context.Background(), strings.NewReader("A. B. FAIL. C. D. "), c.emit)
	require.ErrorIs(t, err, domain.ErrModel)
	assert.Equal(t, []string{"A."}, c.texts())
	assert.Equal(t, Done, d.State())
}

func TestRun_RendezvousKeepsOneComputationInFlight(t *testing.T) {
	f := &fakeEmbedder{delay: func(string) time.Duration { return time.Millisecond }}
	d, err := NewDriver(segmenter.Cosine{Threshold: 0.5}, f, Options{Lookahead: 1})
	require.NoError(t, err)
	var c collector
	_, err = d.Run(context.Background(), strings.NewReader("a. b. c. d. e. f. "), c.emit)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.maxSeen.Load())
	assert.Equal(t, int32(6), f.calls.Load())
}

func TestRun_LookaheadPreservesOrder(t *testing.T) {
	vectors := map[string][]float64{}
	var input strings.Builder
	for i := 0; i < 40; i++ {
		text := string(rune('a'+i%26)) + strings.Repeat("x", i) + "."
		if (i/4)%2 == 0 {
			vectors[text] = []float64{1, float64(i%4) * 0.1}
		} else {
			vectors[text] = []float64{float64(i%4) * 0.1, 1}
		}
		input.WriteString(text + " ")
	}
	// later sentences finish first
	delay := func(text string) time.Duration { return time.Duration(50-len(text)) * 100 * time.Microsecond }

	var want collector
	d, err := NewDriver(segmenter.Cosine{Threshold: 0.8}, &fakeEmbedder{vectors: vectors}, Options{RunID: "x"})
	require.NoError(t, err)
	_, err = d.Run(context.Background(), strings.NewReader(input.String()), want.emit)
	require.NoError(t, err)
	require.Len(t, want.segs, 10)

	f := &fakeEmbedder{vectors: vectors, delay: delay}
	var got collector
	d, err = NewDriver(segmenter.Cosine{Threshold: 0.8}, f, Options{RunID: "x", Lookahead: 4})
	require.NoError(t, err)
	_, err = d.Run(context.Background(), strings.NewReader(input.String()), got.emit)
	require.NoError(t, err)

	assert.Equal(t, want.segs, got.segs)
	assert.LessOrEqual(t, f.maxSeen.Load(), int32(4))
}

func TestRun_EmitErrorStopsRun(t *testing.T) {
	d, err := NewDriver(heuristicPolicy(t), nil, Options{})
	require.NoError(t, err)
	boom := errors.New("sink full")
	_, err = d.Run(context.Background(), strings.NewReader(e2eInput), func(context.Context, domain.Segment) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestRun_ContextCanceled(t *testing.T) {
	d, err := NewDriver(heuristicPolicy(t), nil, Options{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var c collector
	_, err = d.Run(ctx, strings.NewReader(e2eInput), c.emit)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.segs)
}

func TestRun_Headline(t *testing.T) {
	d, err := NewDriver(heuristicPolicy(t), nil, Options{Summarizer: summarizer.NewFrequencySummarizer()})
	require.NoError(t, err)
	var c collector
	_, err = d.Run(context.Background(), strings.NewReader("Bees make honey. Honey bees live in hives. The weather was mild. "), c.emit)
	require.NoError(t, err)
	require.Len(t, c.segs, 1)
	assert.Equal(t, "Honey bees live in hives.", c.segs[0].Headline)
}

func TestNewDriver_Validation(t *testing.T) {
	_, err := NewDriver(nil, nil, Options{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, err = NewDriver(segmenter.Cosine{Threshold: 0.5}, nil, Options{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestParseModelErrorPolicy(t *testing.T) {
	p, err := ParseModelErrorPolicy("abort")
	require.NoError(t, err)
	assert.Equal(t, AbortOnModelError, p)
	p, err = ParseModelErrorPolicy("skip")
	require.NoError(t, err)
	assert.Equal(t, SkipOnModelError, p)
	_, err = ParseModelErrorPolicy("retry")
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCompleteRunes(t *testing.T) {
	e := []byte("è")
	assert.Equal(t, 0, completeRunes(e[:1]))
	assert.Equal(t, 2, completeRunes(e))
	assert.Equal(t, 2, completeRunes(append([]byte("ab"), e[0])))
	assert.Equal(t, 0, completeRunes(nil))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "filling", Filling.String())
	assert.Equal(t, "draining", Draining.String())
	assert.Equal(t, "flushing", Flushing.String())
	assert.Equal(t, "done", Done.String())
}

func TestRun_CancelWhileReadBlocked(t *testing.T) {
	d, err := NewDriver(heuristicPolicy(t), nil, Options{})
	require.NoError(t, err)

	pr, pw := io.Pipe()
	defer pw.Close()
	go func() { _, _ = pw.Write([]byte("One. Two. ")) }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var c collector
	go func() {
		_, err := d.Run(ctx, pr, c.emit)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel while the source was blocked")
	}
}

func TestRun_DimensionMismatch(t *testing.T) {
	vectors := map[string][]float64{
		"A one.": {1, 0},
		"A two.": {1, 0, 0},
		"A six.": {1, 0.1},
	}
	input := "A one. A two. A six. "

	d, err := NewDriver(segmenter.Cosine{Threshold: 0.5}, &fakeEmbedder{vectors: vectors}, Options{})
	require.NoError(t, err)
	var c collector
	stats, err := d.Run(context.Background(), strings.NewReader(input), c.emit)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, []string{"A one. A two. A six."}, c.texts())

	d, err = NewDriver(segmenter.Cosine{Threshold: 0.5}, &fakeEmbedder{vectors: vectors}, Options{OnModelError: AbortOnModelError})
	require.NoError(t, err)
	_, err = d.Run(context.Background(), strings.NewReader(input), (&collector{}).emit)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.ErrorIs(t, err, domain.ErrModel)
}
