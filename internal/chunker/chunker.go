// Package chunker splits document text into overlapping segments for
// embedding. Every segment is a contiguous span of a normalized form of the
// input, so overlaps can be removed and the source reconstructed.
package chunker

import (
	"fmt"
	"strings"
)

// MinViableChars is the shortest segment the fixed-window and sentence
// strategies will emit on its own. Shorter tails are folded into the
// previous segment.
const MinViableChars = 50

// Strategy names a chunking algorithm.
type Strategy string

const (
	StrategyFixed    Strategy = "fixed"
	StrategySentence Strategy = "sentence"
	StrategySemantic Strategy = "semantic"
)

// Config controls segment sizes. All sizes are in characters (runes).
type Config struct {
	Size    int
	Overlap int
	MinSize int
}

// DefaultConfig provides the sizes used for ingestion.
func DefaultConfig() Config {
	return Config{
		Size:    1000,
		Overlap: 150,
		MinSize: 200,
	}
}

// Normalize returns a usable copy of c. Overlap is clamped to Size-1 so a
// window always advances.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.Size <= 0 {
		c.Size = def.Size
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if c.Overlap >= c.Size {
		c.Overlap = c.Size - 1
	}
	if c.MinSize < 0 {
		c.MinSize = 0
	}
	if c.MinSize > c.Size {
		c.MinSize = c.Size
	}
	return c
}

// Segment is one chunk. Start and End are rune offsets into Result.Source.
type Segment struct {
	Index int
	Text  string
	Start int
	End   int
}

// Len returns the segment length in runes.
func (s Segment) Len() int {
	return s.End - s.Start
}

// Result holds the normalized source text and its segments in order.
type Result struct {
	Source   string
	Segments []Segment
}

// Texts returns the segment texts in order.
func (r Result) Texts() []string {
	out := make([]string, len(r.Segments))
	for i, s := range r.Segments {
		out[i] = s.Text
	}
	return out
}

// Reassemble concatenates the segments with overlaps removed, restoring the
// separators between non-overlapping neighbours. For well-formed results the
// output equals Source.
func (r Result) Reassemble() string {
	if len(r.Segments) == 0 {
		return ""
	}
	src := []rune(r.Source)
	var b strings.Builder
	prevEnd := r.Segments[0].Start
	for _, seg := range r.Segments {
		text := []rune(seg.Text)
		switch {
		case seg.Start >= prevEnd:
			b.WriteString(string(src[prevEnd:seg.Start]))
			b.WriteString(seg.Text)
		case seg.End > prevEnd:
			b.WriteString(string(text[prevEnd-seg.Start:]))
		}
		if seg.End > prevEnd {
			prevEnd = seg.End
		}
	}
	return b.String()
}

// Chunker splits text into segments.
type Chunker interface {
	Chunk(text string) Result
}

// ChunkerFunc adapts a function to the Chunker interface.
type ChunkerFunc func(text string) Result

// Chunk calls f(text).
func (f ChunkerFunc) Chunk(text string) Result {
	return f(text)
}

// New returns the chunker for the named strategy. An empty name selects the
// semantic strategy.
func New(strategy Strategy, cfg Config) (Chunker, error) {
	cfg = cfg.Normalize()
	switch Strategy(strings.ToLower(strings.TrimSpace(string(strategy)))) {
	case StrategyFixed:
		return ChunkerFunc(func(text string) Result { return FixedWindow(text, cfg) }), nil
	case StrategySentence:
		return ChunkerFunc(func(text string) Result { return SentenceAware(text, cfg) }), nil
	case StrategySemantic, "":
		return ChunkerFunc(func(text string) Result { return Semantic(text, cfg) }), nil
	default:
		return nil, fmt.Errorf("unknown chunking strategy %q", strategy)
	}
}

// span is a half-open rune range.
type span struct {
	start, end int
}

func (s span) len() int { return s.end - s.start }

func buildResult(src []rune, spans []span) Result {
	res := Result{Source: string(src)}
	if len(spans) == 0 {
		return res
	}
	res.Segments = make([]Segment, len(spans))
	for i, sp := range spans {
		res.Segments[i] = Segment{
			Index: i,
			Text:  string(src[sp.start:sp.end]),
			Start: sp.start,
			End:   sp.end,
		}
	}
	return res
}

// foldShortTail merges a trailing span below minLen into its predecessor.
func foldShortTail(spans []span, minLen int) []span {
	n := len(spans)
	if n < 2 || spans[n-1].len() >= minLen {
		return spans
	}
	last := spans[n-1]
	if last.end > spans[n-2].end {
		spans[n-2].end = last.end
	}
	return spans[:n-1]
}
