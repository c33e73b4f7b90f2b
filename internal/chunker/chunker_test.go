package chunker

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vocabulary = strings.Fields(`revenue grew supply chain delays quarter
results margin customers growth risk company market product pricing cost
team strategy forecast region demand inventory shipping partner contract`)

// generateText builds a deterministic document with paragraphs of sentences.
func generateText(seed int64, paragraphs int) string {
	rng := rand.New(rand.NewSource(seed))
	terminals := []string{".", "!", "?"}
	var paras []string
	for p := 0; p < paragraphs; p++ {
		var sents []string
		for s := 0; s < 1+rng.Intn(8); s++ {
			words := make([]string, 3+rng.Intn(18))
			for w := range words {
				words[w] = vocabulary[rng.Intn(len(vocabulary))]
			}
			words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
			sents = append(sents, strings.Join(words, " ")+terminals[rng.Intn(len(terminals))])
		}
		paras = append(paras, strings.Join(sents, "  "))
	}
	return strings.Join(paras, "\n\n  \n")
}

func assertWellFormed(t *testing.T, res Result) {
	t.Helper()
	src := []rune(res.Source)
	for i, seg := range res.Segments {
		assert.Equal(t, i, seg.Index)
		require.True(t, seg.Start >= 0 && seg.End <= len(src) && seg.Start < seg.End, "segment %d span [%d,%d)", i, seg.Start, seg.End)
		assert.Equal(t, string(src[seg.Start:seg.End]), seg.Text)
		if i > 0 {
			prev := res.Segments[i-1]
			assert.Greater(t, seg.Start, prev.Start, "segment %d does not advance", i)
			assert.Greater(t, seg.End, prev.End, "segment %d does not extend coverage", i)
			if seg.Start > prev.End {
				assert.Empty(t, strings.TrimSpace(string(src[prev.End:seg.Start])), "gap before segment %d holds text", i)
			}
		}
	}
	assert.Equal(t, res.Source, res.Reassemble())
}

func TestConfig_Normalize(t *testing.T) {
	cfg := Config{Size: 100, Overlap: 250, MinSize: 500}.Normalize()
	assert.Equal(t, 100, cfg.Size)
	assert.Equal(t, 99, cfg.Overlap)
	assert.Equal(t, 100, cfg.MinSize)

	cfg = Config{Size: 0, Overlap: -5, MinSize: -1}.Normalize()
	assert.Equal(t, DefaultConfig().Size, cfg.Size)
	assert.Equal(t, 0, cfg.Overlap)
	assert.Equal(t, 0, cfg.MinSize)
}

func TestNew(t *testing.T) {
	for _, s := range []Strategy{StrategyFixed, StrategySentence, StrategySemantic, "", "SEMANTIC"} {
		c, err := New(s, DefaultConfig())
		require.NoError(t, err, s)
		assert.NotNil(t, c)
	}

	_, err := New("markdown", DefaultConfig())
	assert.Error(t, err)
}

func TestAllStrategies_EmptyInput(t *testing.T) {
	for _, s := range []Strategy{StrategyFixed, StrategySentence, StrategySemantic} {
		c, err := New(s, DefaultConfig())
		require.NoError(t, err)
		assert.Empty(t, c.Chunk("").Segments, s)
		assert.Empty(t, c.Chunk(" \n\t \n ").Segments, s)
	}
}

func TestAllStrategies_ShortDocumentIsOneChunk(t *testing.T) {
	text := "Company X revenue grew 20% in Q4. Risks include supply chain delays."
	for _, s := range []Strategy{StrategyFixed, StrategySentence, StrategySemantic} {
		c, err := New(s, DefaultConfig())
		require.NoError(t, err)
		res := c.Chunk(text)
		require.Len(t, res.Segments, 1, s)
		assert.Equal(t, text, res.Segments[0].Text)
	}
}

func TestAllStrategies_CoverInput(t *testing.T) {
	configs := []Config{
		{Size: 200, Overlap: 40, MinSize: 80},
		{Size: 500, Overlap: 0, MinSize: 100},
		{Size: 1000, Overlap: 150, MinSize: 200},
		{Size: 120, Overlap: 119, MinSize: 60},
	}
	for seed := int64(1); seed <= 25; seed++ {
		text := generateText(seed, 1+int(seed%9))
		for _, cfg := range configs {
			for _, s := range []Strategy{StrategyFixed, StrategySentence, StrategySemantic} {
				c, err := New(s, cfg)
				require.NoError(t, err)
				res := c.Chunk(text)
				require.NotEmpty(t, res.Segments, "seed %d strategy %s", seed, s)
				assertWellFormed(t, res)
			}
		}
	}
}

func TestFixedWindow_Windows(t *testing.T) {
	text := strings.Repeat("a", 250)
	res := FixedWindow(text, Config{Size: 100, Overlap: 20})

	require.Len(t, res.Segments, 3)
	assert.Equal(t, 0, res.Segments[0].Start)
	assert.Equal(t, 100, res.Segments[0].End)
	assert.Equal(t, 80, res.Segments[1].Start)
	assert.Equal(t, 180, res.Segments[1].End)
	assert.Equal(t, 160, res.Segments[2].Start)
	assert.Equal(t, 250, res.Segments[2].End)
	assertWellFormed(t, res)
}

func TestFixedWindow_OverlapNotLessThanSizeTerminates(t *testing.T) {
	text := strings.Repeat("abcdefghij", 30)

	done := make(chan Result, 1)
	go func() { done <- FixedWindow(text, Config{Size: 60, Overlap: 60}) }()

	select {
	case res := <-done:
		require.NotEmpty(t, res.Segments)
		for i := 1; i < len(res.Segments); i++ {
			assert.Equal(t, res.Segments[i-1].Start+1, res.Segments[i].Start)
		}
		assertWellFormed(t, res)
	case <-time.After(5 * time.Second):
		t.Fatal("fixed window did not terminate with overlap >= size")
	}
}

func TestFixedWindow_ShortTailFolded(t *testing.T) {
	text := strings.Repeat("x", 520)
	res := FixedWindow(text, Config{Size: 500, Overlap: 0})

	require.Len(t, res.Segments, 1)
	assert.Equal(t, 520, res.Segments[0].Len())
}

func TestSentenceAware_MinimumLengthAndOverlap(t *testing.T) {
	text := generateText(42, 12)
	cfg := Config{Size: 300, Overlap: 50}
	res := SentenceAware(text, cfg)

	require.Greater(t, len(res.Segments), 2)
	for i, seg := range res.Segments {
		assert.GreaterOrEqual(t, seg.Len(), MinViableChars, "segment %d", i)
	}
	for i := 1; i < len(res.Segments); i++ {
		prev, cur := res.Segments[i-1], res.Segments[i]
		if cur.Start < prev.End {
			carried := strings.Fields(string([]rune(res.Source)[cur.Start:prev.End]))
			assert.LessOrEqual(t, len(carried), cfg.Overlap/5)
		}
	}
	assertWellFormed(t, res)
}

func TestSentenceAware_SplitsOnTerminalPunctuation(t *testing.T) {
	sentence := "This sentence is long enough to count as a viable chunk on its own"
	text := sentence + ". " + sentence + "! " + sentence + "? " + sentence + "."
	res := SentenceAware(text, Config{Size: 80, Overlap: 0})

	require.Len(t, res.Segments, 4)
	assert.Equal(t, sentence+".", res.Segments[0].Text)
	assert.Equal(t, sentence+"!", res.Segments[1].Text)
	assert.Equal(t, sentence+"?", res.Segments[2].Text)
}

func TestSemantic_RespectsMinSizeExceptLast(t *testing.T) {
	cfg := Config{Size: 400, Overlap: 120, MinSize: 150}
	for seed := int64(100); seed < 120; seed++ {
		res := Semantic(generateText(seed, 10), cfg)
		for i, seg := range res.Segments {
			if i == len(res.Segments)-1 {
				continue
			}
			assert.GreaterOrEqual(t, seg.Len(), cfg.MinSize, "seed %d segment %d", seed, i)
		}
		assertWellFormed(t, res)
	}
}

func TestSemantic_NeverSplitsSentences(t *testing.T) {
	cfg := Config{Size: 300, Overlap: 100, MinSize: 100}
	for seed := int64(7); seed < 20; seed++ {
		res := Semantic(generateText(seed, 8), cfg)
		src := []rune(res.Source)
		for i, seg := range res.Segments {
			last := src[seg.End-1]
			assert.True(t, isTerminal(last), "seed %d segment %d ends mid-sentence: %q", seed, i, seg.Text)
			if seg.Start > 0 {
				prev := src[seg.Start-1]
				assert.True(t, prev == ' ' || prev == '\n', "seed %d segment %d starts mid-word", seed, i)
				assert.True(t, isTerminal(src[seg.Start-2]) || src[seg.Start-2] == '\n',
					"seed %d segment %d starts mid-sentence: %q", seed, i, seg.Text)
			}
		}
	}
}

func TestSemantic_OverlapFitsBudget(t *testing.T) {
	cfg := Config{Size: 350, Overlap: 90, MinSize: 120}
	res := Semantic(generateText(3, 15), cfg)
	require.Greater(t, len(res.Segments), 2)
	for i := 1; i < len(res.Segments); i++ {
		overlap := res.Segments[i-1].End - res.Segments[i].Start
		assert.LessOrEqual(t, overlap, cfg.Overlap, "segment %d", i)
	}
}

func TestSemantic_ParagraphsStayTogether(t *testing.T) {
	p1 := "Revenue grew twenty percent in the fourth quarter. Margins held steady."
	p2 := "Risks include supply chain delays. Inventory remains elevated."
	p3 := "The team expects demand to recover next year. Pricing stays flat."
	text := p1 + "\n\n" + p2 + "\r\n\r\n" + p3

	res := Semantic(text, Config{Size: 160, Overlap: 0, MinSize: 60})
	require.Len(t, res.Segments, 2)
	assert.Equal(t, p1+"\n\n"+p2, res.Segments[0].Text)
	assert.Equal(t, p3, res.Segments[1].Text)
}

func TestSemantic_OversizedSentenceFallsBackToWindows(t *testing.T) {
	long := strings.Repeat("word ", 120) + "end."
	res := Semantic(long, Config{Size: 100, Overlap: 0, MinSize: 50})

	require.Greater(t, len(res.Segments), 1)
	for _, seg := range res.Segments {
		assert.LessOrEqual(t, seg.Len(), 100)
	}
	assertWellFormed(t, res)
}

func TestNormalizeParagraphs(t *testing.T) {
	in := "  First   line\nstill first.\n\n\n\nSecond\t para. \n \n"
	assert.Equal(t, "First line still first.\n\nSecond para.", NormalizeParagraphs(in))
}
