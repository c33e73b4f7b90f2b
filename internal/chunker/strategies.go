package chunker

import "strings"

// FixedWindow slides a window of cfg.Size runes over the trimmed text,
// keeping cfg.Overlap runes between consecutive windows. It stops once a
// window reaches the end of the text.
func FixedWindow(text string, cfg Config) Result {
	cfg = cfg.Normalize()
	src := []rune(strings.TrimSpace(text))
	n := len(src)
	if n == 0 {
		return Result{}
	}

	var spans []span
	start := 0
	for start < n {
		end := start + cfg.Size
		if end > n {
			end = n
		}
		spans = append(spans, span{start, end})
		if end == n {
			break
		}
		start = end - cfg.Overlap
	}

	return buildResult(src, foldShortTail(spans, MinViableChars))
}

// SentenceAware packs whole sentences into segments of at most cfg.Size
// runes. Each new segment starts with roughly cfg.Overlap/5 trailing words
// of the previous one.
func SentenceAware(text string, cfg Config) Result {
	cfg = cfg.Normalize()
	src := []rune(NormalizeSpaces(text))
	if len(src) == 0 {
		return Result{}
	}

	overlapWords := cfg.Overlap / 5
	var spans []span
	var buf span
	open := false
	for _, s := range sentenceSpans(src, 0, len(src)) {
		if !open {
			buf, open = s, true
			continue
		}
		if s.end-buf.start > cfg.Size && buf.len() >= MinViableChars {
			spans = append(spans, buf)
			buf = span{start: overlapByWords(src, buf, overlapWords, s.start), end: s.end}
			continue
		}
		buf.end = s.end
	}
	if open {
		spans = append(spans, buf)
	}

	return buildResult(src, foldShortTail(spans, MinViableChars))
}

// Semantic groups paragraphs into segments. A segment is closed only once it
// holds at least cfg.MinSize runes and the next paragraph would push it past
// cfg.Size. Overlap is carried as whole trailing sentences that fit in
// cfg.Overlap runes. Paragraphs longer than cfg.Size are split at sentence
// boundaries; a single sentence longer than cfg.Size falls back to fixed
// windows.
func Semantic(text string, cfg Config) Result {
	cfg = cfg.Normalize()
	src, paras := paragraphs(text)
	if len(paras) == 0 {
		return Result{}
	}

	var spans []span
	var buf span
	open := false
	for _, u := range semanticUnits(src, paras, cfg.Size) {
		if !open {
			buf, open = u, true
			continue
		}
		if buf.len() >= cfg.MinSize && u.end-buf.start > cfg.Size {
			spans = append(spans, buf)
			start := overlapBySentences(src, buf, cfg.Overlap)
			if start < 0 {
				start = u.start
			}
			buf = span{start: start, end: u.end}
			continue
		}
		buf.end = u.end
	}
	if open {
		spans = append(spans, buf)
	}

	return buildResult(src, spans)
}

// semanticUnits returns paragraphs, with oversized paragraphs replaced by
// their sentences and oversized sentences by fixed-size pieces.
func semanticUnits(src []rune, paras []span, size int) []span {
	units := make([]span, 0, len(paras))
	for _, p := range paras {
		if p.len() <= size {
			units = append(units, p)
			continue
		}
		for _, s := range sentenceSpans(src, p.start, p.end) {
			if s.len() <= size {
				units = append(units, s)
				continue
			}
			for start := s.start; start < s.end; start += size {
				end := start + size
				if end > s.end {
					end = s.end
				}
				units = append(units, span{start, end})
			}
		}
	}
	return units
}

// overlapByWords returns the start of the last n words of buf, or fallback
// when no overlap applies. The first word is never carried so the next
// segment always advances.
func overlapByWords(src []rune, buf span, n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	starts := wordStarts(src, buf)
	if len(starts) <= 1 {
		return fallback
	}
	if n > len(starts)-1 {
		n = len(starts) - 1
	}
	return starts[len(starts)-n]
}

// overlapBySentences returns the start of the longest run of trailing
// sentences of buf that fits in budget runes, or -1. The first sentence is
// never carried.
func overlapBySentences(src []rune, buf span, budget int) int {
	if budget <= 0 {
		return -1
	}
	sents := sentenceSpans(src, buf.start, buf.end)
	start := -1
	for i := len(sents) - 1; i >= 1; i-- {
		if buf.end-sents[i].start > budget {
			break
		}
		start = sents[i].start
	}
	return start
}
