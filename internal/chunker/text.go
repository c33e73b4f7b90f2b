package chunker

import (
	"regexp"
	"strings"
	"unicode"
)

var blankLine = regexp.MustCompile(`\n[ \t\f\v\r]*\n`)

// NormalizeSpaces collapses every whitespace run to a single space.
func NormalizeSpaces(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// NormalizeParagraphs collapses whitespace inside paragraphs and separates
// paragraphs with exactly one blank line.
func NormalizeParagraphs(text string) string {
	src, _ := paragraphs(text)
	return string(src)
}

func paragraphs(text string) ([]rune, []span) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := blankLine.Split(text, -1)

	var b strings.Builder
	var spans []span
	pos := 0
	for _, p := range parts {
		clean := NormalizeSpaces(p)
		if clean == "" {
			continue
		}
		if len(spans) > 0 {
			b.WriteString("\n\n")
			pos += 2
		}
		n := len([]rune(clean))
		b.WriteString(clean)
		spans = append(spans, span{start: pos, end: pos + n})
		pos += n
	}
	return []rune(b.String()), spans
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// sentenceSpans splits src[lo:hi] on '.', '!' or '?' followed by whitespace,
// and on newlines. Spans exclude surrounding whitespace.
func sentenceSpans(src []rune, lo, hi int) []span {
	var out []span
	start := -1
	for i := lo; i < hi; i++ {
		r := src[i]
		if start < 0 {
			if unicode.IsSpace(r) {
				continue
			}
			start = i
		}
		if r == '\n' {
			if end := trimRight(src, start, i); end > start {
				out = append(out, span{start, end})
			}
			start = -1
			continue
		}
		if isTerminal(r) && (i+1 == hi || unicode.IsSpace(src[i+1])) {
			out = append(out, span{start, i + 1})
			start = -1
		}
	}
	if start >= 0 {
		if end := trimRight(src, start, hi); end > start {
			out = append(out, span{start, end})
		}
	}
	return out
}

func trimRight(src []rune, start, end int) int {
	for end > start && unicode.IsSpace(src[end-1]) {
		end--
	}
	return end
}

// wordStarts returns the offsets of words inside sp.
func wordStarts(src []rune, sp span) []int {
	var out []int
	for i := sp.start; i < sp.end; i++ {
		if unicode.IsSpace(src[i]) {
			continue
		}
		if i == sp.start || unicode.IsSpace(src[i-1]) {
			out = append(out, i)
		}
	}
	return out
}
