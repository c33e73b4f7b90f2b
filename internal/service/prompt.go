package service

import (
	"fmt"
	"strings"

	"github.com/cloo-solutions/ragquery/internal/domain"
)

// groundingInstructions keep the model closed-book: every claim must come
// from a numbered source and carry its label.
const groundingInstructions = `You answer questions strictly from the numbered sources in the user's message.

Rules:
- Use only facts stated in the sources. Do not add outside knowledge, assumptions or estimates.
- Cite every claim with the label of the source it comes from, for example [Source 1]. A sentence drawing on several sources cites each of them.
- If the sources do not contain the answer, say that the documents do not cover the question instead of guessing.
- Quote figures exactly as they appear in the sources.
- Answer concisely in plain prose.`

// Prompt is the system and user message pair sent to the language model.
type Prompt struct {
	System string
	User   string
}

// SourceLabel is the citation label of the n-th source, counting from 1.
func SourceLabel(n int) string {
	return fmt.Sprintf("Source %d", n)
}

// BuildPrompt enumerates the chunks as labelled sources with title,
// position and relevance, followed by the question.
func BuildPrompt(question string, chunks []domain.RetrievalCandidate) Prompt {
	var b strings.Builder
	b.WriteString("Sources:\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "\n[%s] %s (%s) relevance %d%%\n", SourceLabel(i+1), displayTitle(c.DocumentTitle), position(c), relevancePercent(c.Similarity))
		b.WriteString(strings.TrimSpace(c.Content))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n", strings.TrimSpace(question))
	b.WriteString("\nAnswer using only the sources above and cite them by label.")

	return Prompt{System: groundingInstructions, User: b.String()}
}

func displayTitle(title string) string {
	if strings.TrimSpace(title) == "" {
		return "Untitled document"
	}
	return title
}

func position(c domain.RetrievalCandidate) string {
	if c.PageNo != nil {
		return fmt.Sprintf("page %d", *c.PageNo)
	}
	return fmt.Sprintf("chunk %d", c.ChunkIndex+1)
}

func relevancePercent(similarity float64) int {
	pct := int(similarity*100 + 0.5)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
