package service

import (
	"strings"
	"testing"

	"github.com/cloo-solutions/ragquery/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestBuildPrompt(t *testing.T) {
	page := 3
	chunks := []domain.RetrievalCandidate{
		{ChunkIndex: 0, DocumentTitle: "Q4 report", Content: "Company X revenue grew 20% in Q4.", Similarity: 0.873, PageNo: &page},
		{ChunkIndex: 4, DocumentTitle: "", Content: "  Risks include supply chain delays.\n", Similarity: 0.41},
	}

	p := BuildPrompt(" What were the Q4 results? ", chunks)

	assert.Contains(t, p.System, "Cite every claim")
	assert.Contains(t, p.System, "Do not add outside knowledge")
	assert.Contains(t, p.User, "[Source 1] Q4 report (page 3) relevance 87%\nCompany X revenue grew 20% in Q4.\n")
	assert.Contains(t, p.User, "[Source 2] Untitled document (chunk 5) relevance 41%\nRisks include supply chain delays.\n")
	assert.Contains(t, p.User, "Question: What were the Q4 results?\n")
	assert.Less(t, strings.Index(p.User, "[Source 1]"), strings.Index(p.User, "[Source 2]"))
}

func TestRelevancePercent(t *testing.T) {
	assert.Equal(t, 0, relevancePercent(-0.2))
	assert.Equal(t, 50, relevancePercent(0.5))
	assert.Equal(t, 100, relevancePercent(1.3))
}

func TestSourceLabel(t *testing.T) {
	assert.Equal(t, "Source 1", SourceLabel(1))
	assert.Equal(t, "Source 12", SourceLabel(12))
}
