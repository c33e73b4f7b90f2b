// Package rerank reorders an over-fetched candidate set by hybrid lexical and
// vector relevance, then picks a diverse top-k with Maximal Marginal
// Relevance.
package rerank

import (
	"math"
	"strings"
)

// Weights are the tunable constants of the hybrid score.
type Weights struct {
	// Vector and Lexical weight vector similarity and lexical overlap in the
	// combined relevance.
	Vector  float64
	Lexical float64
	// Diversity trades relevance for novelty during selection. Zero yields
	// plain relevance order.
	Diversity float64
}

// DefaultWeights favours semantic similarity 70/30 with a light diversity
// penalty.
func DefaultWeights() Weights {
	return Weights{
		Vector:    0.7,
		Lexical:   0.3,
		Diversity: 0.2,
	}
}

// MinTermLength is the shortest question term that counts toward the
// lexical score.
const MinTermLength = 3

// Candidate is one retrieved passage.
type Candidate struct {
	ID         string
	Text       string
	Similarity float64
	Meta       map[string]any
}

// Scored is a selected candidate with its score breakdown. Final is the MMR
// score at the moment the candidate was picked.
type Scored struct {
	Candidate
	Lexical   float64
	Relevance float64
	Final     float64
}

// Terms splits a question into lowercase terms longer than two characters.
func Terms(question string) []string {
	var out []string
	for _, f := range strings.Fields(strings.ToLower(question)) {
		if len([]rune(f)) >= MinTermLength {
			out = append(out, f)
		}
	}
	return out
}

// LexicalScore counts case-insensitive occurrences of each question term in
// text. Every hit adds 1+ln(1+len/5) and the sum is divided by the number of
// question terms.
func LexicalScore(question, text string) float64 {
	return lexicalScore(Terms(question), strings.ToLower(text))
}

func lexicalScore(terms []string, lowered string) float64 {
	if lowered == "" {
		return 0
	}
	var sum float64
	for _, term := range terms {
		hits := strings.Count(lowered, term)
		if hits == 0 {
			continue
		}
		weight := 1 + math.Log(1+float64(len([]rune(term)))/5)
		sum += float64(hits) * weight
	}
	return sum / math.Max(float64(len(terms)), 1)
}

// Relevance combines vector similarity with a lexical score.
func (w Weights) Relevance(similarity, lexical float64) float64 {
	return w.Vector*similarity + w.Lexical*lexical
}

// Jaccard is the overlap of the lowercase whitespace-separated word sets of
// a and b. Two empty texts are identical.
func Jaccard(a, b string) float64 {
	return jaccard(wordSet(a), wordSet(b))
}

func wordSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for w := range small {
		if _, ok := large[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Rerank selects at most k candidates. Each round picks the remaining
// candidate maximising
//
//	relevance*(1-d) + (1-0.5*maxJaccard(selected))*d
//
// where d is w.Diversity. Ties go to the earlier candidate, so the output is
// deterministic for a fixed input order.
func Rerank(question string, candidates []Candidate, k int, w Weights) []Scored {
	if k <= 0 || len(candidates) == 0 {
		return []Scored{}
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	terms := Terms(question)
	pool := make([]Scored, len(candidates))
	sets := make([]map[string]struct{}, len(candidates))
	for i, c := range candidates {
		lowered := strings.ToLower(c.Text)
		lex := lexicalScore(terms, lowered)
		pool[i] = Scored{
			Candidate: c,
			Lexical:   lex,
			Relevance: w.Relevance(c.Similarity, lex),
		}
		sets[i] = wordSet(lowered)
	}

	// maxSim[i] is the highest Jaccard similarity between candidate i and
	// any selected candidate so far.
	maxSim := make([]float64, len(candidates))
	taken := make([]bool, len(candidates))
	out := make([]Scored, 0, k)

	for len(out) < k {
		best := -1
		bestScore := math.Inf(-1)
		for i := range pool {
			if taken[i] {
				continue
			}
			diversity := 1.0
			if len(out) > 0 {
				diversity = 1 - 0.5*maxSim[i]
			}
			score := pool[i].Relevance*(1-w.Diversity) + diversity*w.Diversity
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}

		taken[best] = true
		picked := pool[best]
		picked.Final = bestScore
		out = append(out, picked)

		for i := range pool {
			if taken[i] {
				continue
			}
			if sim := jaccard(sets[i], sets[best]); sim > maxSim[i] {
				maxSim[i] = sim
			}
		}
	}
	return out
}
