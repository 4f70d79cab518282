package similarity

import (
	"math"
	"strings"
	"unicode"

	"github.com/dotsetgreg/wakegate/pkg/topics"
)

// Scorer computes an adaptive topic-relevance score between two texts.
// Every call feeds the extracted tokens back into the shared topic cache,
// so scoring is stateful: terms the group keeps talking about weigh more.
type Scorer struct {
	cache *topics.Cache
}

func NewScorer(cache *topics.Cache) *Scorer {
	return &Scorer{cache: cache}
}

// Score returns a relevance score in (0,1). Raw cosine similarity is passed
// through sigmoid(8*(raw-0.6)) so values below a raw cosine of about 0.6
// decay toward 0 and values above saturate toward 1.
func (s *Scorer) Score(a, b string) float64 {
	v1 := s.vector(a)
	v2 := s.vector(b)

	var dot float64
	for term, w1 := range v1 {
		w2, shared := v2[term]
		if !shared {
			continue
		}
		// Co-occurring terms get an extra boost proportional to how
		// topically hot the term currently is.
		dot += w1 * w2 * (2.0 + s.cache.WeightOf(term))
	}

	var n1, n2 float64
	for _, w := range v1 {
		n1 += w * w
	}
	for _, w := range v2 {
		n2 += w * w
	}
	denom := math.Sqrt(n1)*math.Sqrt(n2) + 1e-8

	raw := dot / denom
	return 1.0 / (1.0 + math.Exp(-8.0*(raw-0.6)))
}

// vector tokenizes text and builds an L1-normalized weighted term vector:
// unigrams carry 1 + topic weight, adjacent bigrams a flat 1.5.
func (s *Scorer) vector(text string) map[string]float64 {
	words := s.extract(text)

	tf := make(map[string]float64, len(words)*2)
	for _, w := range words {
		tf[w] += 1.0 + s.cache.WeightOf(w)
	}
	for i := 0; i+1 < len(words); i++ {
		tf[words[i]+words[i+1]] += 1.5
	}

	var total float64
	for _, v := range tf {
		total += v
	}
	if total < 1 {
		total = 1
	}
	for k, v := range tf {
		tf[k] = v / total
	}
	return tf
}

// extract tokenizes, drops stopwords, merges split-up numbers and names,
// and records the result in the topic cache as a side effect.
func (s *Scorer) extract(text string) []string {
	words := tokenize(text)

	filtered := words[:0]
	for _, w := range words {
		if !topics.IsStopword(w) && !topics.IsStopword(strings.ToLower(w)) {
			filtered = append(filtered, w)
		}
	}

	merged := mergeAdjacent(filtered)
	s.cache.Observe(merged)
	return merged
}

// tokenize strips everything that is neither a word character nor
// whitespace, then splits the rest: contiguous alphanumeric runs become one
// token while ideographic characters are emitted one per rune (the merge
// pass downstream glues split-up names back together).
func tokenize(text string) []string {
	var tokens []string
	var run []rune

	flush := func() {
		if len(run) > 0 {
			tokens = append(tokens, string(run))
			run = run[:0]
		}
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			run = append(run, r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// mergeAdjacent joins adjacent all-digit tokens into one number and pairs
// of adjacent single-character tokens into one lexical item.
func mergeAdjacent(words []string) []string {
	merged := make([]string, 0, len(words))
	for _, w := range words {
		if len(merged) > 0 {
			prev := merged[len(merged)-1]
			prevRunes := []rune(prev)
			if (allDigits(w) && unicode.IsDigit(prevRunes[len(prevRunes)-1])) ||
				(len(prevRunes) == 1 && len([]rune(w)) == 1) {
				merged[len(merged)-1] = prev + w
				continue
			}
		}
		merged = append(merged, w)
	}
	return merged
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
