package topics

import (
	"math"
	"sort"
	"sync"
	"unicode"
)

const (
	// DefaultCapacity bounds the recent-token FIFO.
	DefaultCapacity = 20
	decayFactor     = 0.95
)

// Topic is one entry of a TopTopics listing.
type Topic struct {
	Token  string
	Weight float64
}

// Cache is the process-wide recent-topic store: a bounded FIFO of salient
// tokens plus a decayed weight table. It is shared across all groups on
// purpose; topic salience is global. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	fifo     []string
	weights  map[string]float64
}

func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		weights:  make(map[string]float64),
	}
}

// salient reports whether a token is worth caching: a real multi-character
// lexical item, not punctuation, digits or a single character.
func salient(token string) bool {
	if IsStopword(token) {
		return false
	}
	runes := []rune(token)
	if len(runes) <= 1 {
		return false
	}
	for _, r := range runes {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// Observe ingests tokens extracted from one message, evicting the oldest
// FIFO entries on overflow, then refreshes the weight table: a token's
// weight decays multiplicatively but is re-boosted by renewed frequency,
// with longer tokens getting a logarithmic bonus.
func (c *Cache) Observe(tokens []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tok := range tokens {
		if !salient(tok) {
			continue
		}
		c.fifo = append(c.fifo, tok)
		if len(c.fifo) > c.capacity {
			c.fifo = c.fifo[len(c.fifo)-c.capacity:]
		}
	}

	freq := make(map[string]int, len(c.fifo))
	for _, tok := range c.fifo {
		freq[tok]++
	}

	for tok, count := range freq {
		decayed := c.weights[tok] * decayFactor
		current := float64(count) * (1.0 + math.Log(float64(len([]rune(tok)))))
		c.weights[tok] = math.Max(decayed, current)
	}
}

// WeightOf returns the current weight of a token, 0 for unseen tokens.
func (c *Cache) WeightOf(token string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.weights[token]
}

// TopTopics returns up to n topics ordered by descending weight. Tie order
// is unspecified.
func (c *Cache) TopTopics(n int) []Topic {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := make([]Topic, 0, len(c.weights))
	for tok, w := range c.weights {
		all = append(all, Topic{Token: tok, Weight: w})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Weight > all[j].Weight })

	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// Reset clears the FIFO and weight table. Intended for tests.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fifo = nil
	c.weights = make(map[string]float64)
}
