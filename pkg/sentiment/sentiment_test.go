package sentiment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLexiconScorer_Signals(t *testing.T) {
	s := NewLexiconScorer()

	testcases := []struct {
		name   string
		text   string
		signal func(string) float64
		min    float64
		max    float64
	}{
		{"ask-question", "what does this error mean?", s.Ask, 0.5, 1},
		{"ask-plain-statement", "deployed the fix", s.Ask, 0, 0},
		{"bored-dead-chat", "dead chat today", s.Bored, 0.5, 1},
		{"shut-direct", "shut up already", s.Shut, 0.7, 1},
		{"insult-direct", "you useless trash bot", s.Insult, 0.7, 1},
		{"insult-clean", "thanks for the summary", s.Insult, 0, 0},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.signal(tc.text)
			assert.GreaterOrEqual(t, got, tc.min)
			assert.LessOrEqual(t, got, tc.max)
		})
	}
}

func TestLexiconScorer_NonNegativeAndCapped(t *testing.T) {
	s := NewLexiconScorer()
	pile := "stupid idiot dumb useless trash garbage"

	got := s.Insult(pile)
	assert.LessOrEqual(t, got, 1.0)
	assert.GreaterOrEqual(t, s.Ask(""), 0.0)
	assert.GreaterOrEqual(t, s.Bored(""), 0.0)
	assert.GreaterOrEqual(t, s.Shut(""), 0.0)
	assert.GreaterOrEqual(t, s.Insult(""), 0.0)
}
