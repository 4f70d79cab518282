package sentiment

import "strings"

// Scorer is the contract the wake evaluator consumes: four independent
// non-negative signals for one message, each compared against a configured
// threshold upstream. Higher means a stronger signal. Scores also drive
// mute durations (score x multiplier seconds), so implementations should
// keep them roughly in the 0..1 range but no upper bound is enforced.
type Scorer interface {
	Ask(text string) float64
	Bored(text string) float64
	Shut(text string) float64
	Insult(text string) float64
}

// cue is one weighted lexical pattern.
type cue struct {
	pattern string
	weight  float64
}

// LexiconScorer is the built-in Scorer: substring/suffix cues with additive
// weights, capped at 1. Good enough to run the gateway standalone; swap in
// a model-backed Scorer for anything serious.
type LexiconScorer struct {
	ask    []cue
	bored  []cue
	shut   []cue
	insult []cue
}

func NewLexiconScorer() *LexiconScorer {
	return &LexiconScorer{
		ask: []cue{
			{"?", 0.35}, {"？", 0.35},
			{"how do", 0.4}, {"how to", 0.4}, {"what does", 0.4},
			{"what is", 0.35}, {"why", 0.3}, {"anyone know", 0.45},
			{"help", 0.3}, {"mean", 0.2}, {"error", 0.25},
			{"怎么", 0.4}, {"为什么", 0.4}, {"什么意思", 0.45}, {"求助", 0.45},
		},
		bored: []cue{
			{"bored", 0.5}, {"boring", 0.5}, {"so quiet", 0.4},
			{"anyone here", 0.4}, {"dead chat", 0.6}, {"nothing to do", 0.4},
			{"无聊", 0.5}, {"好安静", 0.4}, {"没人吗", 0.5},
		},
		shut: []cue{
			{"shut up", 0.8}, {"be quiet", 0.6}, {"stop talking", 0.7},
			{"nobody asked", 0.5}, {"go away", 0.5},
			{"闭嘴", 0.8}, {"别说话", 0.6}, {"安静点", 0.5}, {"滚", 0.5},
		},
		insult: []cue{
			{"stupid", 0.5}, {"idiot", 0.6}, {"dumb", 0.45}, {"useless", 0.5},
			{"trash", 0.5}, {"garbage", 0.5}, {"shut your", 0.5},
			{"傻", 0.5}, {"废物", 0.6}, {"垃圾", 0.5}, {"滚蛋", 0.6},
		},
	}
}

func score(text string, cues []cue) float64 {
	if text == "" {
		return 0
	}
	lowered := strings.ToLower(text)

	var total float64
	for _, c := range cues {
		if strings.Contains(lowered, c.pattern) {
			total += c.weight
		}
	}
	if total > 1 {
		total = 1
	}
	return total
}

func (s *LexiconScorer) Ask(text string) float64    { return score(text, s.ask) }
func (s *LexiconScorer) Bored(text string) float64  { return score(text, s.bored) }
func (s *LexiconScorer) Shut(text string) float64   { return score(text, s.shut) }
func (s *LexiconScorer) Insult(text string) float64 { return score(text, s.insult) }
