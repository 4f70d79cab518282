package topics

import (
	"math"
	"testing"
)

func TestObserve_FiltersNonSalientTokens(t *testing.T) {
	c := NewCache(0)
	c.Observe([]string{"the", "x", "42", "kubernetes", "dead-line"})

	if w := c.WeightOf("kubernetes"); w <= 0 {
		t.Fatalf("expected positive weight for kubernetes, got %v", w)
	}
	for _, tok := range []string{"the", "x", "42", "dead-line"} {
		if w := c.WeightOf(tok); w != 0 {
			t.Errorf("token %q should not be cached, weight %v", tok, w)
		}
	}
}

func TestObserve_EvictsOldestBeyondCapacity(t *testing.T) {
	c := NewCache(3)
	c.Observe([]string{"alpha", "bravo", "charlie", "delta"})

	if got := len(c.fifo); got != 3 {
		t.Fatalf("fifo length = %d, want 3", got)
	}
	if c.fifo[0] != "bravo" {
		t.Errorf("oldest surviving entry = %q, want bravo", c.fifo[0])
	}
}

func TestObserve_WeightFormula(t *testing.T) {
	c := NewCache(0)
	c.Observe([]string{"deploy", "deploy"})

	want := 2.0 * (1.0 + math.Log(6))
	if got := c.WeightOf("deploy"); math.Abs(got-want) > 1e-9 {
		t.Fatalf("weight = %v, want %v", got, want)
	}
}

func TestObserve_DecayNeverResetsAbruptly(t *testing.T) {
	c := NewCache(2)
	c.Observe([]string{"deploy", "deploy"})
	peak := c.WeightOf("deploy")

	// Push deploy fully out of the FIFO; its weight entry must survive
	// untouched since decay only applies to tokens still in the window.
	c.Observe([]string{"rollback", "incident"})
	if got := c.WeightOf("deploy"); got != peak {
		t.Fatalf("off-window weight changed: got %v, want %v", got, peak)
	}

	// One occurrence among fresh observations: decayed peak beats the
	// single-count refresh, so max() keeps the decayed value.
	c.Observe([]string{"deploy"})
	want := peak * decayFactor
	single := 1.0 * (1.0 + math.Log(6))
	if want < single {
		want = single
	}
	if got := c.WeightOf("deploy"); math.Abs(got-want) > 1e-9 {
		t.Fatalf("decayed weight = %v, want %v", got, want)
	}
}

func TestTopTopics_OrderedByWeight(t *testing.T) {
	c := NewCache(0)
	c.Observe([]string{"deploy", "deploy", "deploy", "rollback", "rollback", "incident"})

	top := c.TopTopics(2)
	if len(top) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(top))
	}
	if top[0].Token != "deploy" {
		t.Errorf("top topic = %q, want deploy", top[0].Token)
	}
	if top[0].Weight < top[1].Weight {
		t.Errorf("topics not sorted: %v", top)
	}
}

func TestReset(t *testing.T) {
	c := NewCache(0)
	c.Observe([]string{"deploy"})
	c.Reset()

	if w := c.WeightOf("deploy"); w != 0 {
		t.Fatalf("weight after reset = %v, want 0", w)
	}
	if len(c.TopTopics(0)) != 0 {
		t.Fatal("topics after reset should be empty")
	}
}
