package wake

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dotsetgreg/wakegate/pkg/config"
	"github.com/dotsetgreg/wakegate/pkg/sentiment"
	"github.com/dotsetgreg/wakegate/pkg/similarity"
	"github.com/dotsetgreg/wakegate/pkg/state"
	"github.com/dotsetgreg/wakegate/pkg/topics"
)

type stubSentiment struct {
	ask, bored, shut, insult float64
}

func (s stubSentiment) Ask(string) float64    { return s.ask }
func (s stubSentiment) Bored(string) float64  { return s.bored }
func (s stubSentiment) Shut(string) float64   { return s.shut }
func (s stubSentiment) Insult(string) float64 { return s.insult }

type stubHistory struct {
	msgs []string
	err  error
}

func (h stubHistory) Recent(context.Context, string, string, int) ([]string, error) {
	return h.msgs, h.err
}

type stubResponder struct {
	reply  string
	err    error
	prompt string
	calls  int
}

func (r *stubResponder) Complete(_ context.Context, _, prompt string) (string, error) {
	r.calls++
	r.prompt = prompt
	return r.reply, r.err
}

type harness struct {
	eval *Evaluator
	now  time.Time
}

func newHarness(cfg config.EngineConfig, sent sentiment.Scorer) *harness {
	return newHarnessFull(cfg, sent, nil, nil)
}

func newHarnessFull(cfg config.EngineConfig, sent sentiment.Scorer, hist History, resp Responder) *harness {
	persona := config.PersonaConfig{
		EmptyMentionPrompt: "{username} pinged you, say something",
	}
	h := &harness{now: time.Unix(1700000000, 0)}
	h.eval = NewEvaluator(cfg, persona, Deps{
		Store:      state.NewStore(),
		Similarity: similarity.NewScorer(topics.NewCache(0)),
		Sentiment:  sent,
		History:    hist,
		Responder:  resp,
	})
	h.eval.Now = func() time.Time { return h.now }
	h.eval.Rand = func() float64 { return 1 } // probabilistic wake off unless a test overrides
	return h
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func event(id, uid, text string) Event {
	return Event{ID: id, SenderID: uid, GroupID: "g1", BotID: "bot", SenderName: "user-" + uid, Text: text}
}

func TestEvaluate_AllMechanismsDisabled_OnlyExplicitWakes(t *testing.T) {
	h := newHarness(config.EngineConfig{}, stubSentiment{ask: 1, bored: 1, insult: 1, shut: 1})

	d := h.eval.Evaluate(context.Background(), event("1", "u1", "is anyone around? so bored"))
	if d.Outcome != OutcomeSilent {
		t.Fatalf("outcome = %v, want silent when every threshold is zero", d.Outcome)
	}

	ev := event("2", "u1", "hey")
	ev.AtOrCommand = true
	d = h.eval.Evaluate(context.Background(), ev)
	if d.Outcome != OutcomeWake || d.Reason != ReasonAtOrCommand {
		t.Fatalf("explicit wake: outcome=%v reason=%q", d.Outcome, d.Reason)
	}
}

func TestEvaluate_SelfAndAllowlistGating(t *testing.T) {
	h := newHarness(config.EngineConfig{GroupAllowlist: []string{"other-group"}}, stubSentiment{})

	self := Event{ID: "1", SenderID: "bot", GroupID: "g1", BotID: "bot", Text: "echo"}
	d := h.eval.Evaluate(context.Background(), self)
	if d.Outcome != OutcomeSilent || d.Suppress {
		t.Fatalf("self message: outcome=%v suppress=%v", d.Outcome, d.Suppress)
	}

	d = h.eval.Evaluate(context.Background(), event("2", "u1", "hello"))
	if d.Outcome != OutcomeSilent || d.Suppress || d.Reason != ReasonGroupNotAllow {
		t.Fatalf("non-allowlisted group must pass through untouched: %+v", d)
	}
}

func TestEvaluate_DenylistSuppressesWithoutStateMutation(t *testing.T) {
	h := newHarness(config.EngineConfig{UserDenylist: []string{"troll"}}, stubSentiment{})

	d := h.eval.Evaluate(context.Background(), event("1", "troll", "hi"))
	if d.Outcome != OutcomeSilent || !d.Suppress || d.Reason != ReasonDenylist {
		t.Fatalf("denylist decision: %+v", d)
	}
	if h.eval.Store().GroupCount() != 0 {
		t.Fatal("denylist gating must not lazily create state")
	}
}

func TestEvaluate_SilencedMemberSuppressedStateUnchanged(t *testing.T) {
	h := newHarness(config.EngineConfig{AskWakeThreshold: 0.3}, stubSentiment{ask: 0.9})

	m := h.eval.Store().Group("g1").Member("u1")
	until := h.now.Add(100 * time.Second)
	m.Mu.Lock()
	m.SilenceUntil = until
	m.Mu.Unlock()

	d := h.eval.Evaluate(context.Background(), event("1", "u1", "what is this?"))
	if d.Outcome != OutcomeSilent || !d.Suppress || d.Reason != ReasonSilenced {
		t.Fatalf("silenced member decision: %+v", d)
	}

	m.Mu.Lock()
	defer m.Mu.Unlock()
	if !m.SilenceUntil.Equal(until) || !m.LastWakeAt.IsZero() {
		t.Fatal("suppression must not mutate member state")
	}
}

func TestEvaluate_AskWakeUpdatesLastWake(t *testing.T) {
	h := newHarness(config.EngineConfig{AskWakeThreshold: 0.3}, stubSentiment{ask: 0.5})

	d := h.eval.Evaluate(context.Background(), event("1", "u1", "what does this error mean"))
	if d.Outcome != OutcomeWake || d.Reason != ReasonAskWake {
		t.Fatalf("ask wake decision: %+v", d)
	}

	m := h.eval.Store().Group("g1").Member("u1")
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if !m.LastWakeAt.Equal(h.now) {
		t.Fatalf("lastWakeAt = %v, want %v", m.LastWakeAt, h.now)
	}
}

func TestEvaluate_MentionWake(t *testing.T) {
	h := newHarness(config.EngineConfig{MentionNames: []string{"morph", "bot"}}, stubSentiment{})

	d := h.eval.Evaluate(context.Background(), event("1", "u1", "hey morph, you up?"))
	if d.Outcome != OutcomeWake || d.Reason != "mention(morph)" {
		t.Fatalf("mention wake decision: %+v", d)
	}
}

func TestEvaluate_WakeExtendWindow(t *testing.T) {
	h := newHarness(config.EngineConfig{WakeExtendSec: 20, MentionNames: []string{"bot"}}, stubSentiment{})

	d := h.eval.Evaluate(context.Background(), event("1", "u1", "bot hello"))
	if d.Outcome != OutcomeWake {
		t.Fatalf("seed wake failed: %+v", d)
	}

	h.advance(10 * time.Second)
	d = h.eval.Evaluate(context.Background(), event("2", "u1", "and another thing"))
	if d.Outcome != OutcomeWake || d.Reason != ReasonWakeExtend {
		t.Fatalf("wake-extend decision: %+v", d)
	}

	h.advance(30 * time.Second)
	d = h.eval.Evaluate(context.Background(), event("3", "u1", "late follow-up"))
	if d.Outcome != OutcomeSilent {
		t.Fatalf("expired window should not wake: %+v", d)
	}
}

func TestEvaluate_WakeCooldownSuppresses(t *testing.T) {
	h := newHarness(config.EngineConfig{WakeCooldownSec: 5, MentionNames: []string{"bot"}}, stubSentiment{})

	if d := h.eval.Evaluate(context.Background(), event("1", "u1", "bot hi")); d.Outcome != OutcomeWake {
		t.Fatalf("seed wake failed: %+v", d)
	}

	h.advance(2 * time.Second)
	d := h.eval.Evaluate(context.Background(), event("2", "u1", "bot again"))
	if d.Outcome != OutcomeSilent || !d.Suppress || d.Reason != ReasonCooldown {
		t.Fatalf("cooldown decision: %+v", d)
	}
}

func TestEvaluate_ForbiddenWordAndBuiltinGating(t *testing.T) {
	cfg := config.EngineConfig{
		ForbiddenWords:  []string{"nsfw"},
		BlockBuiltin:    true,
		BuiltinCommands: []string{"dashboard_update"},
		MentionNames:    []string{"bot"},
	}
	h := newHarness(cfg, stubSentiment{})

	d := h.eval.Evaluate(context.Background(), event("1", "u1", "bot some nsfw thing"))
	if d.Reason != ReasonForbiddenWord || !d.Suppress {
		t.Fatalf("forbidden word decision: %+v", d)
	}

	d = h.eval.Evaluate(context.Background(), event("2", "u1", "bot dashboard_update now"))
	if d.Reason != ReasonBuiltinCmd || !d.Suppress {
		t.Fatalf("builtin command decision: %+v", d)
	}
}

func TestEvaluate_PendingMergeBatchesRapidMessages(t *testing.T) {
	cfg := config.EngineConfig{MentionNames: []string{"bot"}, PendWindowSec: 8, WakeExtendSec: 30}
	h := newHarness(cfg, stubSentiment{})

	if d := h.eval.Evaluate(context.Background(), event("seed", "u1", "bot hi")); d.Outcome != OutcomeWake {
		t.Fatalf("seed wake failed: %+v", d)
	}

	h.advance(time.Second)
	d1 := h.eval.Evaluate(context.Background(), event("m1", "u1", "so about that deploy"))
	h.advance(time.Second)
	d2 := h.eval.Evaluate(context.Background(), event("m2", "u1", "it failed twice"))
	h.advance(time.Second)
	d3 := h.eval.Evaluate(context.Background(), event("m3", "u1", "any ideas"))

	if len(d1.Superseded) != 0 {
		t.Fatalf("first buffered message should supersede nothing: %v", d1.Superseded)
	}
	if len(d2.Superseded) != 1 || d2.Superseded[0] != "m1" {
		t.Fatalf("second merge superseded = %v, want [m1]", d2.Superseded)
	}
	if len(d3.Superseded) != 2 || d3.Superseded[0] != "m1" || d3.Superseded[1] != "m2" {
		t.Fatalf("third merge superseded = %v, want [m1 m2]", d3.Superseded)
	}

	want := "so about that deploy it failed twice any ideas"
	if d3.Text != want {
		t.Fatalf("merged text = %q, want %q (oldest to newest)", d3.Text, want)
	}
	if d3.Outcome != OutcomeWake {
		t.Fatalf("merged evaluation should wake via extension: %+v", d3)
	}
}

func TestEvaluate_ClearPendingAfterDelivery(t *testing.T) {
	cfg := config.EngineConfig{MentionNames: []string{"bot"}, PendWindowSec: 8}
	h := newHarness(cfg, stubSentiment{})

	h.eval.Evaluate(context.Background(), event("seed", "u1", "bot hi"))
	h.advance(time.Second)
	h.eval.Evaluate(context.Background(), event("m1", "u1", "follow-up"))

	m := h.eval.Store().Group("g1").Member("u1")
	m.ClearPending()

	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Pending) != 0 {
		t.Fatalf("pending length = %d after clear", len(m.Pending))
	}
}

func TestEvaluate_EmptyMentionCannedReplySkipsCascade(t *testing.T) {
	resp := &stubResponder{reply: "Yes?"}
	// Ask would fire if the cascade ran; the canned path must win first.
	h := newHarnessFull(config.EngineConfig{AskWakeThreshold: 0.1}, stubSentiment{ask: 1}, nil, resp)

	ev := event("1", "u1", "")
	ev.EmptyMention = true
	d := h.eval.Evaluate(context.Background(), ev)

	if d.Outcome != OutcomeCanned || d.Reply != "Yes?" || !d.Suppress {
		t.Fatalf("canned decision: %+v", d)
	}
	if d.Reason != ReasonEmptyMention {
		t.Fatalf("reason = %q", d.Reason)
	}
	if !strings.Contains(resp.prompt, "user-u1") {
		t.Fatalf("prompt template not filled: %q", resp.prompt)
	}
}

func TestEvaluate_EmptyMentionFailureFallsThrough(t *testing.T) {
	resp := &stubResponder{err: errors.New("provider down")}
	h := newHarnessFull(config.EngineConfig{AskWakeThreshold: 0.1}, stubSentiment{ask: 1}, nil, resp)

	ev := event("1", "u1", "")
	ev.EmptyMention = true
	d := h.eval.Evaluate(context.Background(), ev)

	if resp.calls != 1 {
		t.Fatalf("responder calls = %d, want 1", resp.calls)
	}
	if d.Outcome != OutcomeWake || d.Reason != ReasonAskWake {
		t.Fatalf("fallback decision: %+v", d)
	}
}

func TestEvaluate_RelevantWakeOnNearIdenticalHistory(t *testing.T) {
	hist := stubHistory{msgs: []string{"the server deploy failed again tonight"}}
	h := newHarnessFull(config.EngineConfig{RelevantWakeThreshold: 0.8, HistoryDepth: 5}, stubSentiment{}, hist, nil)

	d := h.eval.Evaluate(context.Background(), event("1", "u1", "the server deploy failed again tonight"))
	if d.Outcome != OutcomeWake || !strings.HasPrefix(d.Reason, "relevant(") {
		t.Fatalf("relevant wake decision: %+v", d)
	}
}

func TestEvaluate_HistoryErrorFailsSoft(t *testing.T) {
	hist := stubHistory{err: errors.New("timeout")}
	h := newHarnessFull(config.EngineConfig{RelevantWakeThreshold: 0.8, AskWakeThreshold: 0.3}, stubSentiment{ask: 0.5}, hist, nil)

	d := h.eval.Evaluate(context.Background(), event("1", "u1", "what does this mean"))
	if d.Outcome != OutcomeWake || d.Reason != ReasonAskWake {
		t.Fatalf("cascade should continue past history failure: %+v", d)
	}
}

func TestEvaluate_ProbabilisticWake(t *testing.T) {
	h := newHarness(config.EngineConfig{ProbWakeThreshold: 0.1}, stubSentiment{})
	h.eval.Rand = func() float64 { return 0.05 }

	d := h.eval.Evaluate(context.Background(), event("1", "u1", "random chatter"))
	if d.Outcome != OutcomeWake || d.Reason != ReasonProbWake {
		t.Fatalf("probabilistic wake decision: %+v", d)
	}

	h.eval.Rand = func() float64 { return 0.95 }
	h.advance(time.Hour)
	d = h.eval.Evaluate(context.Background(), event("2", "u2", "more chatter"))
	if d.Outcome != OutcomeSilent {
		t.Fatalf("draw above threshold should not wake: %+v", d)
	}
}

func TestEvaluate_ShutupOverridesWake(t *testing.T) {
	cfg := config.EngineConfig{MentionNames: []string{"bot"}, ShutupThreshold: 0.5, SultMultiple: 60}
	h := newHarness(cfg, stubSentiment{shut: 0.8})

	d := h.eval.Evaluate(context.Background(), event("1", "u1", "bot shut up"))
	if d.Outcome != OutcomeSilent || !d.Suppress {
		t.Fatalf("shutup must override wake: %+v", d)
	}

	g := h.eval.Store().Group("g1")
	wantUntil := h.now.Add(time.Duration(0.8 * 60 * float64(time.Second)))
	if !g.ShutupUntil().Equal(wantUntil) {
		t.Fatalf("shutupUntil = %v, want %v", g.ShutupUntil(), wantUntil)
	}

	// Everyone in the group is now suppressed.
	h.advance(10 * time.Second)
	d = h.eval.Evaluate(context.Background(), event("2", "u2", "bot hello?"))
	if d.Reason != ReasonShutup || !d.Suppress {
		t.Fatalf("group-wide suppression: %+v", d)
	}
}

func TestEvaluate_InsultMutesButAllowsRetort(t *testing.T) {
	cfg := config.EngineConfig{MentionNames: []string{"bot"}, InsultThreshold: 0.5, SultMultiple: 60}
	h := newHarness(cfg, stubSentiment{insult: 0.9})

	d := h.eval.Evaluate(context.Background(), event("1", "u1", "bot you are useless"))
	if d.Outcome != OutcomeWake {
		t.Fatalf("current turn must survive for the retort: %+v", d)
	}

	m := h.eval.Store().Group("g1").Member("u1")
	m.Mu.Lock()
	muted := m.SilenceUntil.After(h.now)
	m.Mu.Unlock()
	if !muted {
		t.Fatal("member should be muted going forward")
	}

	h.advance(10 * time.Second)
	d = h.eval.Evaluate(context.Background(), event("2", "u1", "bot still there?"))
	if d.Reason != ReasonSilenced || !d.Suppress {
		t.Fatalf("subsequent message should be suppressed: %+v", d)
	}
}

func TestEvaluate_AIMuteSuppressesCurrentTurn(t *testing.T) {
	cfg := config.EngineConfig{MentionNames: []string{"bot"}, AIThreshold: 0.5, SilenceMultiple: 120}
	h := newHarness(cfg, stubSentiment{insult: 0.8})

	d := h.eval.Evaluate(context.Background(), event("1", "u1", "bot whatever"))
	if d.Outcome != OutcomeSilent || !d.Suppress {
		t.Fatalf("ai mute must suppress the current turn: %+v", d)
	}

	m := h.eval.Store().Group("g1").Member("u1")
	m.Mu.Lock()
	defer m.Mu.Unlock()
	want := h.now.Add(time.Duration(0.8 * 120 * float64(time.Second)))
	if !m.SilenceUntil.Equal(want) {
		t.Fatalf("silenceUntil = %v, want %v", m.SilenceUntil, want)
	}
}

func TestEvaluate_MuteDurationMonotonicInScore(t *testing.T) {
	cfg := config.EngineConfig{InsultThreshold: 0.3, SultMultiple: 60}

	durationFor := func(score float64) time.Duration {
		h := newHarness(cfg, stubSentiment{insult: score})
		h.eval.Evaluate(context.Background(), event("1", "u1", "rude message"))
		m := h.eval.Store().Group("g1").Member("u1")
		m.Mu.Lock()
		defer m.Mu.Unlock()
		return m.SilenceUntil.Sub(h.now)
	}

	if durationFor(0.9) <= durationFor(0.5) {
		t.Fatal("higher insult score must yield a mute at least as long")
	}
}
