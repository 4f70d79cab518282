package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dotsetgreg/wakegate/pkg/bus"
	"github.com/dotsetgreg/wakegate/pkg/config"
	"github.com/dotsetgreg/wakegate/pkg/history"
	"github.com/dotsetgreg/wakegate/pkg/providers"
	"github.com/dotsetgreg/wakegate/pkg/sentiment"
	"github.com/dotsetgreg/wakegate/pkg/similarity"
	"github.com/dotsetgreg/wakegate/pkg/state"
	"github.com/dotsetgreg/wakegate/pkg/topics"
	"github.com/dotsetgreg/wakegate/pkg/wake"
)

type fakeProvider struct {
	started chan string
	proceed chan struct{}
}

func (p *fakeProvider) Chat(ctx context.Context, messages []providers.Message, _ string) (string, error) {
	text := messages[len(messages)-1].Content
	if p.started != nil {
		p.started <- text
	}
	if p.proceed != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-p.proceed:
		}
	}
	return "re: " + text, nil
}

type fakeStore struct {
	mu        sync.Mutex
	appends   []history.Turn
	decisions []history.DecisionRecord
}

func (s *fakeStore) Append(_ context.Context, _, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends = append(s.appends, history.Turn{Role: role, Content: content})
	return nil
}

func (s *fakeStore) RecentTurns(context.Context, string, int) ([]history.Turn, error) {
	return nil, nil
}

func (s *fakeStore) RecordDecision(_ context.Context, rec history.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, rec)
	return nil
}

func (s *fakeStore) lastDecision() (history.DecisionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.decisions) == 0 {
		return history.DecisionRecord{}, false
	}
	return s.decisions[len(s.decisions)-1], true
}

func newTestLoop(t *testing.T, engine config.EngineConfig, provider providers.LLMProvider) (*Loop, *bus.MessageBus, *wake.Evaluator, *fakeStore) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Engine = engine

	store := &fakeStore{}
	evaluator := wake.NewEvaluator(cfg.Engine, cfg.Persona, wake.Deps{
		Store:      state.NewStore(),
		Similarity: similarity.NewScorer(topics.NewCache(0)),
		Sentiment:  sentiment.NewLexiconScorer(),
	})

	msgBus := bus.NewMessageBus()
	t.Cleanup(msgBus.Close)

	return NewLoop(cfg, msgBus, evaluator, provider, store), msgBus, evaluator, store
}

func inbound(id, text string) bus.InboundMessage {
	return bus.InboundMessage{
		EventID:  id,
		Channel:  "test",
		SenderID: "u1",
		GroupID:  "g1",
		BotID:    "bot",
		Content:  text,
	}
}

func receiveOutbound(t *testing.T, msgBus *bus.MessageBus, within time.Duration) (bus.OutboundMessage, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	return msgBus.SubscribeOutbound(ctx)
}

func TestHandle_WakeDeliversReply(t *testing.T) {
	loop, msgBus, _, store := newTestLoop(t, config.EngineConfig{MentionNames: []string{"bot"}}, &fakeProvider{})

	msg := inbound("e1", "bot what's the plan")
	loop.Handle(context.Background(), msg)

	out, ok := receiveOutbound(t, msgBus, time.Second)
	if !ok {
		t.Fatal("expected an outbound reply")
	}
	if out.Content != "re: bot what's the plan" || out.ChatID != "g1" || out.InReplyTo != "e1" {
		t.Fatalf("unexpected outbound: %+v", out)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	var roles []string
	for _, a := range store.appends {
		roles = append(roles, a.Role)
	}
	if len(roles) != 2 || roles[0] != "user" || roles[1] != "assistant" {
		t.Fatalf("history roles = %v, want [user assistant]", roles)
	}
}

func TestHandle_SilentDecisionSendsNothing(t *testing.T) {
	loop, msgBus, _, store := newTestLoop(t, config.EngineConfig{}, &fakeProvider{})

	loop.Handle(context.Background(), inbound("e1", "plain chatter"))

	if _, ok := receiveOutbound(t, msgBus, 50*time.Millisecond); ok {
		t.Fatal("silent decision should not publish outbound")
	}
	rec, ok := store.lastDecision()
	if !ok || rec.Outcome != "silent" {
		t.Fatalf("audit record = %+v ok=%v", rec, ok)
	}
}

func TestHandle_AuditRecordsWakeReason(t *testing.T) {
	loop, msgBus, _, store := newTestLoop(t, config.EngineConfig{MentionNames: []string{"bot"}}, &fakeProvider{})

	loop.Handle(context.Background(), inbound("e1", "bot hello"))
	if _, ok := receiveOutbound(t, msgBus, time.Second); !ok {
		t.Fatal("expected outbound")
	}

	rec, ok := store.lastDecision()
	if !ok || rec.Outcome != "wake" || rec.Reason != "mention(bot)" {
		t.Fatalf("audit record = %+v", rec)
	}
}

func TestHandle_SupersededReplyIsCancelled(t *testing.T) {
	provider := &fakeProvider{
		started: make(chan string, 4),
		proceed: make(chan struct{}),
	}
	engine := config.EngineConfig{WakeExtendSec: 60, PendWindowSec: 30}
	loop, msgBus, evaluator, _ := newTestLoop(t, engine, provider)

	// Put the member inside an active pending window.
	m := evaluator.Store().Group("g1").Member("u1")
	now := time.Now()
	m.Mu.Lock()
	m.LastWakeAt = now
	m.PendCdUntil = now.Add(30 * time.Second)
	m.Mu.Unlock()

	done := make(chan struct{})
	go func() {
		loop.Handle(context.Background(), inbound("m1", "first"))
		close(done)
	}()
	if got := <-provider.started; got != "first" {
		t.Fatalf("first provider call text = %q", got)
	}

	// Second rapid message merges with and supersedes the first.
	go loop.Handle(context.Background(), inbound("m2", "second"))
	if got := <-provider.started; got != "first second" {
		t.Fatalf("merged provider call text = %q", got)
	}

	close(provider.proceed)
	<-done

	out, ok := receiveOutbound(t, msgBus, time.Second)
	if !ok {
		t.Fatal("expected the merged reply")
	}
	if out.Content != "re: first second" || out.InReplyTo != "m2" {
		t.Fatalf("unexpected outbound: %+v", out)
	}

	if extra, ok := receiveOutbound(t, msgBus, 50*time.Millisecond); ok {
		t.Fatalf("superseded reply should have been cancelled, got %+v", extra)
	}
}

func TestHandle_AssignsEventID(t *testing.T) {
	loop, msgBus, _, _ := newTestLoop(t, config.EngineConfig{MentionNames: []string{"bot"}}, &fakeProvider{})

	msg := inbound("", "bot hello")
	loop.Handle(context.Background(), msg)

	out, ok := receiveOutbound(t, msgBus, time.Second)
	if !ok {
		t.Fatal("expected outbound")
	}
	if out.InReplyTo == "" {
		t.Fatal("loop should assign an event id when missing")
	}
}

func TestCannedResponder_BuildsPromptContext(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Persona.SystemPrompt = "you are a gatekeeper"
	provider := &fakeProvider{}

	r := NewCannedResponder(cfg, provider, &fakeStore{})
	got, err := r.Complete(context.Background(), "g1", "say hi to alice")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "re: say hi to alice" {
		t.Fatalf("reply = %q", got)
	}
}
