// WakeGate - Group-chat wake decision gateway
// License: MIT
//
// Copyright (c) 2026 WakeGate contributors

package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dotsetgreg/wakegate/pkg/bus"
	"github.com/dotsetgreg/wakegate/pkg/config"
	"github.com/dotsetgreg/wakegate/pkg/history"
	"github.com/dotsetgreg/wakegate/pkg/logger"
	"github.com/dotsetgreg/wakegate/pkg/providers"
	"github.com/dotsetgreg/wakegate/pkg/wake"
	"github.com/google/uuid"
)

const responseTimeout = 90 * time.Second

// HistoryStore is the persistence surface the loop needs. Satisfied by
// history.SQLiteStore.
type HistoryStore interface {
	Append(ctx context.Context, conversation, role, content string) error
	RecentTurns(ctx context.Context, conversation string, n int) ([]history.Turn, error)
	RecordDecision(ctx context.Context, rec history.DecisionRecord) error
}

// Loop wires the bus to the wake evaluator: consume inbound events, decide,
// and for wake/canned outcomes deliver a reply. Replies for events that a
// later pending-merge superseded are cancelled before they are sent.
type Loop struct {
	cfg       *config.Config
	bus       *bus.MessageBus
	evaluator *wake.Evaluator
	provider  providers.LLMProvider
	store     HistoryStore
	running   atomic.Bool

	inflightMu sync.Mutex
	inflight   map[string]context.CancelFunc
}

func NewLoop(cfg *config.Config, msgBus *bus.MessageBus, evaluator *wake.Evaluator, provider providers.LLMProvider, store HistoryStore) *Loop {
	return &Loop{
		cfg:       cfg,
		bus:       msgBus,
		evaluator: evaluator,
		provider:  provider,
		store:     store,
		inflight:  make(map[string]context.CancelFunc),
	}
}

// Run consumes inbound messages until ctx is cancelled. Events are handled
// concurrently; correctness across same-member concurrency lives in the
// evaluator's per-member locking.
func (l *Loop) Run(ctx context.Context) {
	l.running.Store(true)
	defer l.running.Store(false)
	logger.InfoC("agent", "Gateway loop started")

	for {
		msg, ok := l.bus.ConsumeInbound(ctx)
		if !ok {
			logger.InfoC("agent", "Gateway loop stopped")
			return
		}
		go l.Handle(ctx, msg)
	}
}

func (l *Loop) IsRunning() bool { return l.running.Load() }

// Handle evaluates one inbound message and carries out the decision.
func (l *Loop) Handle(ctx context.Context, msg bus.InboundMessage) {
	if msg.EventID == "" {
		msg.EventID = uuid.NewString()
	}

	ev := wake.Event{
		ID:           msg.EventID,
		SenderID:     msg.SenderID,
		GroupID:      msg.GroupID,
		BotID:        msg.BotID,
		SenderName:   msg.SenderName,
		Text:         msg.Content,
		AtOrCommand:  msg.AtOrCommand,
		EmptyMention: msg.EmptyMention,
	}

	if l.store != nil && msg.Content != "" {
		if err := l.store.Append(ctx, msg.GroupID, "user", msg.Content); err != nil {
			logger.WarnCF("agent", "Failed to persist inbound message", map[string]any{
				"group": msg.GroupID, "error": err.Error(),
			})
		}
	}

	decision := l.evaluator.Evaluate(ctx, ev)

	l.audit(ctx, msg, decision)
	l.cancelSuperseded(decision.Superseded)

	switch decision.Outcome {
	case wake.OutcomeCanned:
		l.deliver(ctx, msg, decision.Reply)
	case wake.OutcomeWake:
		l.respond(ctx, msg, decision)
	default:
		logger.DebugCF("agent", "No response", map[string]any{
			"group": msg.GroupID, "user": msg.SenderID, "reason": decision.Reason,
		})
	}
}

func (l *Loop) audit(ctx context.Context, msg bus.InboundMessage, decision wake.Decision) {
	if l.store == nil {
		return
	}
	err := l.store.RecordDecision(ctx, history.DecisionRecord{
		GroupID: msg.GroupID,
		UserID:  msg.SenderID,
		Outcome: decision.Outcome.String(),
		Reason:  decision.Reason,
	})
	if err != nil {
		logger.WarnCF("agent", "Failed to record decision", map[string]any{"error": err.Error()})
	}
}

// respond generates a reply for a wake decision. The response context is
// registered under the event id so a later merge can cancel it.
func (l *Loop) respond(parent context.Context, msg bus.InboundMessage, decision wake.Decision) {
	ctx, cancel := context.WithTimeout(parent, responseTimeout)
	defer cancel()

	l.inflightMu.Lock()
	l.inflight[msg.EventID] = cancel
	l.inflightMu.Unlock()
	defer func() {
		l.inflightMu.Lock()
		delete(l.inflight, msg.EventID)
		l.inflightMu.Unlock()
	}()

	messages := l.buildContext(ctx, msg.GroupID, decision.Text)
	reply, err := l.provider.Chat(ctx, messages, l.cfg.Providers.Model)
	if err != nil {
		if ctx.Err() != nil {
			logger.DebugCF("agent", "Response cancelled", map[string]any{"event": msg.EventID})
			return
		}
		logger.ErrorCF("agent", "Provider call failed", map[string]any{
			"group": msg.GroupID, "error": err.Error(),
		})
		return
	}
	if ctx.Err() != nil || reply == "" {
		return
	}

	l.deliver(parent, msg, reply)
}

func (l *Loop) buildContext(ctx context.Context, groupID, text string) []providers.Message {
	var messages []providers.Message
	if persona := l.cfg.Persona.SystemPrompt; persona != "" {
		messages = append(messages, providers.Message{Role: "system", Content: persona})
	}
	if l.store != nil {
		turns, err := l.store.RecentTurns(ctx, groupID, 20)
		if err != nil {
			logger.WarnCF("agent", "Failed to load context", map[string]any{"error": err.Error()})
		}
		for _, t := range turns {
			messages = append(messages, providers.Message{Role: t.Role, Content: t.Content})
		}
	}
	return append(messages, providers.Message{Role: "user", Content: text})
}

// deliver publishes the reply, persists it, and clears the member's pending
// buffer now that the merged text has been answered.
func (l *Loop) deliver(ctx context.Context, msg bus.InboundMessage, reply string) {
	l.bus.PublishOutbound(bus.OutboundMessage{
		Channel:   msg.Channel,
		ChatID:    msg.GroupID,
		Content:   reply,
		InReplyTo: msg.EventID,
	})

	if l.store != nil {
		if err := l.store.Append(ctx, msg.GroupID, "assistant", reply); err != nil {
			logger.WarnCF("agent", "Failed to persist reply", map[string]any{"error": err.Error()})
		}
	}

	l.evaluator.Store().Group(msg.GroupID).Member(msg.SenderID).ClearPending()
}

func (l *Loop) cancelSuperseded(ids []string) {
	if len(ids) == 0 {
		return
	}
	l.inflightMu.Lock()
	defer l.inflightMu.Unlock()
	for _, id := range ids {
		if cancel, ok := l.inflight[id]; ok {
			cancel()
			delete(l.inflight, id)
			logger.DebugCF("agent", "Cancelled superseded reply", map[string]any{"event": id})
		}
	}
}

// CannedResponder adapts the provider + history store to the evaluator's
// empty-mention Responder interface.
type CannedResponder struct {
	cfg      *config.Config
	provider providers.LLMProvider
	store    HistoryStore
}

func NewCannedResponder(cfg *config.Config, provider providers.LLMProvider, store HistoryStore) *CannedResponder {
	return &CannedResponder{cfg: cfg, provider: provider, store: store}
}

func (r *CannedResponder) Complete(ctx context.Context, conversation, prompt string) (string, error) {
	var messages []providers.Message
	if persona := r.cfg.Persona.SystemPrompt; persona != "" {
		messages = append(messages, providers.Message{Role: "system", Content: persona})
	}
	if r.store != nil {
		turns, err := r.store.RecentTurns(ctx, conversation, 20)
		if err == nil {
			for _, t := range turns {
				messages = append(messages, providers.Message{Role: t.Role, Content: t.Content})
			}
		}
	}
	messages = append(messages, providers.Message{Role: "user", Content: prompt})
	return r.provider.Chat(ctx, messages, r.cfg.Providers.Model)
}
