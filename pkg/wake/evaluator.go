package wake

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/dotsetgreg/wakegate/pkg/config"
	"github.com/dotsetgreg/wakegate/pkg/logger"
	"github.com/dotsetgreg/wakegate/pkg/sentiment"
	"github.com/dotsetgreg/wakegate/pkg/similarity"
	"github.com/dotsetgreg/wakegate/pkg/state"
)

// History fetches recent conversation messages for one conversation ref.
// A nil slice means no history is available; errors degrade to that.
type History interface {
	Recent(ctx context.Context, conversation, role string, n int) ([]string, error)
}

// Responder produces the canned reply for empty-mention events.
type Responder interface {
	Complete(ctx context.Context, conversation, prompt string) (string, error)
}

// Deps bundles the evaluator's collaborators. History and Responder may be
// nil; the mechanisms that need them are then disabled.
type Deps struct {
	Store      *state.Store
	Similarity *similarity.Scorer
	Sentiment  sentiment.Scorer
	History    History
	Responder  Responder
}

// Evaluator runs the per-message wake decision: gating, pending merge,
// the trigger cascade, and post-wake suppression. One instance serves the
// whole process; per-member state is serialized on the member's own lock.
type Evaluator struct {
	cfg     config.EngineConfig
	persona config.PersonaConfig
	deps    Deps

	// Now and Rand are injectable for tests.
	Now  func() time.Time
	Rand func() float64
}

func NewEvaluator(cfg config.EngineConfig, persona config.PersonaConfig, deps Deps) *Evaluator {
	return &Evaluator{
		cfg:     cfg,
		persona: persona,
		deps:    deps,
		Now:     time.Now,
		Rand:    rand.Float64,
	}
}

func (e *Evaluator) Store() *state.Store { return e.deps.Store }

// Evaluate decides for one event. External calls (history fetch, canned
// reply) run without the member lock held.
func (e *Evaluator) Evaluate(ctx context.Context, ev Event) Decision {
	now := e.Now()

	// Read-only gating that must not touch (or lazily create) any state.
	if ev.SenderID == ev.BotID {
		return Decision{Outcome: OutcomeSilent, Reason: ReasonSelf, Text: ev.Text}
	}
	if len(e.cfg.GroupAllowlist) > 0 && !contains(e.cfg.GroupAllowlist, ev.GroupID) {
		return Decision{Outcome: OutcomeSilent, Reason: ReasonGroupNotAllow, Text: ev.Text}
	}
	if contains(e.cfg.UserDenylist, ev.SenderID) {
		return Decision{Outcome: OutcomeSilent, Suppress: true, Reason: ReasonDenylist, Text: ev.Text}
	}

	g := e.deps.Store.Group(ev.GroupID)
	m := g.Member(ev.SenderID)

	m.Mu.Lock()
	if e.cfg.WakeCooldownSec > 0 && now.Sub(m.LastWakeAt) < secs(e.cfg.WakeCooldownSec) {
		m.Mu.Unlock()
		logger.DebugCF("wake", "Member in wake cooldown", map[string]any{
			"group": ev.GroupID, "user": ev.SenderID,
		})
		return Decision{Outcome: OutcomeSilent, Suppress: true, Reason: ReasonCooldown, Text: ev.Text}
	}
	if word, hit := containsAny(ev.Text, e.cfg.ForbiddenWords); hit {
		m.Mu.Unlock()
		logger.DebugCF("wake", "Forbidden wake word", map[string]any{
			"group": ev.GroupID, "user": ev.SenderID, "word": word,
		})
		return Decision{Outcome: OutcomeSilent, Suppress: true, Reason: ReasonForbiddenWord, Text: ev.Text}
	}
	if e.cfg.BlockBuiltin {
		if _, hit := containsAny(ev.Text, e.cfg.BuiltinCommands); hit {
			m.Mu.Unlock()
			return Decision{Outcome: OutcomeSilent, Suppress: true, Reason: ReasonBuiltinCmd, Text: ev.Text}
		}
	}
	if now.Before(g.ShutupUntil()) {
		m.Mu.Unlock()
		return Decision{Outcome: OutcomeSilent, Suppress: true, Reason: ReasonShutup, Text: ev.Text}
	}
	if now.Before(m.SilenceUntil) {
		m.Mu.Unlock()
		return Decision{Outcome: OutcomeSilent, Suppress: true, Reason: ReasonSilenced, Text: ev.Text}
	}

	// Pending merge: quick consecutive messages are batched into one
	// evaluation; earlier buffered events are superseded by the merged one.
	text := ev.Text
	var superseded []string
	if e.cfg.PendWindowSec > 0 && now.Before(m.PendCdUntil) {
		m.Pending = append(m.Pending, state.PendingMessage{ID: ev.ID, Text: ev.Text})
		if len(m.Pending) > 1 {
			parts := make([]string, 0, len(m.Pending))
			for _, p := range m.Pending[:len(m.Pending)-1] {
				superseded = append(superseded, p.ID)
				parts = append(parts, p.Text)
			}
			parts = append(parts, ev.Text)
			text = strings.Join(parts, " ")
		}
	}
	lastWake := m.LastWakeAt
	m.Mu.Unlock()

	// Empty mention of the agent: short-circuit to a canned contextual
	// reply; failure falls through to the normal cascade.
	if ev.EmptyMention && e.deps.Responder != nil && e.persona.EmptyMentionPrompt != "" {
		prompt := strings.ReplaceAll(e.persona.EmptyMentionPrompt, "{username}", ev.SenderName)
		reply, err := e.deps.Responder.Complete(ctx, ev.GroupID, prompt)
		if err != nil {
			logger.WarnCF("wake", "Empty-mention reply failed", map[string]any{
				"group": ev.GroupID, "error": err.Error(),
			})
		} else if reply != "" {
			return Decision{
				Outcome:    OutcomeCanned,
				Suppress:   true,
				Reason:     ReasonEmptyMention,
				Text:       text,
				Reply:      reply,
				Superseded: superseded,
			}
		}
	}

	woke, reason := e.runCascade(ctx, ev, text, now, lastWake)

	if woke {
		m.Mu.Lock()
		m.LastWakeAt = now
		if e.cfg.PendWindowSec > 0 {
			m.PendCdUntil = now.Add(secs(e.cfg.PendWindowSec))
		}
		m.Mu.Unlock()
		logger.InfoCF("wake", "Wake triggered", map[string]any{
			"group": ev.GroupID, "user": ev.SenderID, "reason": reason,
		})
	}

	decision := Decision{
		Outcome:    OutcomeSilent,
		Text:       text,
		Superseded: superseded,
	}
	if woke {
		decision.Outcome = OutcomeWake
		decision.Reason = reason
	}

	return e.applyMoodPolicies(ev, text, now, g, m, decision)
}

// applyMoodPolicies runs the post-wake suppression checks. Order matters:
// a group shutup overrides everything; an insult mutes the member but lets
// the current wake stand (the agent gets one retort); the ai mute
// suppresses the current turn too.
func (e *Evaluator) applyMoodPolicies(ev Event, text string, now time.Time, g *state.GroupState, m *state.MemberState, decision Decision) Decision {
	if e.deps.Sentiment == nil {
		return decision
	}

	if e.cfg.ShutupThreshold > 0 {
		if score := e.deps.Sentiment.Shut(text); score > e.cfg.ShutupThreshold {
			dur := secs(score * e.cfg.SultMultiple)
			g.SetShutupUntil(now.Add(dur))
			logger.InfoCF("wake", "Group shutup engaged", map[string]any{
				"group": ev.GroupID, "seconds": dur.Seconds(),
			})
			decision.Outcome = OutcomeSilent
			decision.Suppress = true
			decision.Reason = fmt.Sprintf("shutup(%.1fs)", dur.Seconds())
			return decision
		}
	}

	if e.cfg.InsultThreshold > 0 {
		if score := e.deps.Sentiment.Insult(text); score > e.cfg.InsultThreshold {
			dur := secs(score * e.cfg.SultMultiple)
			m.Mu.Lock()
			m.SilenceUntil = now.Add(dur)
			m.Mu.Unlock()
			logger.InfoCF("wake", "Member muted for insult", map[string]any{
				"group": ev.GroupID, "user": ev.SenderID, "seconds": dur.Seconds(),
			})
			// Current turn deliberately not suppressed.
			return decision
		}
	}

	if e.cfg.AIThreshold > 0 {
		if score := e.deps.Sentiment.Insult(text); score > e.cfg.AIThreshold {
			dur := secs(score * e.cfg.SilenceMultiple)
			m.Mu.Lock()
			m.SilenceUntil = now.Add(dur)
			m.Mu.Unlock()
			logger.InfoCF("wake", "Member muted by ai policy", map[string]any{
				"group": ev.GroupID, "user": ev.SenderID, "seconds": dur.Seconds(),
			})
			decision.Outcome = OutcomeSilent
			decision.Suppress = true
			decision.Reason = fmt.Sprintf("ai-mute(%.1fs)", dur.Seconds())
			return decision
		}
	}

	return decision
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsAny(text string, words []string) (string, bool) {
	for _, w := range words {
		if w != "" && strings.Contains(text, w) {
			return w, true
		}
	}
	return "", false
}
