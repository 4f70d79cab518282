package wake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/wakegate/pkg/logger"
)

// trigger is one step of the wake cascade. A disabled mechanism returns
// (false, "") so the chain moves on.
type trigger func(ctx context.Context, ev Event, text string, now time.Time, lastWake time.Time) (bool, string)

// runCascade evaluates the ordered trigger chain and stops at the first
// hit. The order is fixed: explicit wake, mention, extension, relevance,
// ask, bored, probability.
func (e *Evaluator) runCascade(ctx context.Context, ev Event, text string, now, lastWake time.Time) (bool, string) {
	chain := []trigger{
		e.triggerAtOrCommand,
		e.triggerMention,
		e.triggerWakeExtend,
		e.triggerRelevant,
		e.triggerAsk,
		e.triggerBored,
		e.triggerProb,
	}
	for _, t := range chain {
		if fired, reason := t(ctx, ev, text, now, lastWake); fired {
			return true, reason
		}
	}
	return false, ""
}

func (e *Evaluator) triggerAtOrCommand(_ context.Context, ev Event, _ string, _, _ time.Time) (bool, string) {
	if ev.AtOrCommand {
		return true, ReasonAtOrCommand
	}
	return false, ""
}

func (e *Evaluator) triggerMention(_ context.Context, _ Event, text string, _, _ time.Time) (bool, string) {
	for _, name := range e.cfg.MentionNames {
		if name != "" && strings.Contains(text, name) {
			return true, fmt.Sprintf("mention(%s)", name)
		}
	}
	return false, ""
}

// triggerWakeExtend re-arms a recently-awakened member: their next message
// inside the window wakes without a fresh trigger.
func (e *Evaluator) triggerWakeExtend(_ context.Context, _ Event, _ string, now, lastWake time.Time) (bool, string) {
	if e.cfg.WakeExtendSec <= 0 || lastWake.IsZero() {
		return false, ""
	}
	if now.Sub(lastWake) <= secs(e.cfg.WakeExtendSec) {
		return true, ReasonWakeExtend
	}
	return false, ""
}

// triggerRelevant scores the message against the agent's recent replies.
// History failures degrade to "no signal" and the cascade continues.
func (e *Evaluator) triggerRelevant(ctx context.Context, ev Event, text string, _, _ time.Time) (bool, string) {
	if e.cfg.RelevantWakeThreshold <= 0 || e.deps.History == nil || e.deps.Similarity == nil {
		return false, ""
	}

	depth := e.cfg.HistoryDepth
	if depth <= 0 {
		depth = 5
	}
	msgs, err := e.deps.History.Recent(ctx, ev.GroupID, "assistant", depth)
	if err != nil {
		logger.WarnCF("wake", "History fetch failed", map[string]any{
			"group": ev.GroupID, "error": err.Error(),
		})
		return false, ""
	}

	for _, h := range msgs {
		if score := e.deps.Similarity.Score(text, h); score > e.cfg.RelevantWakeThreshold {
			return true, fmt.Sprintf("relevant(%.2f)", score)
		}
	}
	return false, ""
}

func (e *Evaluator) triggerAsk(_ context.Context, _ Event, text string, _, _ time.Time) (bool, string) {
	if e.cfg.AskWakeThreshold <= 0 || e.deps.Sentiment == nil {
		return false, ""
	}
	if e.deps.Sentiment.Ask(text) > e.cfg.AskWakeThreshold {
		return true, ReasonAskWake
	}
	return false, ""
}

func (e *Evaluator) triggerBored(_ context.Context, _ Event, text string, _, _ time.Time) (bool, string) {
	if e.cfg.BoredWakeThreshold <= 0 || e.deps.Sentiment == nil {
		return false, ""
	}
	if e.deps.Sentiment.Bored(text) > e.cfg.BoredWakeThreshold {
		return true, ReasonBoredWake
	}
	return false, ""
}

func (e *Evaluator) triggerProb(_ context.Context, _ Event, _ string, _, _ time.Time) (bool, string) {
	if e.cfg.ProbWakeThreshold <= 0 {
		return false, ""
	}
	if e.Rand() < e.cfg.ProbWakeThreshold {
		return true, ReasonProbWake
	}
	return false, ""
}
