package wake

// Event is one inbound group message as the host platform hands it over.
// AtOrCommand is set when the platform already detected an at-mention or
// wake command; EmptyMention when the message consists of exactly one
// mention of the agent and nothing else.
type Event struct {
	ID           string
	SenderID     string
	GroupID      string
	BotID        string
	SenderName   string
	Text         string
	AtOrCommand  bool
	EmptyMention bool
}

type Outcome int

const (
	// OutcomeSilent means no response. Suppress tells the caller whether
	// the event should also be stopped for downstream handlers.
	OutcomeSilent Outcome = iota
	// OutcomeCanned means respond with Decision.Reply as-is, skipping the
	// normal response pipeline.
	OutcomeCanned
	// OutcomeWake means generate and send a reply for Decision.Text.
	OutcomeWake
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCanned:
		return "canned"
	case OutcomeWake:
		return "wake"
	default:
		return "silent"
	}
}

// Decision is the evaluator's verdict for one event.
type Decision struct {
	Outcome  Outcome
	Suppress bool
	Reason   string

	// Text is the effective message text: the pending-merged concatenation
	// when buffering kicked in, the raw text otherwise.
	Text string

	// Reply carries the canned response for OutcomeCanned.
	Reply string

	// Superseded lists ids of previously buffered events whose individual
	// replies this merged evaluation replaces. The caller cancels them.
	Superseded []string
}

// Cascade and gating reasons exposed for callers and tests.
const (
	ReasonAtOrCommand = "at-or-cmd"
	ReasonWakeExtend  = "wake-extend"
	ReasonAskWake     = "ask-wake"
	ReasonBoredWake   = "bored-wake"
	ReasonProbWake    = "prob-wake"

	ReasonSelf          = "self-message"
	ReasonGroupNotAllow = "group-not-allowed"
	ReasonDenylist      = "denylisted"
	ReasonCooldown      = "wake-cooldown"
	ReasonForbiddenWord = "forbidden-word"
	ReasonBuiltinCmd    = "builtin-command"
	ReasonShutup        = "group-shutup"
	ReasonSilenced      = "member-silenced"
	ReasonEmptyMention  = "empty-mention"
)
