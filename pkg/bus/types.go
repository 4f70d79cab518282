package bus

// InboundMessage is one group-chat message event as published by a channel
// adapter. EventID is unique per event so merged (pending-buffered) replies
// can be cancelled by id.
type InboundMessage struct {
	EventID      string
	Channel      string
	SenderID     string
	SenderName   string
	GroupID      string
	BotID        string
	Content      string
	AtOrCommand  bool
	EmptyMention bool
	Metadata     map[string]string
}

// OutboundMessage is a reply to be delivered by a channel adapter.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	// InReplyTo carries the EventID whose evaluation produced this reply.
	InReplyTo string
}
