package bus

// InboundMessage is an utterance event from a front-end channel.
// UserID may be empty when the channel cannot resolve an identity;
// the router substitutes the configured default user.
type InboundMessage struct {
	Channel   string
	ChatID    string
	UserID    string
	Utterance string
	Metadata  map[string]string
}

// OutboundMessage is a reply or dialog notice headed back to a channel.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
}
