package history

// Speaker identifies who produced a chat turn.
type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerLLM  Speaker = "llm"
)

// ChatTurn is one immutable entry in a user's ledger. Turns are appended in
// order and never mutated or reordered.
type ChatTurn struct {
	Speaker Speaker
	Text    string
}

// Ledger is the append-only per-user chat record. Implementations do no
// concurrency control of their own; the session manager serializes access
// per user.
type Ledger interface {
	Append(user string, speaker Speaker, text string) error
	ReadAll(user string) ([]ChatTurn, error)
	HasHistory(user string) (bool, error)
}
