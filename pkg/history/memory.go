package history

import "sync"

// MemoryLedger keeps each user's turns in process memory. History grows for
// the lifetime of the process; export reads the full sequence.
type MemoryLedger struct {
	turns map[string][]ChatTurn
	mu    sync.RWMutex
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		turns: make(map[string][]ChatTurn),
	}
}

func (l *MemoryLedger) Append(user string, speaker Speaker, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.turns[user] = append(l.turns[user], ChatTurn{Speaker: speaker, Text: text})
	return nil
}

func (l *MemoryLedger) ReadAll(user string) ([]ChatTurn, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stored := l.turns[user]
	out := make([]ChatTurn, len(stored))
	copy(out, stored)
	return out, nil
}

func (l *MemoryLedger) HasHistory(user string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.turns[user]) > 0, nil
}
