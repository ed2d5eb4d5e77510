package history

import (
	"path/filepath"
	"testing"
)

func testLedger(t *testing.T, ledger Ledger) {
	t.Helper()

	ok, err := ledger.HasHistory("alice")
	if err != nil {
		t.Fatalf("HasHistory: %v", err)
	}
	if ok {
		t.Fatalf("expected no history for a fresh user")
	}

	turns, err := ledger.ReadAll("alice")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected empty read, got %d turns", len(turns))
	}

	pairs := []struct {
		speaker Speaker
		text    string
	}{
		{SpeakerUser, "what is the largest moon"},
		{SpeakerLLM, "Ganymede"},
		{SpeakerUser, "how big is it"},
		{SpeakerLLM, "about 5268 km across"},
	}
	for _, p := range pairs {
		if err := ledger.Append("alice", p.speaker, p.text); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	turns, err = ledger.ReadAll("alice")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(turns) != len(pairs) {
		t.Fatalf("expected %d turns, got %d", len(pairs), len(turns))
	}
	for i, p := range pairs {
		if turns[i].Speaker != p.speaker || turns[i].Text != p.text {
			t.Fatalf("turn %d out of order: %+v", i, turns[i])
		}
	}

	ok, err = ledger.HasHistory("alice")
	if err != nil {
		t.Fatalf("HasHistory: %v", err)
	}
	if !ok {
		t.Fatalf("expected history after appends")
	}

	// Other users stay isolated.
	if ok, _ := ledger.HasHistory("bob"); ok {
		t.Fatalf("expected bob to have no history")
	}
}

func TestMemoryLedger(t *testing.T) {
	testLedger(t, NewMemoryLedger())
}

func TestMemoryLedgerReadAllReturnsCopy(t *testing.T) {
	ledger := NewMemoryLedger()
	if err := ledger.Append("alice", SpeakerUser, "hello"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	turns, _ := ledger.ReadAll("alice")
	turns[0].Text = "mutated"

	turns, _ = ledger.ReadAll("alice")
	if turns[0].Text != "hello" {
		t.Fatalf("expected stored turn to be immutable, got %q", turns[0].Text)
	}
}

func TestSQLiteLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "history.db")
	ledger, err := NewSQLiteLedger(path)
	if err != nil {
		t.Fatalf("NewSQLiteLedger: %v", err)
	}
	defer ledger.Close()

	testLedger(t, ledger)
}

func TestSQLiteLedgerPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	ledger, err := NewSQLiteLedger(path)
	if err != nil {
		t.Fatalf("NewSQLiteLedger: %v", err)
	}
	if err := ledger.Append("alice", SpeakerUser, "hello"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := ledger.Append("alice", SpeakerLLM, "hi there"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := ledger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLiteLedger(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	turns, err := reopened.ReadAll("alice")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(turns) != 2 || turns[0].Text != "hello" || turns[1].Text != "hi there" {
		t.Fatalf("expected persisted turns, got %+v", turns)
	}
}
