package channels

import (
	"strings"
	"testing"
	"time"

	"github.com/dotsetgreg/convo/pkg/bus"
)

// newTypingTestChannel builds a channel without a Discord session; sendTyping
// skips the API call when the session is nil, so the typing bookkeeping can
// be exercised offline.
func newTypingTestChannel(t *testing.T, lifetime time.Duration) *DiscordChannel {
	t.Helper()
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)
	return &DiscordChannel{
		BaseChannel:    NewBaseChannel("discord", mb, nil),
		typing:         make(map[string]*typingSession),
		typingLifetime: lifetime,
	}
}

func (c *DiscordChannel) typingRegistered(channelID string) bool {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	_, ok := c.typing[channelID]
	return ok
}

func TestTypingExpiresWhenNoReplyArrives(t *testing.T) {
	c := newTypingTestChannel(t, 50*time.Millisecond)

	c.beginTyping("chan-1")
	if !c.typingRegistered("chan-1") {
		t.Fatalf("expected typing session after beginTyping")
	}

	// No Send ever happens for this message; the bounded lifetime must
	// clear the session and stop its refresh goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for c.typingRegistered("chan-1") {
		if time.Now().After(deadline) {
			t.Fatalf("typing session never expired without a reply")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTypingEndsOnSendAndCountsPending(t *testing.T) {
	c := newTypingTestChannel(t, time.Minute)

	c.beginTyping("chan-1")
	c.beginTyping("chan-1")

	c.endTyping("chan-1")
	if !c.typingRegistered("chan-1") {
		t.Fatalf("expected typing to survive while a turn is still pending")
	}

	c.endTyping("chan-1")
	if c.typingRegistered("chan-1") {
		t.Fatalf("expected typing to end once all pending turns replied")
	}

	// Ending again is a no-op.
	c.endTyping("chan-1")
}

func TestTypingExpiryLeavesNewerSessionAlone(t *testing.T) {
	c := newTypingTestChannel(t, time.Minute)

	c.beginTyping("chan-1")
	c.typingMu.Lock()
	stale := c.typing["chan-1"]
	delete(c.typing, "chan-1")
	c.typingMu.Unlock()

	c.beginTyping("chan-1")
	c.expireTyping("chan-1", stale)

	if !c.typingRegistered("chan-1") {
		t.Fatalf("expiry of a stale session must not remove the current one")
	}
	stale.cancel()
	c.endTyping("chan-1")
}

func TestSplitMessageShortContent(t *testing.T) {
	chunks := splitMessage("hello world", 1500)
	if len(chunks) != 1 || chunks[0] != "hello world" {
		t.Fatalf("expected single chunk, got %+v", chunks)
	}
}

func TestSplitMessagePrefersNewlines(t *testing.T) {
	content := strings.Repeat("line one\n", 30)
	chunks := splitMessage(content, 100)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 100 {
			t.Fatalf("chunk %d exceeds limit: %d chars", i, len(chunk))
		}
	}
	// Splitting at newlines keeps individual lines intact.
	for i, chunk := range chunks {
		for _, line := range strings.Split(chunk, "\n") {
			if line != "" && line != "line one" {
				t.Fatalf("chunk %d broke a line: %q", i, line)
			}
		}
	}
}

func TestSplitMessageFallsBackToSpaces(t *testing.T) {
	content := strings.Repeat("word ", 50)
	chunks := splitMessage(strings.TrimSpace(content), 40)

	for i, chunk := range chunks {
		if len(chunk) > 40 {
			t.Fatalf("chunk %d exceeds limit: %d chars", i, len(chunk))
		}
		if strings.Contains(chunk, "wo rd") {
			t.Fatalf("chunk %d split mid-word: %q", i, chunk)
		}
	}

	rejoined := strings.Join(chunks, " ")
	if rejoined != strings.TrimSpace(content) {
		t.Fatalf("content lost in split:\n%q\nvs\n%q", rejoined, content)
	}
}

func TestSplitMessageHardSplitWithoutBoundaries(t *testing.T) {
	content := strings.Repeat("x", 250)
	chunks := splitMessage(content, 100)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	total := 0
	for _, chunk := range chunks {
		total += len(chunk)
	}
	if total != 250 {
		t.Fatalf("expected all content preserved, got %d chars", total)
	}
}
