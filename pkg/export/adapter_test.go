package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dotsetgreg/convo/pkg/bus"
	"github.com/dotsetgreg/convo/pkg/history"
)

func newTestAdapter(t *testing.T) (*Adapter, *history.MemoryLedger, *bus.MessageBus) {
	t.Helper()
	ledger := history.NewMemoryLedger()
	msgBus := bus.NewMessageBus()
	t.Cleanup(msgBus.Close)
	return NewAdapter(ledger, msgBus, 5*time.Minute), ledger, msgBus
}

func receiveOutbound(t *testing.T, msgBus *bus.MessageBus) bus.OutboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := msgBus.SubscribeOutbound(ctx)
	if !ok {
		t.Fatalf("expected an outbound message")
	}
	return msg
}

func TestNotifyStartUsesRecordedRoute(t *testing.T) {
	adapter, _, msgBus := newTestAdapter(t)

	adapter.RecordRoute("alice", "discord", "chan-1")
	adapter.NotifyStart("alice", "Chat GPT")

	msg := receiveOutbound(t, msgBus)
	if msg.Channel != "discord" || msg.ChatID != "chan-1" {
		t.Fatalf("notification went to the wrong route: %+v", msg)
	}
	if !strings.Contains(msg.Content, "Chat GPT") {
		t.Fatalf("expected variant label in start notice, got %q", msg.Content)
	}
	if !strings.Contains(msg.Content, "5 minutes") {
		t.Fatalf("expected human timeout in start notice, got %q", msg.Content)
	}
}

func TestNotifyEndWithoutRouteIsSilent(t *testing.T) {
	adapter, _, msgBus := newTestAdapter(t)

	// Must not panic or block; there is nowhere to deliver.
	adapter.NotifyEnd("stranger")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := msgBus.SubscribeOutbound(ctx); ok {
		t.Fatalf("expected no outbound message without a route")
	}
}

func TestFormatHistory(t *testing.T) {
	adapter, ledger, _ := newTestAdapter(t)

	_ = ledger.Append("alice", history.SpeakerUser, "what is the largest moon")
	_ = ledger.Append("alice", history.SpeakerLLM, "Ganymede")

	body, err := adapter.FormatHistory("alice")
	if err != nil {
		t.Fatalf("FormatHistory: %v", err)
	}
	want := "[user] what is the largest moon\n[llm] Ganymede"
	if body != want {
		t.Fatalf("unexpected body:\n%s", body)
	}
}

func TestFormatHistoryEmpty(t *testing.T) {
	adapter, _, _ := newTestAdapter(t)

	if _, err := adapter.FormatHistory("bob"); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}
}

func TestBuildEmailRequest(t *testing.T) {
	adapter, ledger, _ := newTestAdapter(t)

	_ = ledger.Append("alice", history.SpeakerUser, "hello")
	_ = ledger.Append("alice", history.SpeakerLLM, "hi")

	req, err := adapter.BuildEmailRequest("alice", "alice@example.com")
	if err != nil {
		t.Fatalf("BuildEmailRequest: %v", err)
	}
	if !strings.HasPrefix(req.ID, "export-") {
		t.Fatalf("expected export-prefixed request ID, got %q", req.ID)
	}
	if req.Address != "alice@example.com" || req.User != "alice" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Subject != "Your chat history" {
		t.Fatalf("unexpected subject %q", req.Subject)
	}
	if !strings.Contains(req.Body, "[user] hello") {
		t.Fatalf("expected formatted body, got %q", req.Body)
	}
}

func TestBuildEmailRequestFailureOrder(t *testing.T) {
	adapter, ledger, _ := newTestAdapter(t)

	// History is checked before the address: an empty ledger reports
	// ErrNoHistory even when the address is also missing.
	if _, err := adapter.BuildEmailRequest("bob", ""); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory first, got %v", err)
	}

	_ = ledger.Append("bob", history.SpeakerUser, "hello")
	_ = ledger.Append("bob", history.SpeakerLLM, "hi")
	if _, err := adapter.BuildEmailRequest("bob", "   "); !errors.Is(err, ErrNoDestination) {
		t.Fatalf("expected ErrNoDestination, got %v", err)
	}
}
