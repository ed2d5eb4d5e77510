package export

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/convo/pkg/bus"
	"github.com/dotsetgreg/convo/pkg/history"
	"github.com/dotsetgreg/convo/pkg/logger"
	"github.com/dotsetgreg/convo/pkg/utils"
	"github.com/google/uuid"
)

var (
	// ErrNoHistory means the user has no recorded turns to export.
	ErrNoHistory = errors.New("no chat history")
	// ErrNoDestination means no delivery address could be resolved.
	ErrNoDestination = errors.New("no destination address")
)

// EmailRequest is a fully formatted export, ready for an external mail
// collaborator. The adapter never sends anything itself.
type EmailRequest struct {
	ID      string
	User    string
	Address string
	Subject string
	Body    string
}

// Adapter bridges the session manager to the UI and export collaborators.
// Notifications are fire-and-forget outbound bus messages: the bounded
// publish drops on a saturated bus rather than blocking the session
// manager's critical path.
type Adapter struct {
	ledger  history.Ledger
	bus     *bus.MessageBus
	timeout time.Duration

	mu     sync.RWMutex
	routes map[string]route
}

type route struct {
	channel string
	chatID  string
}

func NewAdapter(ledger history.Ledger, msgBus *bus.MessageBus, timeout time.Duration) *Adapter {
	return &Adapter{
		ledger:  ledger,
		bus:     msgBus,
		timeout: timeout,
		routes:  make(map[string]route),
	}
}

// RecordRoute remembers where a user last spoke from, so lifecycle
// notifications can find their way back.
func (a *Adapter) RecordRoute(user, channel, chatID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.routes[user] = route{channel: channel, chatID: chatID}
}

func (a *Adapter) NotifyStart(user, variantLabel string) {
	a.publish(user, fmt.Sprintf(
		"Starting a conversation with %s. The chat ends after %s of inactivity.",
		variantLabel, utils.HumanDuration(a.timeout),
	))
}

func (a *Adapter) NotifyEnd(user string) {
	a.publish(user, "Okay, ending our chat.")
}

func (a *Adapter) publish(user, content string) {
	a.mu.RLock()
	r, ok := a.routes[user]
	a.mu.RUnlock()

	if !ok {
		// No known route; the notification is best-effort.
		logger.DebugCF("export", "No route for notification", map[string]interface{}{"user": user})
		return
	}
	a.bus.PublishOutbound(bus.OutboundMessage{
		Channel: r.channel,
		ChatID:  r.chatID,
		Content: content,
	})
}

// FormatHistory renders the user's full ledger as "[speaker] text" lines in
// chronological order.
func (a *Adapter) FormatHistory(user string) (string, error) {
	turns, err := a.ledger.ReadAll(user)
	if err != nil {
		return "", fmt.Errorf("read history for %s: %w", user, err)
	}
	if len(turns) == 0 {
		return "", ErrNoHistory
	}

	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, fmt.Sprintf("[%s] %s", t.Speaker, t.Text))
	}
	return strings.Join(lines, "\n"), nil
}

// BuildEmailRequest assembles the export for the external mail sender. The
// two failure conditions stay distinct so callers can surface specific
// messages.
func (a *Adapter) BuildEmailRequest(user, address string) (EmailRequest, error) {
	body, err := a.FormatHistory(user)
	if err != nil {
		return EmailRequest{}, err
	}
	if strings.TrimSpace(address) == "" {
		return EmailRequest{}, ErrNoDestination
	}

	return EmailRequest{
		ID:      "export-" + uuid.NewString(),
		User:    user,
		Address: address,
		Subject: "Your chat history",
		Body:    body,
	}, nil
}
