package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/dotsetgreg/convo/pkg/bus"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

type BaseChannel struct {
	bus *bus.MessageBus
	// running is read from the dispatch and typing goroutines while
	// Start/Stop write it.
	running   atomic.Bool
	name      string
	allowList []string
}

func NewBaseChannel(name string, bus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		bus:       bus,
		name:      name,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	// Extract parts from compound senderID like "123456|username"
	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		candidate := strings.TrimSpace(strings.TrimPrefix(allowed, "@"))
		if candidate == "" {
			continue
		}
		if candidate == senderID || candidate == idPart || (userPart != "" && candidate == userPart) {
			return true
		}
	}

	return false
}

// HandleUtterance publishes an inbound utterance tagged with the sender's
// identity. An empty userID is left for the router to map onto the
// configured default user.
func (c *BaseChannel) HandleUtterance(userID, chatID, utterance string, metadata map[string]string) {
	if !c.IsAllowed(userID) {
		return
	}

	c.bus.PublishInbound(bus.InboundMessage{
		Channel:   c.name,
		ChatID:    chatID,
		UserID:    userID,
		Utterance: utterance,
		Metadata:  metadata,
	})
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}
