// Convo - conversational session gateway
// License: MIT
//
// Copyright (c) 2026 Convo contributors

package router

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/dotsetgreg/convo/pkg/bus"
	"github.com/dotsetgreg/convo/pkg/config"
	"github.com/dotsetgreg/convo/pkg/export"
	"github.com/dotsetgreg/convo/pkg/logger"
	"github.com/dotsetgreg/convo/pkg/session"
	"github.com/dotsetgreg/convo/pkg/utils"
)

// Spoken dialog lines surfaced to the user.
const (
	dialogUnavailable      = "I'm not able to reach the language model right now."
	dialogNoResponse       = "I don't have a response for that."
	dialogFallbackEnabled  = "Okay, I'll answer questions with the language model from now on."
	dialogFallbackDisabled = "Okay, I'll stop answering questions with the language model."
	dialogNoHistory        = "You don't have any chat history to send."
	dialogNoAddress        = "I don't have an email address on file for you."
)

// AddressResolver looks up a user's export destination. Profile storage is
// an external collaborator; the default resolver reads the inbound
// message's metadata.
type AddressResolver func(user string, metadata map[string]string) string

// EmailSender hands a finished export to the mail collaborator.
type EmailSender func(req export.EmailRequest) error

// Router classifies inbound utterances and drives the session manager's
// four operations: start, turn, end, and single-shot answer. It owns no
// session state of its own.
type Router struct {
	cfg     *config.Config
	manager *session.Manager
	adapter *export.Adapter
	bus     *bus.MessageBus

	resolveAddress AddressResolver
	sendEmail      EmailSender
	running        atomic.Bool
}

func NewRouter(cfg *config.Config, manager *session.Manager, adapter *export.Adapter, msgBus *bus.MessageBus) *Router {
	return &Router{
		cfg:            cfg,
		manager:        manager,
		adapter:        adapter,
		bus:            msgBus,
		resolveAddress: metadataAddressResolver,
	}
}

// SetAddressResolver replaces the export destination lookup.
func (r *Router) SetAddressResolver(resolver AddressResolver) {
	if resolver != nil {
		r.resolveAddress = resolver
	}
}

// SetEmailSender installs the external mail collaborator.
func (r *Router) SetEmailSender(sender EmailSender) {
	r.sendEmail = sender
}

// Run consumes inbound messages until the context ends.
func (r *Router) Run(ctx context.Context) error {
	r.running.Store(true)

	for r.running.Load() {
		select {
		case <-ctx.Done():
			return nil
		default:
			msg, ok := r.bus.ConsumeInbound(ctx)
			if !ok {
				continue
			}
			r.Route(ctx, msg)
		}
	}
	return nil
}

func (r *Router) Stop() {
	r.running.Store(false)
}

// Route handles one inbound utterance event.
func (r *Router) Route(ctx context.Context, msg bus.InboundMessage) {
	user := strings.TrimSpace(msg.UserID)
	if user == "" {
		user = r.cfg.DefaultUser()
	}
	utterance := strings.TrimSpace(msg.Utterance)
	if utterance == "" {
		return
	}

	r.adapter.RecordRoute(user, msg.Channel, msg.ChatID)

	logger.DebugCF("router", "Routing utterance", map[string]interface{}{
		"user":    user,
		"channel": msg.Channel,
		"preview": utils.Truncate(utterance, 50),
	})

	reply := func(content string) {
		if content == "" {
			return
		}
		r.bus.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: content,
		})
	}

	switch {
	case matchEnableFallback(utterance):
		r.cfg.SetFallbackEnabled(true)
		reply(dialogFallbackEnabled)

	case matchDisableFallback(utterance):
		r.cfg.SetFallbackEnabled(false)
		reply(dialogFallbackDisabled)

	case matchEmailHistory(utterance):
		r.handleEmailHistory(user, msg.Metadata, reply)

	default:
		if variant, ok := matchStartChat(utterance); ok {
			// The start notification is the adapter's job.
			r.manager.StartSession(user, variant)
			return
		}

		if query, ok := matchAsk(utterance); ok {
			r.handleAsk(ctx, user, query, reply)
			return
		}

		handled := r.manager.HandleTurn(ctx, user, utterance, func(answer string, err error) {
			if err != nil {
				reply(dialogUnavailable)
				return
			}
			if answer == "" {
				// Not an error, merely no response.
				reply(dialogNoResponse)
				return
			}
			reply(answer)
		})
		if handled {
			return
		}

		if !r.cfg.FallbackEnabled() {
			return
		}
		answer, err := r.manager.AnswerOnce(ctx, user, utterance)
		if err != nil {
			logger.WarnCF("router", "Fallback answer failed", map[string]interface{}{
				"user":  user,
				"error": err.Error(),
			})
			return
		}
		if answer == "" {
			logger.InfoCF("router", "No fallback response", map[string]interface{}{"user": user})
			return
		}
		reply(answer)
	}
}

func (r *Router) handleAsk(ctx context.Context, user, query string, reply func(string)) {
	answer, err := r.manager.AnswerOnce(ctx, user, query)
	if err != nil {
		logger.ErrorCF("router", "Ask failed", map[string]interface{}{
			"user":  user,
			"error": err.Error(),
		})
		reply(dialogUnavailable)
		return
	}
	if answer == "" {
		reply(dialogNoResponse)
		return
	}
	reply(answer)
}

func (r *Router) handleEmailHistory(user string, metadata map[string]string, reply func(string)) {
	address := r.resolveAddress(user, metadata)

	req, err := r.adapter.BuildEmailRequest(user, address)
	switch {
	case errors.Is(err, export.ErrNoHistory):
		reply(dialogNoHistory)
		return
	case errors.Is(err, export.ErrNoDestination):
		reply(dialogNoAddress)
		return
	case err != nil:
		logger.ErrorCF("router", "Failed to build export", map[string]interface{}{
			"user":  user,
			"error": err.Error(),
		})
		reply(dialogNoHistory)
		return
	}

	if r.sendEmail != nil {
		if err := r.sendEmail(req); err != nil {
			logger.ErrorCF("router", "Email handoff failed", map[string]interface{}{
				"user":  user,
				"error": err.Error(),
			})
			reply(dialogUnavailable)
			return
		}
	}
	reply("Sending your chat history to " + req.Address + ".")
}

func metadataAddressResolver(user string, metadata map[string]string) string {
	if metadata == nil {
		return ""
	}
	return strings.TrimSpace(metadata["email"])
}

func matchStartChat(utterance string) (string, bool) {
	normalized := normalize(utterance)
	prefixes := []string{"chat with ", "talk to ", "start a chat with "}
	for _, p := range prefixes {
		if strings.HasPrefix(normalized, p) {
			return strings.TrimSpace(strings.TrimPrefix(normalized, p)), true
		}
	}
	if normalized == "start a chat" || normalized == "let's chat" {
		return "", true
	}
	return "", false
}

func matchAsk(utterance string) (string, bool) {
	trimmed := strings.TrimSpace(utterance)
	lower := strings.ToLower(trimmed)
	prefixes := []string{"ask chatgpt ", "ask chat gpt ", "ask the llm "}
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			query := strings.TrimSpace(trimmed[len(p):])
			if query != "" {
				return query, true
			}
		}
	}
	return "", false
}

func matchEmailHistory(utterance string) bool {
	normalized := normalize(utterance)
	if !strings.Contains(normalized, "chat history") {
		return false
	}
	return strings.Contains(normalized, "email") || strings.Contains(normalized, "send")
}

func matchEnableFallback(utterance string) bool {
	return normalize(utterance) == "enable llm fallback"
}

func matchDisableFallback(utterance string) bool {
	return normalize(utterance) == "disable llm fallback"
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
