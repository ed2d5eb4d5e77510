// Convo - conversational session gateway
// License: MIT
//
// Copyright (c) 2026 Convo contributors

package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/convo/pkg/gateway"
	"github.com/dotsetgreg/convo/pkg/history"
	"github.com/dotsetgreg/convo/pkg/logger"
	"github.com/dotsetgreg/convo/pkg/utils"
	"github.com/google/uuid"
)

// DefaultTimeout is the idle window after which an active chat ends.
const DefaultTimeout = 300 * time.Second

// Notifier receives session lifecycle signals. Implementations must not
// block and must absorb delivery failures; the manager calls them outside
// its locks and never checks an outcome.
type Notifier interface {
	NotifyStart(user, variantLabel string)
	NotifyEnd(user string)
}

// TurnReply delivers the outcome of an asynchronous turn back to the caller.
// A non-nil err means the backend was unavailable; an empty answer with nil
// err means the backend had no response.
type TurnReply func(answer string, err error)

// Config carries the manager's construction parameters.
type Config struct {
	Backends       map[string]gateway.Gateway
	DefaultVariant string
	Timeout        time.Duration
	ExitPhrases    []string
}

// Manager owns per-user chat session state: presence in the session map is
// the sole signal of multi-turn chat mode. Each session carries an idle
// timer that is canceled and replaced on every refresh, and every backend
// round-trip runs inside a per-user critical section so at most one call is
// in flight per user.
type Manager struct {
	backends       map[string]gateway.Gateway
	defaultVariant string
	ledger         history.Ledger
	notifier       Notifier
	timeout        time.Duration
	exitPhrases    []string

	mu       sync.Mutex
	sessions map[string]*session
	// userLocks entries are created lazily and kept for the process
	// lifetime, mirroring the ledger.
	userLocks map[string]*sync.Mutex
}

type session struct {
	id           string
	variant      string
	lastActivity time.Time
	timer        *time.Timer
}

func NewManager(cfg Config, ledger history.Ledger, notifier Notifier) (*Manager, error) {
	if len(cfg.Backends) == 0 {
		return nil, fmt.Errorf("at least one backend is required")
	}
	if _, ok := cfg.Backends[cfg.DefaultVariant]; !ok {
		return nil, fmt.Errorf("default variant %q is not among the configured backends", cfg.DefaultVariant)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	exitPhrases := make([]string, 0, len(cfg.ExitPhrases))
	for _, p := range cfg.ExitPhrases {
		p = normalizePhrase(p)
		if p != "" {
			exitPhrases = append(exitPhrases, p)
		}
	}

	return &Manager{
		backends:       cfg.Backends,
		defaultVariant: cfg.DefaultVariant,
		ledger:         ledger,
		notifier:       notifier,
		timeout:        timeout,
		exitPhrases:    exitPhrases,
		sessions:       make(map[string]*session),
		userLocks:      make(map[string]*sync.Mutex),
	}, nil
}

// Timeout reports the configured idle window.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// SetNotifier installs the lifecycle notifier after construction; the
// adapter needs the manager's timeout first, so wiring happens in two
// steps. A nil notifier silences lifecycle signals.
func (m *Manager) SetNotifier(notifier Notifier) {
	m.notifier = notifier
}

func (m *Manager) notifyStart(user, label string) {
	if m.notifier != nil {
		m.notifier.NotifyStart(user, label)
	}
}

func (m *Manager) notifyEnd(user string) {
	if m.notifier != nil {
		m.notifier.NotifyEnd(user)
	}
}

// StartSession creates or refreshes the chat session for user. Starting an
// already-active session replaces its pending timer; there is never more
// than one session entry or timer per user. The requested variant falls
// back to the default when unrecognized. Returns the variant label used in
// the start notification.
func (m *Manager) StartSession(user, requestedVariant string) string {
	variant, gw := m.resolveBackend(requestedVariant)

	m.mu.Lock()
	s, ok := m.sessions[user]
	if ok {
		if s.timer != nil {
			s.timer.Stop()
		}
	} else {
		s = &session{id: "chat-" + uuid.NewString()}
		m.sessions[user] = s
	}
	s.variant = variant
	s.lastActivity = time.Now()
	s.timer = time.AfterFunc(m.timeout, func() { m.expire(user) })
	m.mu.Unlock()

	logger.InfoCF("session", "Chat session started", map[string]interface{}{
		"user":    user,
		"variant": variant,
		"timeout": m.timeout.String(),
	})

	m.notifyStart(user, gw.Label())
	return gw.Label()
}

// HandleTurn is the single entry point for a routed utterance while
// potentially in session. It reports false when the user has no live
// session (including the case where the session just expired), so the
// caller can fall back to the single-shot path. Matching an exit phrase
// ends the session. Otherwise the turn dispatches asynchronously and
// HandleTurn returns true immediately; the backend round-trip, history
// append, reply delivery, and timer reset happen on the worker goroutine.
func (m *Manager) HandleTurn(ctx context.Context, user, utterance string, reply TurnReply) bool {
	m.mu.Lock()
	s, ok := m.sessions[user]
	if !ok {
		m.mu.Unlock()
		return false
	}
	// Re-check expiry here rather than trusting the timer alone; a delayed
	// callback must not keep a stale session alive.
	if time.Since(s.lastActivity) > m.timeout {
		m.mu.Unlock()
		logger.InfoCF("session", "Session expired at turn time", map[string]interface{}{"user": user})
		m.EndSession(user)
		return false
	}
	m.mu.Unlock()

	if m.isExitPhrase(utterance) {
		m.EndSession(user)
		return true
	}

	go m.runTurn(ctx, user, utterance, reply)
	return true
}

// EndSession removes the user's session and cancels its pending timer.
// Calling it for a user with no session is a no-op; racing timeout and
// explicit exit both land here safely.
func (m *Manager) EndSession(user string) {
	m.mu.Lock()
	s, ok := m.sessions[user]
	if !ok {
		m.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	delete(m.sessions, user)
	m.mu.Unlock()

	logger.InfoCF("session", "Chat session ended", map[string]interface{}{"user": user})
	m.notifyEnd(user)
}

// AnswerOnce is the single-shot path used outside an active session. On a
// non-empty answer it appends the query/answer pair to the ledger; an empty
// answer appends nothing and is returned as-is for the caller to treat as
// "no response".
func (m *Manager) AnswerOnce(ctx context.Context, user, query string) (string, error) {
	lock := m.userLock(user)
	lock.Lock()
	defer lock.Unlock()

	turns, err := m.ledger.ReadAll(user)
	if err != nil {
		logger.WarnCF("session", "Failed to read history, answering without it", map[string]interface{}{
			"user":  user,
			"error": err.Error(),
		})
		turns = nil
	}

	gw := m.backends[m.defaultVariant]
	answer, err := gw.Ask(ctx, query, turns)
	if err != nil {
		return "", err
	}

	if answer != "" {
		m.appendPair(user, query, answer)
	}
	logger.DebugCF("session", "Single-shot answer", map[string]interface{}{
		"user":    user,
		"preview": utils.Truncate(answer, 80),
	})
	return answer, nil
}

// InSession reports whether user currently has a live (non-expired) session.
func (m *Manager) InSession(user string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[user]
	return ok && time.Since(s.lastActivity) <= m.timeout
}

// CleanupExpired ends every session whose idle window elapsed without its
// timer firing. It backs up the per-session timers; under normal operation
// it finds nothing to do.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	var expired []string
	for user, s := range m.sessions {
		if time.Since(s.lastActivity) > m.timeout {
			expired = append(expired, user)
		}
	}
	m.mu.Unlock()

	for _, user := range expired {
		m.expire(user)
	}
	return len(expired)
}

// Stats returns session counts for status reporting.
func (m *Manager) Stats() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	for _, s := range m.sessions {
		if time.Since(s.lastActivity) <= m.timeout {
			active++
		}
	}
	return map[string]int{
		"total":  len(m.sessions),
		"active": active,
	}
}

// Stop ends all sessions, used on service shutdown.
func (m *Manager) Stop() {
	m.mu.Lock()
	users := make([]string, 0, len(m.sessions))
	for user := range m.sessions {
		users = append(users, user)
	}
	m.mu.Unlock()

	for _, user := range users {
		m.EndSession(user)
	}
}

// runTurn performs one in-session backend round-trip. The per-user lock
// spans the gateway call, the history append, and the timer reset, so
// back-to-back turns for one user serialize while other users proceed
// independently.
func (m *Manager) runTurn(ctx context.Context, user, utterance string, reply TurnReply) {
	lock := m.userLock(user)
	lock.Lock()
	defer lock.Unlock()

	turns, err := m.ledger.ReadAll(user)
	if err != nil {
		logger.WarnCF("session", "Failed to read history, asking without it", map[string]interface{}{
			"user":  user,
			"error": err.Error(),
		})
		turns = nil
	}

	gw := m.sessionBackend(user)
	answer, err := gw.Ask(ctx, utterance, turns)

	// Any turn attempt counts as activity, success or not: the user is
	// still present, so the idle window restarts.
	m.touch(user)

	if err != nil {
		logger.ErrorCF("session", "Backend call failed", map[string]interface{}{
			"user":  user,
			"error": err.Error(),
		})
		if reply != nil {
			reply("", err)
		}
		return
	}

	if answer != "" {
		m.appendPair(user, utterance, answer)
	}
	if reply != nil {
		reply(answer, nil)
	}
}

// appendPair writes the query and its non-empty answer as consecutive
// ledger entries. Callers hold the user's lock.
func (m *Manager) appendPair(user, query, answer string) {
	if err := m.ledger.Append(user, history.SpeakerUser, query); err != nil {
		logger.ErrorCF("session", "Failed to append user turn", map[string]interface{}{
			"user":  user,
			"error": err.Error(),
		})
		return
	}
	if err := m.ledger.Append(user, history.SpeakerLLM, answer); err != nil {
		logger.ErrorCF("session", "Failed to append llm turn", map[string]interface{}{
			"user":  user,
			"error": err.Error(),
		})
	}
}

// touch advances the session's activity timestamp and replaces its timer.
// A session that ended while the turn was in flight stays ended; the
// round-trip's answer may still be delivered but never resurrects state.
func (m *Manager) touch(user string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[user]
	if !ok {
		return
	}
	s.lastActivity = time.Now()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(m.timeout, func() { m.expire(user) })
}

// expire is the timer callback. The elapsed check repeats under the lock
// because a refresh can race a timer that already fired.
func (m *Manager) expire(user string) {
	m.mu.Lock()
	s, ok := m.sessions[user]
	if !ok {
		m.mu.Unlock()
		return
	}
	if time.Since(s.lastActivity) <= m.timeout {
		m.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	delete(m.sessions, user)
	m.mu.Unlock()

	logger.InfoCF("session", "Chat session timed out", map[string]interface{}{"user": user})
	m.notifyEnd(user)
}

func (m *Manager) userLock(user string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.userLocks[user]
	if !ok {
		lock = &sync.Mutex{}
		m.userLocks[user] = lock
	}
	return lock
}

// sessionBackend picks the backend the user's session selected, or the
// default when the session is gone.
func (m *Manager) sessionBackend(user string) gateway.Gateway {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[user]; ok {
		if gw, ok := m.backends[s.variant]; ok {
			return gw
		}
	}
	return m.backends[m.defaultVariant]
}

func (m *Manager) resolveBackend(requested string) (string, gateway.Gateway) {
	name := normalizePhrase(requested)
	if name != "" {
		if gw, ok := m.backends[name]; ok {
			return name, gw
		}
		logger.WarnCF("session", "Unknown LLM variant requested, using default", map[string]interface{}{
			"requested": requested,
			"default":   m.defaultVariant,
		})
	}
	return m.defaultVariant, m.backends[m.defaultVariant]
}

func (m *Manager) isExitPhrase(utterance string) bool {
	normalized := normalizePhrase(utterance)
	for _, phrase := range m.exitPhrases {
		if normalized == phrase {
			return true
		}
	}
	return false
}

func normalizePhrase(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
