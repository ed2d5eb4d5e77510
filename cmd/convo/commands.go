// Convo - conversational session gateway
// License: MIT
//
// Copyright (c) 2026 Convo contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/dotsetgreg/convo/pkg/bus"
	"github.com/dotsetgreg/convo/pkg/channels"
	"github.com/dotsetgreg/convo/pkg/config"
	"github.com/dotsetgreg/convo/pkg/export"
	"github.com/dotsetgreg/convo/pkg/health"
	"github.com/dotsetgreg/convo/pkg/logger"
	"github.com/dotsetgreg/convo/pkg/session"
)

func timeoutDuration(cfg *config.Config) time.Duration {
	if cfg.Session.TimeoutSeconds <= 0 {
		return session.DefaultTimeout
	}
	return time.Duration(cfg.Session.TimeoutSeconds) * time.Second
}

func validateRuntimeConfig(cfg *config.Config, requireDiscord bool) error {
	if len(cfg.Backend.Variants) == 0 {
		return fmt.Errorf("no LLM backend variants configured (edit %s)", getConfigPath())
	}
	key := strings.ToLower(strings.TrimSpace(cfg.Backend.DefaultVariant))
	if _, ok := cfg.Backend.Variants[key]; !ok {
		return fmt.Errorf("default variant %q is not configured", cfg.Backend.DefaultVariant)
	}
	if requireDiscord && strings.TrimSpace(cfg.Channels.Discord.Token) == "" {
		return fmt.Errorf("discord token is not set (required for gateway mode)")
	}
	return nil
}

func chatCmd() {
	message := ""
	user := ""

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--debug", "-d":
			logger.SetLevel(logger.DEBUG)
			fmt.Println("🔍 Debug mode enabled")
		case "-m", "--message":
			if i+1 < len(args) {
				message = args[i+1]
				i++
			}
		case "-u", "--user":
			if i+1 < len(args) {
				user = args[i+1]
				i++
			}
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := validateRuntimeConfig(cfg, false); err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		os.Exit(1)
	}
	if user == "" {
		user = cfg.DefaultUser()
	}

	c, err := buildCore(cfg)
	if err != nil {
		fmt.Printf("Error initializing session stack: %v\n", err)
		os.Exit(1)
	}
	defer c.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = c.router.Run(ctx)
	}()

	if message != "" {
		oneShot(ctx, c, cfg, user, message)
		return
	}

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n", appName)
	fmt.Printf("Say \"chat with %s\" to open a session, or just ask away.\n\n", cfg.Backend.DefaultVariant)
	interactiveMode(ctx, c, user)
}

// oneShot publishes a single utterance and waits for the reply on the
// outbound bus. The deadline covers the backend round trip plus slack.
func oneShot(ctx context.Context, c *core, cfg *config.Config, user, message string) {
	wait := time.Duration(cfg.Backend.TimeoutSeconds)*time.Second + 15*time.Second
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	c.bus.PublishInbound(bus.InboundMessage{
		Channel:   "cli",
		ChatID:    "direct",
		UserID:    user,
		Utterance: message,
	})

	for {
		msg, ok := c.bus.SubscribeOutbound(waitCtx)
		if !ok {
			fmt.Println("Error: timed out waiting for a reply")
			os.Exit(1)
		}
		if msg.Channel != "cli" {
			continue
		}
		fmt.Printf("\n%s %s\n", appName, msg.Content)
		return
	}
}

func interactiveMode(ctx context.Context, c *core, user string) {
	prompt := fmt.Sprintf("%s You: ", appName)

	// Replies arrive asynchronously on the outbound bus.
	go func() {
		for {
			msg, ok := c.bus.SubscribeOutbound(ctx)
			if !ok {
				return
			}
			if msg.Channel != "cli" {
				continue
			}
			fmt.Printf("\n%s %s\n%s", appName, msg.Content, prompt)
		}
	}()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".convo_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		c.bus.PublishInbound(bus.InboundMessage{
			Channel:   "cli",
			ChatID:    "direct",
			UserID:    user,
			Utterance: input,
		})
	}
}

func gatewayCmd() {
	args := os.Args[2:]
	for _, arg := range args {
		if arg == "--debug" || arg == "-d" {
			logger.SetLevel(logger.DEBUG)
			fmt.Println("🔍 Debug mode enabled")
			break
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := validateRuntimeConfig(cfg, true); err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		os.Exit(1)
	}

	c, err := buildCore(cfg)
	if err != nil {
		fmt.Printf("Error initializing session stack: %v\n", err)
		os.Exit(1)
	}

	channelManager, err := channels.NewManager(cfg, c.bus)
	if err != nil {
		fmt.Printf("Error creating channel manager: %v\n", err)
		os.Exit(1)
	}

	sweeper, err := session.NewSweeper(c.manager, cfg.Session.SweepCron)
	if err != nil {
		fmt.Printf("Error creating session sweeper: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Backend variants: %s (default: %s)\n",
		strings.Join(variantNames(cfg), ", "), cfg.Backend.DefaultVariant)
	fmt.Printf("✓ Idle timeout: %s\n", timeoutDuration(cfg))
	enabledChannels := channelManager.GetEnabledChannels()
	fmt.Printf("✓ Channels enabled: %s\n", strings.Join(enabledChannels, ", "))
	fmt.Println("Press Ctrl+C to stop")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sweeper.Start(ctx); err != nil {
		fmt.Printf("Error starting session sweeper: %v\n", err)
	}
	fmt.Println("✓ Session sweeper started")

	if err := channelManager.StartAll(ctx); err != nil {
		fmt.Printf("Error starting channels: %v\n", err)
		cancel()
		sweeper.Stop()
		c.close()
		os.Exit(1)
	}

	healthServer := health.NewServer(cfg.Gateway.Host, cfg.Gateway.Port)
	go func() {
		if err := healthServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("health", "Health server error", map[string]interface{}{"error": err.Error()})
		}
	}()
	fmt.Printf("✓ Health endpoints available at http://%s:%d/health and /ready\n", cfg.Gateway.Host, cfg.Gateway.Port)

	go func() {
		_ = c.router.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	healthServer.Stop(context.Background())
	sweeper.Stop()
	channelManager.StopAll(ctx)
	c.close()
	fmt.Println("✓ Gateway stopped")
}

func exportCmd() {
	user := ""
	address := ""

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-u", "--user":
			if i+1 < len(args) {
				user = args[i+1]
				i++
			}
		case "--to":
			if i+1 < len(args) {
				address = args[i+1]
				i++
			}
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if user == "" {
		user = cfg.DefaultUser()
	}

	c, err := buildCore(cfg)
	if err != nil {
		fmt.Printf("Error initializing session stack: %v\n", err)
		os.Exit(1)
	}
	defer c.close()

	req, err := c.adapter.BuildEmailRequest(user, address)
	if err != nil {
		switch {
		case errors.Is(err, export.ErrNoHistory):
			fmt.Printf("No chat history recorded for %q.\n", user)
		case errors.Is(err, export.ErrNoDestination):
			fmt.Println("No destination address. Pass one with --to.")
		default:
			fmt.Printf("Error: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Printf("Request: %s\n", req.ID)
	fmt.Printf("To:      %s\n", req.Address)
	fmt.Printf("Subject: %s\n", req.Subject)
	fmt.Println()
	fmt.Println(req.Body)
}

func statusCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	configPath := getConfigPath()

	fmt.Printf("%s Status\n", appName)
	fmt.Printf("Version: %s\n", formatVersion())
	fmt.Println()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "✓")
	} else {
		fmt.Println("Config:", configPath, "✗")
	}

	if cfg.History.Path != "" {
		if _, err := os.Stat(cfg.History.Path); err == nil {
			fmt.Println("History DB:", cfg.History.Path, "✓")
		} else {
			fmt.Println("History DB:", cfg.History.Path, "not initialized")
		}
	} else {
		fmt.Println("History DB: in-memory only")
	}

	fmt.Printf("Idle timeout: %s\n", timeoutDuration(cfg))
	fmt.Printf("Default user: %s\n", cfg.DefaultUser())

	status := func(enabled bool) string {
		if enabled {
			return "✓"
		}
		return "not set"
	}
	fmt.Println("Fallback mode:", status(cfg.FallbackEnabled()))

	names := variantNames(cfg)
	defaultKey := strings.ToLower(strings.TrimSpace(cfg.Backend.DefaultVariant))
	fmt.Println("Variants:")
	for _, name := range names {
		marker := " "
		if strings.ToLower(name) == defaultKey {
			marker = "*"
		}
		v := cfg.Backend.Variants[name]
		fmt.Printf("  %s %s (%s, key %s)\n", marker, name, v.Model, status(strings.TrimSpace(v.APIKey) != ""))
	}

	discordReady := strings.TrimSpace(cfg.Channels.Discord.Token) != ""
	fmt.Println("Discord token:", status(discordReady))
	fmt.Println("Gateway ready:", status(discordReady))
}

func variantNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Backend.Variants))
	for name := range cfg.Backend.Variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
