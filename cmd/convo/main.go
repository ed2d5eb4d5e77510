// Convo - conversational session gateway
// License: MIT
//
// Copyright (c) 2026 Convo contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dotsetgreg/convo/pkg/bus"
	"github.com/dotsetgreg/convo/pkg/config"
	"github.com/dotsetgreg/convo/pkg/export"
	"github.com/dotsetgreg/convo/pkg/gateway"
	"github.com/dotsetgreg/convo/pkg/history"
	"github.com/dotsetgreg/convo/pkg/router"
	"github.com/dotsetgreg/convo/pkg/session"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "convo"

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	fmt.Printf("  Go:    %s\n", goVer)
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	if path := os.Getenv("CONVO_CONFIG"); path != "" {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".convo", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

// core bundles the wired session stack shared by the chat, gateway, and
// export commands.
type core struct {
	cfg     *config.Config
	bus     *bus.MessageBus
	ledger  history.Ledger
	adapter *export.Adapter
	manager *session.Manager
	router  *router.Router
}

func buildCore(cfg *config.Config) (*core, error) {
	var ledger history.Ledger
	if cfg.History.Path != "" {
		sqliteLedger, err := history.NewSQLiteLedger(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("open history ledger: %w", err)
		}
		ledger = sqliteLedger
	} else {
		ledger = history.NewMemoryLedger()
	}

	backends, err := gateway.BuildGateways(cfg.Backend)
	if err != nil {
		return nil, err
	}

	msgBus := bus.NewMessageBus()
	manager, err := session.NewManager(session.Config{
		Backends:       backends,
		DefaultVariant: strings.ToLower(strings.TrimSpace(cfg.Backend.DefaultVariant)),
		Timeout:        timeoutDuration(cfg),
		ExitPhrases:    cfg.Session.ExitPhrases,
	}, ledger, nil)
	if err != nil {
		return nil, err
	}

	adapter := export.NewAdapter(ledger, msgBus, manager.Timeout())
	manager.SetNotifier(adapter)

	rt := router.NewRouter(cfg, manager, adapter, msgBus)

	return &core{
		cfg:     cfg,
		bus:     msgBus,
		ledger:  ledger,
		adapter: adapter,
		manager: manager,
		router:  rt,
	}, nil
}

func (c *core) close() {
	c.manager.Stop()
	c.bus.Close()
	if closer, ok := c.ledger.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
