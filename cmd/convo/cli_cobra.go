package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func executeCLI() error {
	root := buildRootCommand()
	if err := root.Execute(); err != nil {
		return err
	}
	return nil
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "convo",
		Short: "Conversational LLM session gateway with idle timeouts and a history ledger",
		Long: strings.TrimSpace(`convo mediates between chat front-ends and remote LLM backends.

Use CLI commands to chat locally, run the Discord gateway, export chat
history, and inspect runtime readiness.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newChatCommand())
	root.AddCommand(newGatewayCommand())
	root.AddCommand(newExportCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func runLegacyWithArgs(args []string, fn func()) error {
	original := os.Args
	os.Args = append([]string{original[0]}, args...)
	defer func() {
		os.Args = original
	}()
	fn()
	return nil
}

func newChatCommand() *cobra.Command {
	var (
		message string
		user    string
		debug   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the LLM backend from the terminal",
		Long:  "Run an interactive local chat session or send a one-shot utterance without Discord.",
		Example: strings.Join([]string{
			"  convo chat",
			"  convo chat --user alice",
			"  convo chat --message \"ask chatgpt what is the largest moon\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			legacyArgs := []string{"chat"}
			if debug {
				legacyArgs = append(legacyArgs, "--debug")
			}
			if strings.TrimSpace(message) != "" {
				legacyArgs = append(legacyArgs, "--message", message)
			}
			if strings.TrimSpace(user) != "" {
				legacyArgs = append(legacyArgs, "--user", user)
			}
			return runLegacyWithArgs(legacyArgs, chatCmd)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot utterance to send")
	cmd.Flags().StringVarP(&user, "user", "u", "", "User ID for session and history attribution")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func newGatewayCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "gateway",
		Short:   "Run the Discord gateway + health server",
		Long:    "Start channel adapters, the session router, the expiry sweeper, and health endpoints.",
		Example: "  convo gateway --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			legacyArgs := []string{"gateway"}
			if debug {
				legacyArgs = append(legacyArgs, "--debug")
			}
			return runLegacyWithArgs(legacyArgs, gatewayCmd)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newExportCommand() *cobra.Command {
	var (
		user    string
		address string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Build an email export of a user's chat history",
		Example: strings.Join([]string{
			"  convo export --to me@example.com",
			"  convo export --user alice --to alice@example.com",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			legacyArgs := []string{"export"}
			if strings.TrimSpace(user) != "" {
				legacyArgs = append(legacyArgs, "--user", user)
			}
			if strings.TrimSpace(address) != "" {
				legacyArgs = append(legacyArgs, "--to", address)
			}
			return runLegacyWithArgs(legacyArgs, exportCmd)
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User ID whose history to export")
	cmd.Flags().StringVar(&address, "to", "", "Destination email address")

	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration, backend, and runtime readiness",
		Example: "  convo status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLegacyWithArgs([]string{"status"}, statusCmd)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  convo version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
