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
		Use:   "wakegate",
		Short: "Group-chat wake decision gateway for Discord",
		Long: strings.TrimSpace(`wakegate decides when a group-chat agent should speak.

It scores every group message through a cascade of wake signals (mentions,
topic relevance, question detection, probabilistic wake) and enforces timed
mute and shutup policies, so the agent joins conversations without being
summoned for every line.`),
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

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newGatewayCommand())
	root.AddCommand(newSimulateCommand())
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

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.wakegate configuration",
		Long:    "Create the default configuration file for a new wakegate installation.",
		Example: "  wakegate onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLegacyWithArgs([]string{"onboard"}, onboard)
		},
	}
}

func newGatewayCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "gateway",
		Short:   "Run the Discord gateway with the wake engine",
		Long:    "Start the Discord channel adapter, wake evaluator, history store, and maintenance scheduler.",
		Example: "  wakegate gateway --debug",
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

func newSimulateCommand() *cobra.Command {
	var (
		group string
		user  string
		debug bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Evaluate wake decisions interactively without Discord",
		Long:  "Run a local REPL that feeds messages through the same evaluator the gateway uses and prints every decision.",
		Example: strings.Join([]string{
			"  wakegate simulate",
			"  wakegate simulate --group dev-room --user alice",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			legacyArgs := []string{"simulate"}
			if debug {
				legacyArgs = append(legacyArgs, "--debug")
			}
			if strings.TrimSpace(group) != "" {
				legacyArgs = append(legacyArgs, "--group", group)
			}
			if strings.TrimSpace(user) != "" {
				legacyArgs = append(legacyArgs, "--user", user)
			}
			return runLegacyWithArgs(legacyArgs, simulateCmd)
		},
	}

	cmd.Flags().StringVarP(&group, "group", "g", "sim:group", "Group id for the simulated conversation")
	cmd.Flags().StringVarP(&user, "user", "u", "sim:user", "Sender id for the simulated messages")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and gateway readiness",
		Example: "  wakegate status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLegacyWithArgs([]string{"status"}, statusCmd)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  wakegate version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
