// Package main provides the CLI entry point for the desktop assistant.
//
// # Basic Usage
//
// Start an interactive chat session:
//
//	assistant chat --config assistant.yaml
//
// Environment variables:
//
//   - OPENAI_API_KEY: API key for the cloud LLM provider
//   - OLLAMA_HOST: base URL for the local LLM provider
//   - MCP_CONFIG_PATH: path to the .mcp.json document
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kestrel-run/deskagent/internal/config"
	"github.com/kestrel-run/deskagent/internal/wiring"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "assistant",
		Short:        "A desktop assistant with hierarchical multi-agent orchestration",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildChatCmd(), buildStatusCmd())
	return rootCmd
}

func buildChatCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML/JSON5 configuration file")
	return cmd
}

func buildStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Start every subsystem, print its registered tools, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML/JSON5 configuration file")
	return cmd
}

func runStatus(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	app, err := wiring.Start(ctx, cfg)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer app.Stop(ctx)

	fmt.Println("registered tools:")
	for _, d := range app.Registry.List() {
		fmt.Printf("  %-20s %s (%s)\n", d.Name, d.Description, d.Origin)
	}
	return nil
}

func runChat(parent context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	app, err := wiring.Start(ctx, cfg)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer app.Stop(context.Background())

	fmt.Println("assistant ready. Type a message, or /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Text()
		if line == "/quit" {
			return nil
		}
		if line == "" {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}

		out, err := app.Router.Route(ctx, "local-user", line)
		if err != nil {
			// Route already logged the full error to ERROR_TRACEBACK;
			// out carries the short, user-facing translation of it.
			fmt.Fprintln(os.Stderr, out)
			continue
		}
		fmt.Println(out)
	}
}
