// Package main provides the agentdock CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/richinex/agentdock/cli"
	"github.com/richinex/agentdock/internal/logger"
)

var opts cli.Options

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "agentdock",
		Short: "Tool-augmented streaming agents over HTTP",
		Long: `agentdock serves configurable LLM agents whose tools come from
OpenAPI documents, MCP servers and uploaded documents.

Agent-scoped commands read the same database as the server and act on
behalf of --user.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.Provider, "provider", "p", "", "LLM provider (openai, anthropic, deepseek, gemini); defaults to LLM_PROVIDER")
	rootCmd.PersistentFlags().StringVarP(&opts.User, "user", "u", os.Getenv("AGENTDOCK_USER"), "Owner of the agent (defaults to AGENTDOCK_USER)")
	rootCmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Log at debug level")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(translateCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(toolsCmd())

	err := rootCmd.ExecuteContext(ctx)
	logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Serve(cmd.Context(), opts)
		},
	}
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [agentID] [file]",
		Short: "Add a text or PDF file to an agent's documents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Ingest(cmd.Context(), cmd.OutOrStdout(), args[0], args[1], opts)
		},
	}
}

func searchCmd() *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:   "search [agentID] [query]",
		Short: "Query an agent's documents the way doc_search does",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Search(cmd.Context(), cmd.OutOrStdout(), args[0], args[1], k, opts)
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of chunks to return (defaults to RETRIEVAL_TOP_K)")

	return cmd
}

func translateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "translate [file-or-url]",
		Short: "Print the tools an OpenAPI document translates to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Translate(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func chatCmd() *cobra.Command {
	var chat cli.ChatOptions

	cmd := &cobra.Command{
		Use:   "chat [agentID] [message]",
		Short: "Send one message and print the event stream as NDJSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Chat(cmd.Context(), cmd.OutOrStdout(), args[0], args[1], chat, opts)
		},
	}

	cmd.Flags().StringVar(&chat.SessionID, "session", "", "Session ID for conversation persistence")
	cmd.Flags().BoolVar(&chat.NoStream, "no-stream", false, "Wait for the full answer instead of streaming tokens")

	return cmd
}

func toolsCmd() *cobra.Command {
	var verboseTools bool

	cmd := &cobra.Command{
		Use:   "tools [agentID]",
		Short: "List the tools an agent would be offered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListTools(cmd.Context(), cmd.OutOrStdout(), args[0], verboseTools, opts)
		},
	}

	cmd.Flags().BoolVarP(&verboseTools, "verbose", "V", false, "Print full descriptors as JSON")

	return cmd
}
