package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/markdave123-py/kbchat/internal/api/mcpserver"
	"github.com/markdave123-py/kbchat/internal/app"
	"github.com/markdave123-py/kbchat/internal/models"
	"github.com/markdave123-py/kbchat/internal/tui"
)

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server (bot endpoint, chat API, ingestion trigger)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := loadApp(ctx, os.Stderr)
		if err != nil {
			return fmt.Errorf("startup failed: %w", err)
		}
		defer a.Close()

		srv := app.NewServer(a)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest every supported file from the blob container",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := loadApp(cmd.Context(), os.Stderr)
		if err != nil {
			return fmt.Errorf("startup failed: %w", err)
		}
		defer a.Close()

		summary, err := a.Ingest.Run(cmd.Context())
		if summary != nil {
			if perr := printSummary(cmd.OutOrStdout(), summary); perr != nil {
				return perr
			}
		}
		return err
	},
}

func printSummary(w io.Writer, s *models.IngestSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"status":          s.Status,
		"chunks_uploaded": s.ChunksUploaded,
		"summary":         s,
	})
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   `ask "question"`,
	Short: "Answer one question and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context(), os.Stderr)
		if err != nil {
			return fmt.Errorf("startup failed: %w", err)
		}
		defer a.Close()

		answer := a.Assistant.HandleQuestion(cmd.Context(), strings.Join(args, " "))
		_, err = fmt.Fprintln(cmd.OutOrStdout(), answer)
		return err
	},
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive terminal chat over the knowledge base",
	RunE: func(cmd *cobra.Command, _ []string) error {
		// log lines would draw over the UI
		a, err := loadApp(cmd.Context(), io.Discard)
		if err != nil {
			return fmt.Errorf("startup failed: %w", err)
		}
		defer a.Close()

		p := tea.NewProgram(tui.New(cmd.Context(), a.Assistant), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return err
		}
		return nil
	},
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the knowledge base to MCP clients over stdio",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := loadApp(ctx, os.Stderr)
		if err != nil {
			return fmt.Errorf("startup failed: %w", err)
		}
		defer a.Close()

		stdio := server.NewStdioServer(mcpserver.New(a.Assistant, version))
		slog.Info("MCP server started (stdio transport)")
		if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
