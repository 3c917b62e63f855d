package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/kbchat/internal/app"
	"github.com/markdave123-py/kbchat/internal/config"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "kbchat",
	Short:         "Chat with a knowledge base built from Excel and PDF files",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML tuning file")
	rootCmd.AddCommand(serveCmd, ingestCmd, askCmd, chatCmd, mcpCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("kbchat: %v", err)
	}
}

// loadApp reads configuration, sets up logging to logOut and builds every
// client.
func loadApp(ctx context.Context, logOut io.Writer) (*app.App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, logOut)
	slog.SetDefault(logger)
	return app.NewApp(ctx, cfg, logger)
}

// newLogger never writes to stdout, which is reserved for command output and
// the MCP transport.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
