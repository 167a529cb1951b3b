// Command querydb-chat is a terminal front end for a running querydb proxy.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gv211432/QueryDB-Natural-Language/cli"
	"github.com/gv211432/QueryDB-Natural-Language/conversation"
	"github.com/gv211432/QueryDB-Natural-Language/gateway"
	"github.com/gv211432/QueryDB-Natural-Language/logging"
)

var (
	proxyURL string
	dbURI    string
	dbKind   string
	timeout  time.Duration
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "querydb-chat",
	Short:         "Ask a database questions in plain language",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	},
}

func init() {
	rootCmd.Flags().StringVar(&proxyURL, "proxy", "http://localhost:3000", "base URL of the querydb proxy")
	rootCmd.Flags().StringVar(&dbURI, "uri", "", "database connection URI to start with")
	rootCmd.Flags().StringVar(&dbKind, "kind", "postgresql", "database kind: postgresql, mysql, sqlite, mongodb, other")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "per-question timeout")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "error", "log level for diagnostics on stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logger, err := logging.New(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	client := gateway.NewClient(proxyURL, timeout, logger.Named("client"))
	session := conversation.NewSession(uuid.NewString(), client, nil, logger)
	defer session.Close()

	if dbURI != "" {
		if err := session.Controller.SetConnection(dbURI, conversation.ParseKind(dbKind)); err != nil {
			return err
		}
	}

	logger.Debug("Starting shell", zap.String("proxy", proxyURL))
	shell := cli.NewShell(session, cli.NewUI(os.Stdout, true))
	return shell.Run(ctx, historyPath())
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".querydb_history")
}
