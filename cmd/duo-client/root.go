package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"duo/cmd/internal/syncclient"
	syncv1 "duo/shared/contracts/sync/v1"

	"github.com/spf13/cobra"
)

// clientEnv is shared by every subcommand once the config is loaded.
type clientEnv struct {
	cfgPath string
	cfg     clientConfig
	log     *slog.Logger
	out     io.Writer
	in      *os.File
	now     func() time.Time
}

func newRootCmd() *cobra.Command {
	env := &clientEnv{
		out: os.Stdout,
		in:  os.Stdin,
		now: time.Now,
	}

	root := &cobra.Command{
		Use:           "duo-client",
		Short:         "Terminal client for duo chats",
		Long:          "duo-client logs in to a duo server and keeps the open chat in sync by polling.",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(env.cfgPath)
			if err != nil {
				return err
			}
			if s, _ := cmd.Flags().GetString("server"); s != "" {
				cfg.Server = strings.TrimRight(s, "/")
			}
			env.cfg = cfg
			env.out = cmd.OutOrStdout()
			env.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: clientLogLevel(cfg.LogLevel)}))
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&env.cfgPath, "config", "c", defaultConfigPath(), "config file path")
	root.PersistentFlags().String("server", "", "server base URL (overrides the config file)")

	root.AddCommand(
		newLoginCmd(env),
		newChatsCmd(env),
		newSendCmd(env),
		newWatchCmd(env),
	)
	return root
}

func clientLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func (e *clientEnv) transport() (*syncclient.HTTPTransport, error) {
	return syncclient.NewHTTPTransport(e.cfg.Server, nil)
}

// authedTransport returns a transport carrying the saved token.
func (e *clientEnv) authedTransport() (*syncclient.HTTPTransport, savedSession, error) {
	s, err := loadSession(e.cfg, e.now())
	if err != nil {
		return nil, savedSession{}, err
	}
	tr, err := e.transport()
	if err != nil {
		return nil, savedSession{}, err
	}
	tr.SetToken(s.Token)
	return tr, s, nil
}

// openSession builds a sync session over the persistent cursor store. Close releases the store.
func (e *clientEnv) openSession() (*syncclient.Session, error) {
	tr, s, err := e.authedTransport()
	if err != nil {
		return nil, err
	}
	cursors, err := syncclient.OpenPebbleCursorStore(filepath.Join(e.cfg.DataDir, "cursors"))
	if err != nil {
		return nil, fmt.Errorf("open cursor store: %w", err)
	}
	return syncclient.NewSession(tr, cursors, syncv1.UserRef{ID: s.UserID, Username: s.Username},
		syncclient.WithLogger(e.log),
		syncclient.WithPollInterval(e.cfg.PollInterval),
	), nil
}
