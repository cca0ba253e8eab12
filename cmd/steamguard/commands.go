package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jeremyhahn/go-steamguard/pkg/secret"
	"github.com/jeremyhahn/go-steamguard/pkg/steamguard"
	"github.com/jeremyhahn/go-steamguard/pkg/steamtime"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const secretEnv = "STEAMGUARD_SECRET"

var errNoSecret = errors.New("no secret: use --secret, " + secretEnv + " or the config file")

// app holds the command dependencies and persistent flag values.
type app struct {
	stdout       io.Writer
	stderr       io.Writer
	getenv       func(string) string
	isTerminal   func() bool
	readPassword func() ([]byte, error)

	configPath string
	secret     string
	encoding   string
	endpoint   string
	timeout    time.Duration
	debug      bool
}

func newApp() *app {
	fd := int(os.Stdin.Fd())
	return &app{
		stdout:       os.Stdout,
		stderr:       os.Stderr,
		getenv:       os.Getenv,
		isTerminal:   func() bool { return term.IsTerminal(fd) },
		readPassword: func() ([]byte, error) { return term.ReadPassword(fd) },
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "steamguard",
		Short:        "Generate Steam Guard mobile authenticator codes",
		SilenceUsage: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&a.secret, "secret", "", "shared secret (prefer "+secretEnv+")")
	pf.StringVar(&a.encoding, "encoding", "", "secret encoding: hex, base32 or base64 (default: guess)")
	pf.StringVar(&a.endpoint, "endpoint", "", "time endpoint URL (default: Steam)")
	pf.DurationVar(&a.timeout, "timeout", 0, "time request timeout (default 10s)")
	pf.BoolVar(&a.debug, "debug", false, "enable debug logging on stderr")

	root.AddCommand(a.codeCmd(), a.timeCmd(), a.versionCmd())
	return root
}

func (a *app) codeCmd() *cobra.Command {
	var (
		timestamp int64
		noSync    bool
		forceSync bool
		watch     bool
	)

	cmd := &cobra.Command{
		Use:   "code",
		Short: "Print the current code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.settings(cmd)
			if err != nil {
				return err
			}
			if noSync && forceSync {
				return errors.New("--no-sync and --force-sync are mutually exclusive")
			}
			if watch && cmd.Flags().Changed("time") {
				return errors.New("--watch cannot be combined with --time")
			}
			if noSync {
				s.sync = steamguard.SyncDisabled
			}
			if forceSync {
				s.sync = steamguard.SyncForce
			}

			log := newLogger(a.stderr, s.debug)
			clock, err := a.newClock(s, log)
			if err != nil {
				return err
			}
			key, err := a.resolveSecret(s)
			if err != nil {
				return err
			}

			cfg := steamguard.Config{
				Secret:   key,
				Encoding: s.encoding,
				Sync:     s.sync,
				Clock:    clock,
			}
			if cmd.Flags().Changed("time") {
				cfg.Time = &timestamp
			}

			ctx := cmd.Context()
			gen, err := steamguard.New(ctx, cfg)
			if err != nil {
				return err
			}
			if _, err := gen.Wait(ctx); err != nil {
				log.WithError(err).Warn("clock synchronization failed, using local clock")
			}

			for {
				code, err := gen.Code()
				if err != nil {
					return err
				}
				if !watch {
					fmt.Fprintln(a.stdout, code)
					return nil
				}
				fmt.Fprintf(a.stdout, "%s\t%2ds\n", code, int(gen.RemainingValidity().Round(time.Second)/time.Second))
				if err := sleepContext(ctx, gen.RemainingValidity()); err != nil {
					return nil
				}
			}
		},
	}

	f := cmd.Flags()
	f.Int64Var(&timestamp, "time", 0, "Unix timestamp in milliseconds to derive the code for; skips clock sync")
	f.BoolVar(&noSync, "no-sync", false, "skip clock synchronization")
	f.BoolVar(&forceSync, "force-sync", false, "always query the time endpoint")
	f.BoolVarP(&watch, "watch", "w", false, "print a new code every period until interrupted")
	return cmd
}

func (a *app) timeCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "time",
		Short: "Query the server clock and print the local offset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.settings(cmd)
			if err != nil {
				return err
			}
			log := newLogger(a.stderr, s.debug)
			clock, err := a.newClock(s, log)
			if err != nil {
				return err
			}

			offset, err := clock.Synchronize(cmd.Context(), force)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "offset_ms\t%d\nserver_time\t%s\n",
				offset, clock.Now().UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "ignore any stored offset")
	return cmd
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(a.stdout, version)
		},
	}
}

// settings merges the config file with flags; explicitly set flags win.
func (a *app) settings(cmd *cobra.Command) (*settings, error) {
	fc, err := loadConfig(a.configPath)
	if err != nil {
		return nil, err
	}
	s, err := fc.toSettings()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if env := a.getenv(secretEnv); env != "" {
		s.secret = env
	}
	if flags.Changed("secret") {
		s.secret = a.secret
	}
	if flags.Changed("encoding") {
		s.encoding = secret.Encoding(a.encoding)
		if err := s.encoding.Validate(); err != nil {
			return nil, err
		}
	}
	if flags.Changed("endpoint") {
		s.endpoint = a.endpoint
	}
	if flags.Changed("timeout") {
		s.timeout = a.timeout
	}
	if flags.Changed("debug") {
		s.debug = a.debug
	}
	return s, nil
}

func (a *app) newClock(s *settings, log logrus.FieldLogger) (*steamtime.Clock, error) {
	return steamtime.NewClock(steamtime.Config{
		Endpoint: s.endpoint,
		Timeout:  s.timeout,
		Logger:   log,
	})
}

// resolveSecret falls back to a hidden prompt when stdin is a terminal.
func (a *app) resolveSecret(s *settings) (string, error) {
	if s.secret != "" {
		return s.secret, nil
	}
	if !a.isTerminal() {
		return "", errNoSecret
	}

	fmt.Fprint(a.stderr, "Shared secret: ")
	raw, err := a.readPassword()
	fmt.Fprintln(a.stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	if len(raw) == 0 {
		return "", errNoSecret
	}
	return string(raw), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
