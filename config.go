package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	answerWindow time.Duration
	autoNext     bool
	autoStart    bool
	bind         string
	levels       string
	minPlayers   int
	port         int
	postReveal   time.Duration
	prefix       string
	profile      bool
	tlsCert      string
	tlsKey       string
	verbose      bool
	version      bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.minPlayers < 1 {
		return fmt.Errorf("invalid minimum player count (must be at least 1): %d", c.minPlayers)
	}
	if c.answerWindow <= 0 {
		return fmt.Errorf("invalid answer window (must be positive): %s", c.answerWindow)
	}
	if c.postReveal <= 0 {
		return fmt.Errorf("invalid post-reveal delay (must be positive): %s", c.postReveal)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("THISORTHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "thisorthat...",
		Short:         "A synchronous \"this or that\" party game, served over websockets.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.DurationVar(&cfg.answerWindow, "answer-window", 30*time.Second, "time players have to answer each level (env: THISORTHAT_ANSWER_WINDOW)")
	fs.BoolVar(&cfg.autoNext, "auto-next", false, "advance to the next level automatically after each reveal (env: THISORTHAT_AUTO_NEXT)")
	fs.BoolVar(&cfg.autoStart, "auto-start", false, "start the game automatically once enough players have joined (env: THISORTHAT_AUTO_START)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: THISORTHAT_BIND)")
	fs.StringVar(&cfg.levels, "levels", "levels", "directory containing level<N>.json option files (env: THISORTHAT_LEVELS)")
	fs.IntVar(&cfg.minPlayers, "min-players", 8, "minimum number of active players required to start (env: THISORTHAT_MIN_PLAYERS)")
	fs.IntVarP(&cfg.port, "port", "p", 3001, "port to listen on (env: THISORTHAT_PORT)")
	fs.DurationVar(&cfg.postReveal, "post-reveal", 10*time.Second, "delay before auto-advancing after a reveal (env: THISORTHAT_POST_REVEAL)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: THISORTHAT_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: THISORTHAT_PROFILE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: THISORTHAT_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: THISORTHAT_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: THISORTHAT_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: THISORTHAT_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("thisorthat v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
