package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vovakirdan/deploydeck/internal/backend/remote"
	"github.com/vovakirdan/deploydeck/internal/config"
	"github.com/vovakirdan/deploydeck/internal/log"
)

// cli holds state shared by all commands once the root pre-run has loaded
// configuration.
type cli struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    config.Config
	logger *zerolog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "deploydeck",
		Short:         "Deployment console backend, chat client and admin tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "path to config.yaml")
	flags.StringVar(&c.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flags.StringVar(&c.logFormat, "log-format", "", "log format override (console, json)")

	root.AddCommand(
		newServeCmd(c),
		newChatCmd(c),
		newAdminCmd(c),
	)
	return root
}

func (c *cli) load() error {
	bootstrap := log.NewWithWriter(os.Stderr, "info", "console")

	cfg, path, err := config.Load(bootstrap, c.configPath)
	if err != nil {
		return err
	}
	cfg.UpdateFrom(config.Config{LogLevel: c.logLevel, LogFormat: c.logFormat})

	c.cfg = cfg
	c.logger = log.NewWithWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	c.logger.Debug().Str("config", path).Msg("configuration loaded")
	return nil
}

// credentials are shared by the client-side commands.
type credentials struct {
	server   string
	email    string
	password string
	fullName string
	signUp   bool
}

func (cr *credentials) register(flags *pflag.FlagSet) {
	flags.StringVar(&cr.server, "server", "", "server base URL (default from config)")
	flags.StringVar(&cr.email, "email", os.Getenv("DEPLOYDECK_EMAIL"), "account email")
	flags.StringVar(&cr.password, "password", os.Getenv("DEPLOYDECK_PASSWORD"), "account password")
	flags.StringVar(&cr.fullName, "name", "", "full name, used with --signup")
	flags.BoolVar(&cr.signUp, "signup", false, "create the account before signing in")
}

// connect builds a remote client and authenticates it.
func (cr *credentials) connect(ctx context.Context, c *cli) (*remote.Client, backendUser, error) {
	baseURL := cr.server
	if baseURL == "" {
		baseURL = c.cfg.Client.BaseURL
	}
	if cr.email == "" || cr.password == "" {
		return nil, backendUser{}, errors.New("--email and --password (or DEPLOYDECK_EMAIL / DEPLOYDECK_PASSWORD) are required")
	}

	client, err := remote.New(baseURL, remote.WithLogger(c.logger))
	if err != nil {
		return nil, backendUser{}, err
	}

	authenticate := func() (backendUser, error) {
		resp, err := client.SignIn(ctx, cr.email, cr.password)
		if err != nil {
			return backendUser{}, err
		}
		return userFromRecord(resp.User)
	}
	if cr.signUp {
		authenticate = func() (backendUser, error) {
			resp, err := client.SignUp(ctx, cr.email, cr.password, cr.fullName)
			if err != nil {
				return backendUser{}, err
			}
			return userFromRecord(resp.User)
		}
	}

	user, err := authenticate()
	if err != nil {
		return nil, backendUser{}, fmt.Errorf("authenticate against %s: %w", baseURL, err)
	}
	c.logger.Debug().Str("user_id", user.ID).Str("role", user.Role).Msg("authenticated")
	return client, user, nil
}
