package main

import (
	"github.com/spf13/cobra"

	"github.com/vovakirdan/deploydeck/internal/app"
	"github.com/vovakirdan/deploydeck/internal/config"
)

func newServeCmd(c *cli) *cobra.Command {
	var overrides config.Config

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the backend: REST API, realtime feed and maintenance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := c.cfg
			cfg.UpdateFrom(overrides)
			if err := config.Validate(cfg); err != nil {
				return err
			}

			application, err := app.New(&cfg, c.logger)
			if err != nil {
				return err
			}

			c.logger.Info().Str("addr", cfg.Addr).Msg("starting deploydeck server")
			if err := application.Run(cmd.Context()); err != nil {
				return err
			}
			c.logger.Info().Msg("server stopped")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	flags.StringVar(&overrides.DatabasePath, "db", "", "SQLite database path")
	flags.DurationVar(&overrides.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	flags.DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	flags.StringVar(&overrides.AdminEmail, "admin-email", "", "email that receives the admin role on sign-up")
	return cmd
}
