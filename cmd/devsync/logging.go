package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"devsync-go/internal/config"
	"devsync-go/internal/util"
)

func (c *cli) logger(cfg *config.Config, cmd *cobra.Command) zerolog.Logger {
	if cmd.Name() == "serve" {
		return util.NewLogger(cfg.App.LogLevel).With().Str("app", cfg.App.Name).Logger()
	}
	level := cfg.App.LogLevel
	if c.v.GetString(keyLogLevel) == "" {
		// interactive commands stay quiet unless asked
		level = "warn"
	}
	return util.NewConsoleLogger(c.errOut, level)
}
