package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/milo/internal/common"
	"github.com/Veraticus/milo/internal/config"
	"github.com/Veraticus/milo/internal/discord"
)

func registerCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register-commands",
		Short: "Register the slash commands with Discord",
		Long: `Overwrite the application's global slash commands with /start, /end,
/status, /undo, and /delete. Needs discord.application_id.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.RequireDiscord(); err != nil {
				return err
			}
			if cfg.Discord.ApplicationID == "" {
				return fmt.Errorf("%w: discord.application_id (or DISCORD_APPLICATION_ID)", common.ErrMissingConfig)
			}

			client, err := discord.NewClient(discord.ClientConfig{
				Token:         cfg.Discord.Token,
				ApplicationID: cfg.Discord.ApplicationID,
				BaseURL:       cfg.Discord.APIBase,
			}, slog.Default())
			if err != nil {
				return err
			}

			registered, err := client.RegisterCommands(cmd.Context(), discord.DefaultCommands())
			if err != nil {
				return fmt.Errorf("failed to register commands: %w", err)
			}

			for _, c := range registered {
				slog.Info("Registered command", "name", c.Name, "id", c.ID)
			}
			return nil
		},
	}
}
