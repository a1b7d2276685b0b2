package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grabbit/grabbit/internal/config"
	"github.com/grabbit/grabbit/internal/state"
)

var sessionsCommand = &cobra.Command{
	Use:   "sessions",
	Short: "List journaled sessions, most recent first",
	RunE:  listSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCommand)
}

func listSessions(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	journal, err := state.Open(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	sessions, err := journal.Sessions(cmd.Context())
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, id := range sessions {
		fmt.Fprintln(out, id)
	}
	return nil
}
