package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/grabbit/grabbit/internal/config"
	"github.com/grabbit/grabbit/internal/export"
	"github.com/grabbit/grabbit/internal/state"
)

var replayCommand = &cobra.Command{
	Use:   "replay",
	Short: "Re-render a session report from the journal",
	Long: `Reads a past session's events back from the journal and renders its
report. Rendering is deterministic: replaying the same session always
produces byte-identical output.`,
	RunE: replaySessionCmd,
}

var (
	replaySessionID string
	replayOutPath   string
)

func init() {
	replayCommand.Flags().StringVarP(&replaySessionID, "session", "s", "", "Session ID to replay (defaults to the most recent)")
	replayCommand.Flags().StringVarP(&replayOutPath, "out", "o", "", "Write the report to a file instead of stdout")

	rootCmd.AddCommand(replayCommand)
}

func replaySessionCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	journal, err := state.Open(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	ctx := cmd.Context()

	sessionID := replaySessionID
	if sessionID == "" {
		sessions, err := journal.Sessions(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(sessions) == 0 {
			return fmt.Errorf("journal %s has no sessions", cfg.JournalPath)
		}
		sessionID = sessions[0]
	}

	evts, err := journal.Replay(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("replay session %s: %w", sessionID, err)
	}
	if len(evts) == 0 {
		return fmt.Errorf("no events recorded for session %s", sessionID)
	}

	data, err := export.Render(evts)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}

	if replayOutPath != "" {
		if err := os.WriteFile(replayOutPath, data, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		return nil
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
