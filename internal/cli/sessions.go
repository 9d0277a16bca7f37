package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/enso/internal/config"
	"github.com/harun/enso/pkg/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored session transcripts",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	RunE:  runSessionsList,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete one stored session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete sessions older than the retention window",
	RunE:  runSessionsSweep,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsSweepCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func openSessionStore() (*session.Store, *config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	store, err := session.OpenStore(cfg.Session.StorePath, zerolog.Nop())
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	return store, cfg, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, _, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	infos, err := store.ListSessions(cmd.Context())
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No stored sessions.")
		return nil
	}

	for _, info := range infos {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %4d messages  last active %s\n",
			info.ID, info.MessageCount, info.UpdatedAt.Local().Format(time.RFC3339))
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, _, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteSession(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}

func runSessionsSweep(cmd *cobra.Command, args []string) error {
	store, cfg, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	deleted, err := store.DeleteOlderThan(cmd.Context(), time.Now().Add(-cfg.Session.Retention))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d expired sessions\n", deleted)
	return nil
}
