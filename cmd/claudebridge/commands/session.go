package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/event"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage stored sessions",
}

var sessionSummaryCmd = &cobra.Command{
	Use:   "summary <session-id>",
	Short: "Print cost, tool count and last activity of a session",
	Args:  cobra.ExactArgs(1),
	RunE: withSessions(func(cmd *cobra.Command, m *session.Manager, args []string) error {
		summary, err := m.Summary(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}),
}

var sessionEndCmd = &cobra.Command{
	Use:   "end <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: withSessions(func(cmd *cobra.Command, m *session.Manager, args []string) error {
		if err := m.End(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("session %s ended\n", args[0])
		return nil
	}),
}

var sessionSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove sessions idle longer than the configured TTL",
	RunE: withSessions(func(cmd *cobra.Command, m *session.Manager, args []string) error {
		n, err := m.Sweep(cmd.Context())
		fmt.Printf("removed %d expired session(s)\n", n)
		return err
	}),
}

func init() {
	sessionCmd.AddCommand(sessionSummaryCmd)
	sessionCmd.AddCommand(sessionEndCmd)
	sessionCmd.AddCommand(sessionSweepCmd)
}

// withSessions opens the configured store for a session subcommand.
func withSessions(fn func(*cobra.Command, *session.Manager, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		defer closeLogs()

		if cfg.Storage.Driver == "memory" {
			return fmt.Errorf("storage driver %q keeps no sessions between runs", cfg.Storage.Driver)
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		m := session.NewManager(store, session.Options{
			TTL:        cfg.Session.TTL.Std(),
			BusyPolicy: cfg.Session.BusyPolicy,
			Publisher:  event.Default(),
		})
		return fn(cmd, m, args)
	}
}

