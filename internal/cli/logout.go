package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/j-veylop/claude-usage-watch/internal/services/alerts"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the stored session key",
	RunE:  runLogout,
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(_ *cobra.Command, _ []string) error {
	svc, kv, database, err := openSession()
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	if err := svc.Logout(context.Background(), nil); err != nil {
		return err
	}

	// Alert dedup state belongs to the session that produced it.
	if err := alerts.ClearState(kv); err != nil {
		return err
	}

	fmt.Println("Logged out.")
	return nil
}
