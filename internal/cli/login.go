package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/j-veylop/claude-usage-watch/internal/db"
	"github.com/j-veylop/claude-usage-watch/internal/services/session"
	"github.com/j-veylop/claude-usage-watch/internal/store"
)

var loginSessionKey string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a claude.ai session key",
	Long: `Stores a session key for authenticated polling. The key is the
value of the sessionKey cookie on claude.ai; pass it with --session-key
or paste it at the prompt. It is encrypted before being written to the
local database and is never logged.`,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringVar(&loginSessionKey, "session-key", "", "session key value (prompted if omitted)")
}

func runLogin(_ *cobra.Command, _ []string) error {
	key := strings.TrimSpace(loginSessionKey)
	if key == "" {
		fmt.Fprint(os.Stderr, "Session key: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read session key: %w", err)
		}
		key = strings.TrimSpace(line)
	}
	if key == "" {
		return fmt.Errorf("no session key provided")
	}

	svc, _, database, err := openSession()
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	if err := svc.Import(key); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result := svc.Validate(ctx)
	if !result.Valid {
		return fmt.Errorf("session key rejected by claude.ai (status %d)", result.Status)
	}

	fmt.Println("Session key stored.")
	return nil
}

// openSession builds a session service over the local database for the
// one-shot commands. The caller owns the returned database handle.
func openSession() (*session.Service, store.Store, *db.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	kv, err := store.NewSQLiteStore(database, cfg.KeyPath)
	if err != nil {
		_ = database.Close()
		return nil, nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	sessionCfg := session.DefaultConfig()
	sessionCfg.APIBaseURL = cfg.APIBaseURL
	sessionCfg.AuthDomain = cfg.AuthDomain

	return session.New(kv, sessionCfg), kv, database, nil
}
