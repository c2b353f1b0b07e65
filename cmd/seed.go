package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/relaychat/relay/internal/config"
	"github.com/relaychat/relay/internal/db"
	"github.com/relaychat/relay/internal/model"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with a demo workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo workspace...")

		if err := seedAll(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed ✅")
		return nil
	},
}

// Deterministic IDs so the seed is idempotent and easy to poke at
// with curl.
const (
	seedWorkspaceID = "ws-demo"
	seedChannelID   = "ch-general"
)

func seedAll(dbx *sqlx.DB) error {
	users := []model.User{
		{
			ID:          "u-alice",
			DisplayName: "Alice",
			Email:       "alice@example.com",
			APIKey:      "11111111111111111111111111111111",
			Status:      "active",
		},
		{
			ID:          "u-bob",
			DisplayName: "Bob",
			Email:       "bob@example.com",
			APIKey:      "22222222222222222222222222222222",
			Status:      "active",
		},
		{
			ID:           "u-carol",
			DisplayName:  "Carol",
			Email:        "carol@example.com",
			APIKey:       "33333333333333333333333333333333",
			Status:       "active",
			RateLimitRPS: intptr(5),
		},
		{
			ID:          "u-mallory",
			DisplayName: "Mallory",
			Email:       "mallory@example.com",
			APIKey:      "44444444444444444444444444444444",
			Status:      "suspended",
		},
	}

	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()

	// idempotent upsert based on api_key (UNIQUE)
	const userQ = `
INSERT INTO users
    (id, display_name, email, api_key, status, rate_limit_rps, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    display_name   = VALUES(display_name),
    email          = VALUES(email),
    status         = VALUES(status),
    rate_limit_rps = VALUES(rate_limit_rps),
    updated_at     = VALUES(updated_at)
`
	for _, u := range users {
		if _, err := tx.Exec(userQ, u.ID, u.DisplayName, u.Email, u.APIKey, u.Status, u.RateLimitRPS, now, now); err != nil {
			return fmt.Errorf("insert user %q: %w", u.DisplayName, err)
		}
	}

	const wsQ = `
INSERT INTO workspaces (id, name, owner_id, created_at)
VALUES (?, 'Demo Workspace', 'u-alice', ?)
ON DUPLICATE KEY UPDATE name = VALUES(name)
`
	if _, err := tx.Exec(wsQ, seedWorkspaceID, now); err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}

	const chQ = `
INSERT INTO channels (id, workspace_id, name, created_by, last_message_no, created_at)
VALUES (?, ?, 'general', 'u-alice', 0, ?)
ON DUPLICATE KEY UPDATE name = VALUES(name)
`
	if _, err := tx.Exec(chQ, seedChannelID, seedWorkspaceID, now); err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}

	const memberQ = `
INSERT INTO channel_members (channel_id, user_id, joined_at)
VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE joined_at = joined_at
`
	for _, uid := range []string{"u-alice", "u-bob", "u-carol"} {
		if _, err := tx.Exec(memberQ, seedChannelID, uid, now); err != nil {
			return fmt.Errorf("insert member %q: %w", uid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}

func intptr(i int) *int { return &i }
