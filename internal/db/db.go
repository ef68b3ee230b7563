package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string, logger *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger.Info("database migrations applied")
	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            display_name TEXT NOT NULL,
            avatar_url TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE TABLE IF NOT EXISTS conversations (
            key TEXT PRIMARY KEY,
            user_a TEXT NOT NULL,
            user_b TEXT NOT NULL,
            last_message TEXT NOT NULL DEFAULT '',
            last_message_at BIGINT NOT NULL DEFAULT 0,
            last_sender_id TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id SERIAL PRIMARY KEY,
            conversation_key TEXT NOT NULL REFERENCES conversations(key) ON DELETE CASCADE,
            sender_id TEXT NOT NULL,
            receiver_id TEXT NOT NULL,
            content TEXT NOT NULL,
            sender_name TEXT NOT NULL DEFAULT '',
            sender_avatar TEXT NOT NULL DEFAULT '',
            read BOOLEAN NOT NULL DEFAULT FALSE,
            sent_at BIGINT NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_sent
            ON messages (conversation_key, sent_at, id);`,
		`CREATE TABLE IF NOT EXISTS inbox_rows (
            user_id TEXT NOT NULL,
            conversation_key TEXT NOT NULL REFERENCES conversations(key) ON DELETE CASCADE,
            peer_id TEXT NOT NULL,
            last_message TEXT NOT NULL DEFAULT '',
            last_message_at BIGINT NOT NULL DEFAULT 0,
            unread_count INT NOT NULL DEFAULT 0,
            PRIMARY KEY (user_id, conversation_key)
        );`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}
