package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tripsync/internal/config"
)

// NewDatabaseFromConfig creates the local database for an account. Each
// account gets its own file; an empty accountID selects the local-only
// database.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, accountID string) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, FileName(accountID)))
	case "memory":
		return NewSQLiteDatabase(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// FileName returns the database file name used for accountID.
func FileName(accountID string) string {
	if accountID == "" {
		return "local.db"
	}
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, accountID)
	return "account-" + safe + ".db"
}
