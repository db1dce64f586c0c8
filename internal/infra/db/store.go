// Package db persists verdicts, trusted keys and the audit chain in
// postgres. Every repository tolerates a nil handle so the daemon can run
// without a database.
package db

import (
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/codebatai/pf-verify/internal/config"
)

type Store struct {
	DB *gorm.DB
}

func NewStore(cfg config.Config, logger *slog.Logger) (*Store, error) {
	if cfg.DatabaseDSN == "" {
		if logger != nil {
			logger.Info("DATABASE_DSN not set; starting in no-db mode")
		}
		return &Store{DB: nil}, nil
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := migrate(gdb); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{DB: gdb}, nil
}

func (s *Store) Available() bool { return s != nil && s.DB != nil }

func migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&VerdictRecordModel{},
		&TrustedKeyModel{},
		&AuditEventModel{},
		&AuditSeqModel{},
	); err != nil {
		return err
	}
	// The single seq row is created lazily by the audit repository; nothing
	// else to seed.
	return nil
}
