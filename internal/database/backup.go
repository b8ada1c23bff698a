package database

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"slotbook/internal/config"

	"github.com/rs/zerolog"
)

type BackupService struct {
	db     *DB
	config config.BackupConfig
	logger *zerolog.Logger
}

func NewBackupService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	return &BackupService{
		db:     db,
		config: cfg,
		logger: logger,
	}
}

// Start runs a backup after firstDelay and then every configured interval until ctx is done.
func (s *BackupService) Start(ctx context.Context, firstDelay time.Duration) {
	if !s.config.Enabled {
		s.logger.Info().Msg("Backup service is disabled")
		return
	}

	s.logger.Info().Dur("interval", s.config.Interval()).Str("path", s.config.Path).Msg("Backup service started")

	select {
	case <-time.After(firstDelay):
		s.RunOnce()
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(s.config.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce performs a backup and prunes old files.
func (s *BackupService) RunOnce() {
	if _, err := s.PerformBackup(); err != nil {
		s.logger.Error().Err(err).Msg("Backup failed")
	}
	deleted, err := s.db.CleanupBackups(s.config.Path, s.config.Retention())
	if err != nil {
		s.logger.Error().Err(err).Msg("Backup cleanup failed")
	} else if deleted > 0 {
		s.logger.Info().Int("deleted", deleted).Msg("Cleaned up old backups")
	}
}

// PerformBackup writes a timestamped snapshot and returns its path.
func (s *BackupService) PerformBackup() (string, error) {
	timestamp := time.Now().Format("20060102_150405")
	dest := filepath.Join(s.config.Path, fmt.Sprintf("slotbook_%s.db", timestamp))

	s.logger.Info().Str("path", dest).Msg("Performing database backup")
	if err := s.db.Backup(dest); err != nil {
		return "", err
	}
	s.logger.Info().Msg("Backup completed successfully")
	return dest, nil
}
