package upload

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"legalease/internal/logging"
	"legalease/internal/models"

	"go.uber.org/zap"
)

const DefaultCleanupInterval = 10 * time.Minute

// RunCleaner removes expired staged files until ctx is done.
func (s *Service) RunCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.cleanupExpiredFiles(ctx, time.Now().UTC()); err != nil {
				logging.L().Error("cleanup staged files", zap.Error(err))
			}
		}
	}
}

func (s *Service) cleanupExpiredFiles(ctx context.Context, now time.Time) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, stored_path FROM documents WHERE status <> ? AND expires_at <= ?`,
		models.DocumentPending, now)
	if err != nil {
		return err
	}

	type fileRow struct {
		id   int64
		path string
	}
	var files []fileRow
	for rows.Next() {
		var fr fileRow
		if err := rows.Scan(&fr.id, &fr.path); err != nil {
			rows.Close()
			return err
		}
		files = append(files, fr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, f := range files {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			logging.L().Warn("remove staged file", zap.String("path", f.path), zap.Error(err))
			continue
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, f.id); err != nil {
			logging.L().Warn("delete document record", zap.Int64("document_id", f.id), zap.Error(err))
		}

		// prune empty directories
		_ = os.Remove(filepath.Dir(f.path))
	}
	return nil
}
