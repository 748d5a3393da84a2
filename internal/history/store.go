// Package history persists request/command exchanges in SQLite via GORM.
// Uses modernc.org/sqlite (pure Go, no CGO) through the glebarez/sqlite GORM
// driver, so the binary stays self-contained.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string // Database file path.
	JournalMode string // WAL mode by default.
}

// Exchange is one request/command round trip.
type Exchange struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	Input   string `gorm:"not null" json:"input"` // The natural language request.
	Command string `json:"command,omitempty"`     // Generated shell command, empty for questions.
	Answer  string `json:"answer,omitempty"`      // Prose answer, empty for commands.
	Tier    string `json:"tier,omitempty"`        // Risk tier the command was classified as.

	ExitCode   int    `json:"exit_code"`
	Isolated   bool   `json:"isolated"` // True when executed in the sandbox.
	WorkDir    string `json:"work_dir,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Cached     bool   `json:"cached"` // Command came from the generation cache.
}

// Store persists exchanges in a single SQLite file.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	path   string
}

// Open creates a new SQLite-backed history store.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}

	// Build DSN with pragmas.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path, journalMode)

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	s := &Store{db: db, logger: slogger, path: cfg.Path}
	slogger.Info("history store opened", slog.String("path", cfg.Path), slog.String("journal_mode", journalMode))
	return s, nil
}

// Migrate runs GORM AutoMigrate to create/update the schema.
func (s *Store) Migrate(_ context.Context) error {
	return s.db.AutoMigrate(&Exchange{})
}

// Record persists one exchange.
func (s *Store) Record(ctx context.Context, e *Exchange) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("recording exchange: %w", err)
	}
	return nil
}

// Recent returns the latest n exchanges, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Exchange, error) {
	var out []Exchange
	err := s.db.WithContext(ctx).
		Order("id DESC").
		Limit(n).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("loading recent exchanges: %w", err)
	}
	return out, nil
}

// RecentContext returns the latest n exchanges formatted as conversational
// context lines, oldest first, ready to feed back to the model.
func (s *Store) RecentContext(ctx context.Context, n int) ([]string, error) {
	exchanges, err := s.Recent(ctx, n)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(exchanges))
	for i := len(exchanges) - 1; i >= 0; i-- {
		e := exchanges[i]
		if e.Command != "" {
			lines = append(lines, fmt.Sprintf("%s -> %s", e.Input, e.Command))
		} else {
			lines = append(lines, e.Input)
		}
	}
	return lines, nil
}

// Export writes all exchanges to w as a JSON array, oldest first.
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	var all []Exchange
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&all).Error; err != nil {
		return fmt.Errorf("loading exchanges for export: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(all)
}

// Clear deletes all recorded exchanges.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&Exchange{}).Error; err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}
