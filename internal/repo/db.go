// Package repo is the GORM persistence layer: accounts, conversations,
// messages, feedback, billing events and idempotency records. Functions take
// the *gorm.DB to run on so services can compose them inside transactions.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/chatdys-backend/internal/config"
	"github.com/tbourn/chatdys-backend/internal/domain"
)

// Open opens the SQLite store at cfg.Path, creating its directory when
// missing. Every pooled connection runs in WAL mode with foreign keys on and
// cfg.BusyTimeout as busy_timeout.
func Open(cfg config.DBConfig) (*gorm.DB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("db dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn(cfg)), &gorm.Config{
		Logger:  gormLogger(cfg.SlowQuery),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	// Spans only; bound values may carry emails and questions.
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics(), tracing.WithoutQueryVariables())); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	conns := cfg.MaxOpenConns
	if conns < 1 {
		conns = 1
	}
	sqlDB.SetMaxOpenConns(conns)
	sqlDB.SetMaxIdleConns(conns)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

func dsn(cfg config.DBConfig) string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	return fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)",
		cfg.Path, busy.Milliseconds())
}

// zerologPrinter routes GORM's logger output through the process logger.
type zerologPrinter struct{}

func (zerologPrinter) Printf(format string, args ...any) {
	log.Warn().Str("component", "gorm").Msgf(format, args...)
}

// gormLogger reports errors and statements slower than slow. Bound values
// are never printed.
func gormLogger(slow time.Duration) logger.Interface {
	return logger.New(zerologPrinter{}, logger.Config{
		SlowThreshold:             slow,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
		Colorful:                  false,
	})
}

// AutoMigrate creates or updates every table the service owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Account{},
		&domain.Conversation{},
		&domain.Message{},
		&domain.Feedback{},
		&domain.BillingEvent{},
		&domain.Idempotency{},
	)
}
