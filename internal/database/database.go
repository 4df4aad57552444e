package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"

	"spacebook/internal/booking"
)

// DB is the booking store. Every mutation it exposes is a single SQL statement.
type DB struct {
	*sql.DB
	path                 string
	logger               *zerolog.Logger
	newConfirmation      booking.ConfirmationGenerator
	confirmationAttempts int
}

// Option customizes a DB.
type Option func(*DB)

// WithConfirmationGenerator replaces the confirmation number source.
func WithConfirmationGenerator(gen booking.ConfirmationGenerator) Option {
	return func(db *DB) { db.newConfirmation = gen }
}

// NewDB opens the database and creates tables if they don't exist.
func NewDB(path string, logger *zerolog.Logger, opts ...Option) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{
		DB:                   sqlDB,
		path:                 path,
		logger:               logger,
		newConfirmation:      booking.DefaultConfirmationGenerator,
		confirmationAttempts: 5,
	}
	for _, opt := range opts {
		opt(instance)
	}

	if err := instance.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			payment_intent_id TEXT,
			confirmation_number TEXT,
			space_type TEXT NOT NULL,
			date TEXT NOT NULL,
			start_time TEXT,
			end_time TEXT,
			start_minute INTEGER NOT NULL,
			end_minute INTEGER NOT NULL,
			number_of_people INTEGER NOT NULL,
			contact_name TEXT NOT NULL,
			contact_email TEXT NOT NULL,
			contact_phone TEXT,
			currency TEXT NOT NULL,
			base_price INTEGER NOT NULL DEFAULT 0,
			services_price INTEGER NOT NULL DEFAULT 0,
			total_price INTEGER NOT NULL DEFAULT 0,
			amount_paid INTEGER NOT NULL DEFAULT 0,
			cancellation_fee INTEGER NOT NULL DEFAULT 0,
			refund_amount INTEGER NOT NULL DEFAULT 0,
			deposit_amount INTEGER NOT NULL DEFAULT 0,
			payment_status TEXT NOT NULL DEFAULT 'unpaid',
			capture_method TEXT NOT NULL DEFAULT 'automatic',
			payment_method_ref TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			charge_percentage INTEGER,
			fee_override_reason TEXT,
			fee_override_note TEXT,
			fee_override_by TEXT,
			additional_services TEXT NOT NULL DEFAULT '[]',
			cancelled_at DATETIME,
			completed_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			CHECK (end_minute > start_minute),
			CHECK (number_of_people > 0)
		)`,

		// At most one booking per payment intent.
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_bookings_payment_intent
			ON bookings(payment_intent_id) WHERE payment_intent_id IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_bookings_confirmation
			ON bookings(confirmation_number) WHERE confirmation_number IS NOT NULL`,
		// Identical windows for active bookings; partial overlaps are caught by the guarded insert.
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_bookings_active_slot
			ON bookings(space_type, date, start_minute, end_minute) WHERE status IN ('pending', 'confirmed')`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_space_date ON bookings(space_type, date, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status_date ON bookings(status, date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_created ON bookings(created_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return db.ensureNewColumns()
}

// ensureNewColumns adds columns introduced after the first schema.
func (db *DB) ensureNewColumns() error {
	migrations := []string{
		`ALTER TABLE bookings ADD COLUMN deposit_amount INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE bookings ADD COLUMN fee_override_by TEXT`,
	}

	for _, m := range migrations {
		_, err := db.Exec(m)
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			return fmt.Errorf("migration %q: %w", m, err)
		}
	}
	return nil
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) Close() error {
	return db.DB.Close()
}
