// Package database stores abandoned cart events in PostgreSQL.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/cartwatch/cartwatch/internal/constants"
	"github.com/cartwatch/cartwatch/internal/event/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ubuntu/decorate"
)

var (
	// ErrMissingCredential is returned when no database password is configured.
	ErrMissingCredential = errors.New("database credential is not configured")
	// ErrPersistence is returned when the database rejects or fails an insert.
	ErrPersistence = errors.New("persistence failure")

	errNotInitialized = errors.New("database not initialized")
)

// Config holds the configuration for connecting to the PostgreSQL database.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	// Table is the destination table. It defaults to constants.DefaultTable.
	Table string
}

type dbPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// Manager manages the PostgreSQL database connection pool.
type Manager struct {
	dbpool dbPool
	table  string

	// unavailable is set when the manager was created without a usable configuration.
	unavailable error
}

type options struct {
	newPool func(ctx context.Context, dsn string) (dbPool, error)
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// New creates database manager with a PostgreSQL connection pool using the provided configuration.
//
// Without a password, no connection is attempted and the returned manager reports ErrMissingCredential
// from Ready and Insert.
// Note: The connection is validated with a ping, but it is not maintained.
func New(ctx context.Context, cfg Config, args ...Options) (*Manager, error) {
	opts := options{
		newPool: func(ctx context.Context, dsn string) (dbPool, error) {
			return pgxpool.New(ctx, dsn)
		},
	}

	for _, opt := range args {
		opt(&opts)
	}

	table := cfg.Table
	if table == "" {
		table = constants.DefaultTable
	}

	if cfg.Password == "" {
		slog.Warn("No database password configured, events will be rejected", "host", cfg.Host, "port", cfg.Port)
		return &Manager{table: table, unavailable: ErrMissingCredential}, nil
	}

	dbpool, err := opts.newPool(ctx, cfg.URI("postgres"))
	if err != nil {
		return nil, fmt.Errorf("unable to create database connection pool: %w", err)
	}

	slog.Debug("Testing database connection", "host", cfg.Host, "port", cfg.Port)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %v", err)
	}

	slog.Info("Successfully pinged PostgreSQL database", "host", cfg.Host, "port", cfg.Port, "table", table)
	return &Manager{dbpool: dbpool, table: table}, nil
}

// Ready returns an error if events cannot be persisted, without contacting the database.
func (db *Manager) Ready() error {
	if db.unavailable != nil {
		return db.unavailable
	}
	if db.dbpool == nil {
		return errNotInitialized
	}
	return nil
}

// Insert stores the record as a new row of the destination table.
// Database failures match ErrPersistence. There is no retry.
func (db *Manager) Insert(ctx context.Context, r *models.Record) (err error) {
	defer decorate.OnError(&err, "could not insert cart event")

	if err := db.Ready(); err != nil {
		return err
	}

	cols := r.Columns()
	names := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	values := make([]any, len(cols))
	for i, c := range cols {
		names[i] = pgx.Identifier{c.Name}.Sanitize()
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		values[i] = c.Value
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s)`,
		pgx.Identifier{db.table}.Sanitize(),
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "),
	)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := db.dbpool.Exec(ctx, query, values...); err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: insert canceled: %w", ErrPersistence, err)
		}
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// Close closes the database connection.
//
// If the connection is already closed, it does nothing.
// If the connection does not close within 10 seconds, it returns an error.
func (db *Manager) Close() error {
	if db.dbpool == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		db.dbpool.Close()
	}()

	select {
	case <-done:
		db.dbpool = nil
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timeout while closing database, connection may still be open")
	}
}

// URI is a helper method that returns a connection URI for PostgreSQL.
// It does not check the validity of the configuration values.
//
// Security warning: the returned string may include credentials.
func (c Config) URI(scheme string) string {
	host := c.Host
	if c.Port != 0 {
		host = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}

	user := url.User(c.User)
	if c.Password != "" {
		user = url.UserPassword(c.User, c.Password)
	}

	u := &url.URL{
		Scheme: scheme,
		User:   user,
		Host:   host,
		Path:   c.DBName,
	}

	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
