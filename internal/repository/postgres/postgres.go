// Package postgres implements the repository contracts on PostgreSQL via
// pgx. Table names are prefixed with the configured namespace so several
// deployments can share one database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"spectrum/internal/domain/repositories"
)

// TableNames holds the prefixed table names.
type TableNames struct {
	Dialogues     string
	Sessions      string
	Turns         string
	Messages      string
	ToolCalls     string
	EventLog      string
	Introspection string
	Collaboration string
}

// NewTableNames creates table names with the given prefix.
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		Dialogues:     prefix + "dialogue",
		Sessions:      prefix + "session",
		Turns:         prefix + "turn",
		Messages:      prefix + "message",
		ToolCalls:     prefix + "tool_call",
		EventLog:      prefix + "event_log",
		Introspection: prefix + "introspection_session",
		Collaboration: prefix + "collaboration_session",
	}
}

// RepositoryConfig holds shared repository dependencies.
type RepositoryConfig struct {
	Pool   *pgxpool.Pool
	Tables *TableNames
	Logger *slog.Logger
}

// CreateConnectionPool creates a pgx connection pool and verifies it.
func CreateConnectionPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// NewStore assembles all postgres repositories.
func NewStore(cfg *RepositoryConfig) *repositories.Store {
	return &repositories.Store{
		Dialogues:     &dialogueRepo{cfg},
		Sessions:      &sessionRepo{cfg},
		Turns:         &turnRepo{cfg},
		Messages:      &messageRepo{cfg},
		ToolCalls:     &toolCallRepo{cfg},
		Events:        &eventLogRepo{cfg},
		Introspection: &introspectionRepo{cfg},
	}
}

// IsPgNoRowsError checks if error is a "no rows" error.
func IsPgNoRowsError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsPgDuplicateError checks if error is a unique constraint violation.
func IsPgDuplicateError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23505 = unique_violation
		return pgErr.Code == "23505"
	}
	return false
}
