package postgres

import (
	"context"
	"fmt"
)

// EnsureSchema creates the dialogue tables and indexes when they are missing.
// All timestamps are stored as timestamptz in UTC.
func EnsureSchema(ctx context.Context, cfg *RepositoryConfig) error {
	t := cfg.Tables
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			dialogue_type TEXT NOT NULL,
			human_id TEXT,
			ai_id TEXT,
			relation_id TEXT,
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_activity_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			is_active BOOLEAN NOT NULL DEFAULT true,
			metadata JSONB NOT NULL DEFAULT '{}'
		)`, t.Dialogues),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			dialogue_id UUID NOT NULL,
			session_type TEXT NOT NULL,
			start_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			end_at TIMESTAMPTZ,
			description TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'
		)`, t.Sessions),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			dialogue_id UUID NOT NULL,
			session_id UUID NOT NULL,
			initiator_role TEXT NOT NULL,
			responder_role TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			closed_at TIMESTAMPTZ,
			status TEXT NOT NULL DEFAULT 'pending',
			response_time DOUBLE PRECISION,
			metadata JSONB NOT NULL DEFAULT '{}'
		)`, t.Turns),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			dialogue_id UUID NOT NULL,
			session_id UUID NOT NULL,
			turn_id UUID NOT NULL,
			sender_role TEXT NOT NULL,
			sender_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			content_type TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			seq BIGSERIAL,
			metadata JSONB NOT NULL DEFAULT '{}'
		)`, t.Messages),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			dialogue_id UUID,
			turn_id UUID,
			tool_id TEXT NOT NULL,
			parameters JSONB NOT NULL DEFAULT '{}',
			success BOOLEAN NOT NULL,
			result JSONB,
			error TEXT NOT NULL DEFAULT '',
			latency_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, t.ToolCalls),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			dialogue_id UUID,
			turn_id UUID,
			event TEXT NOT NULL,
			detail JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, t.EventLog),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			dialogue_id UUID NOT NULL,
			session_id UUID NOT NULL,
			ai_id TEXT NOT NULL,
			goal TEXT NOT NULL,
			steps JSONB NOT NULL DEFAULT '[]',
			summary TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ,
			metadata JSONB NOT NULL DEFAULT '{}'
		)`, t.Introspection),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			dialogue_id UUID NOT NULL,
			task TEXT NOT NULL,
			participants JSONB NOT NULL DEFAULT '[]',
			status TEXT NOT NULL DEFAULT 'pending',
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ,
			metadata JSONB NOT NULL DEFAULT '{}'
		)`, t.Collaboration),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_dialogue ON %s (dialogue_id)`, t.Sessions, t.Sessions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_dialogue ON %s (dialogue_id)`, t.Turns, t.Turns),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_session ON %s (session_id)`, t.Turns, t.Turns),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_status ON %s (status)`, t.Turns, t.Turns),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_dialogue ON %s (dialogue_id)`, t.Messages, t.Messages),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_session ON %s (session_id)`, t.Messages, t.Messages),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_turn ON %s (turn_id)`, t.Messages, t.Messages),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created ON %s (created_at)`, t.Messages, t.Messages),
	}

	for _, stmt := range stmts {
		if _, err := cfg.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
