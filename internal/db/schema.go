package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rotisserie/eris"
)

// ConversationsTable is the table holding ingested conversations.
const ConversationsTable = "conversations"

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY,
		conversation_id TEXT NOT NULL UNIQUE,
		agent_id TEXT NOT NULL,
		user_id TEXT,
		status TEXT,
		start_time TIMESTAMPTZ,
		duration_seconds INTEGER,
		cost DOUBLE PRECISION,
		transcript JSONB NOT NULL DEFAULT '[]'::jsonb,
		analysis JSONB,
		metadata JSONB,
		conversation_initiation_client_data JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_agent_created
		ON conversations (agent_id, created_at DESC)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL UNIQUE,
		agent_id TEXT NOT NULL,
		user_id TEXT,
		status TEXT,
		start_time TIMESTAMP,
		duration_seconds INTEGER,
		cost REAL,
		transcript TEXT NOT NULL DEFAULT '[]',
		analysis TEXT,
		metadata TEXT,
		conversation_initiation_client_data TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_agent_created
		ON conversations (agent_id, created_at DESC)`,
}

// EnsureSchema creates the conversations table and its indexes. The UNIQUE
// constraint on conversation_id is what makes concurrent inserts of the
// same conversation collapse to one row.
func EnsureSchema(ctx context.Context, conn *sql.DB, dialect Dialect) error {
	var statements []string
	switch dialect {
	case DialectPostgres:
		statements = postgresSchema
	case DialectSQLite:
		statements = sqliteSchema
	default:
		return fmt.Errorf("db: no SQL schema for dialect %q", dialect)
	}

	for _, stmt := range statements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return eris.Wrapf(err, "db: apply %s schema", dialect)
		}
	}
	return nil
}
