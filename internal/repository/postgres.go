package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"convoingest/internal/db"
	"convoingest/internal/model"
)

const conversationColumns = `id, conversation_id, agent_id, user_id, status, start_time,
	duration_seconds, cost, transcript, analysis, metadata,
	conversation_initiation_client_data, created_at`

// sqlRepository serves both Postgres and SQLite. Queries are written with
// "?" placeholders and rebound for Postgres.
type sqlRepository struct {
	db      *sql.DB
	dialect db.Dialect
	now     func() time.Time
}

// NewPostgresRepository creates a repository over a pgx-backed handle
func NewPostgresRepository(conn *sql.DB) ConversationRepository {
	return &sqlRepository{db: conn, dialect: db.DialectPostgres, now: time.Now}
}

// NewSQLiteRepository creates a repository over a SQLite handle
func NewSQLiteRepository(conn *sql.DB) ConversationRepository {
	return &sqlRepository{db: conn, dialect: db.DialectSQLite, now: time.Now}
}

func (r *sqlRepository) Exists(ctx context.Context, conversationID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT 1 FROM conversations WHERE conversation_id = ? LIMIT 1`),
		conversationID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "repository: check conversation exists")
	}
	return true, nil
}

func (r *sqlRepository) Insert(ctx context.Context, rec *model.ConversationRecord) error {
	prepareInsert(rec, r.now)

	transcriptJSON, err := json.Marshal(rec.Transcript)
	if err != nil {
		return eris.Wrap(err, "repository: marshal transcript")
	}
	analysisJSON, err := json.Marshal(rec.MergedAnalysis())
	if err != nil {
		return eris.Wrap(err, "repository: marshal analysis")
	}
	metadataJSON, err := nullableJSON(rec.Metadata)
	if err != nil {
		return eris.Wrap(err, "repository: marshal metadata")
	}
	initiationJSON, err := nullableJSON(rec.InitiationData)
	if err != nil {
		return eris.Wrap(err, "repository: marshal initiation data")
	}

	var startTime interface{}
	if rec.StartTime != nil {
		startTime = rec.StartTime.UTC()
	}

	query := `
		INSERT INTO conversations (` + conversationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID.String(),
		rec.ConversationID,
		rec.AgentID,
		rec.UserID,
		rec.Status,
		startTime,
		rec.DurationSeconds,
		rec.Cost,
		string(transcriptJSON),
		string(analysisJSON),
		metadataJSON,
		initiationJSON,
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return eris.Wrap(err, "repository: insert conversation")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "repository: insert rows affected")
	}
	if affected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (r *sqlRepository) GetByConversationID(ctx context.Context, conversationID string) (*model.ConversationRecord, error) {
	row := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT `+conversationColumns+` FROM conversations WHERE conversation_id = ?`),
		conversationID,
	)
	rec, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "repository: get conversation %s", conversationID)
	}
	return rec, nil
}

func (r *sqlRepository) List(ctx context.Context, opts ListOptions) ([]model.ConversationRecord, error) {
	opts = opts.Normalized()

	query := `SELECT ` + conversationColumns + ` FROM conversations`
	args := make([]interface{}, 0, 3)
	if opts.AgentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, opts.AgentID)
	}
	query += ` ORDER BY created_at DESC, conversation_id DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, eris.Wrap(err, "repository: list conversations")
	}
	defer rows.Close()

	records := make([]model.ConversationRecord, 0, opts.Limit)
	for rows.Next() {
		rec, err := scanConversation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "repository: scan conversation")
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "repository: iterate conversations")
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*model.ConversationRecord, error) {
	var (
		rec            model.ConversationRecord
		id             string
		userID         sql.NullString
		status         sql.NullString
		startTime      sql.NullTime
		duration       sql.NullInt64
		cost           sql.NullFloat64
		transcriptJSON []byte
		analysisJSON   []byte
		metadataJSON   []byte
		initiationJSON []byte
	)

	err := row.Scan(
		&id,
		&rec.ConversationID,
		&rec.AgentID,
		&userID,
		&status,
		&startTime,
		&duration,
		&cost,
		&transcriptJSON,
		&analysisJSON,
		&metadataJSON,
		&initiationJSON,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := rec.ID.UnmarshalText([]byte(id)); err != nil {
		return nil, eris.Wrapf(err, "parse id %q", id)
	}
	if userID.Valid {
		rec.UserID = &userID.String
	}
	if status.Valid {
		rec.Status = &status.String
	}
	if startTime.Valid {
		t := startTime.Time.UTC()
		rec.StartTime = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		rec.DurationSeconds = &d
	}
	if cost.Valid {
		c := cost.Float64
		rec.Cost = &c
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	rec.Transcript = []model.TranscriptTurn{}
	if len(transcriptJSON) > 0 {
		if err := json.Unmarshal(transcriptJSON, &rec.Transcript); err != nil {
			return nil, eris.Wrap(err, "unmarshal transcript")
		}
	}
	if len(analysisJSON) > 0 {
		var merged map[string]interface{}
		if err := json.Unmarshal(analysisJSON, &merged); err != nil {
			return nil, eris.Wrap(err, "unmarshal analysis")
		}
		provider, aiAnalysis, err := model.SplitAnalysis(merged)
		if err != nil {
			return nil, eris.Wrap(err, "split analysis")
		}
		rec.ProviderAnalysis = provider
		rec.AIAnalysis = aiAnalysis
	}
	if rec.Metadata, err = unmarshalObject(metadataJSON); err != nil {
		return nil, eris.Wrap(err, "unmarshal metadata")
	}
	if rec.InitiationData, err = unmarshalObject(initiationJSON); err != nil {
		return nil, eris.Wrap(err, "unmarshal initiation data")
	}
	return &rec, nil
}

// rebind converts "?" placeholders to "$n" for Postgres.
func (r *sqlRepository) rebind(query string) string {
	if r.dialect != db.DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func nullableJSON(v map[string]interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func unmarshalObject(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
