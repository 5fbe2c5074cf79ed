package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anddigital/diagnosis-platform/internal/diagnosis"
	"github.com/anddigital/diagnosis-platform/internal/reconcile"
	"github.com/anddigital/diagnosis-platform/pkg/logging"
)

// Schema is the archive table DDL, applied at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS diagnosis_archive (
	id          BIGSERIAL PRIMARY KEY,
	session_id  TEXT NOT NULL,
	tenant      TEXT NOT NULL DEFAULT '',
	name        TEXT NOT NULL DEFAULT '',
	company     TEXT NOT NULL DEFAULT '',
	channel     TEXT NOT NULL,
	result      JSONB NOT NULL,
	started_at  TIMESTAMPTZ,
	resolved_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_diagnosis_archive_session ON diagnosis_archive (session_id);
CREATE INDEX IF NOT EXISTS idx_diagnosis_archive_tenant ON diagnosis_archive (tenant, resolved_at DESC);
`

// Store keeps a permanent record of resolved diagnoses in Postgres. Writes
// are best-effort: the user already has their result by the time a row is
// inserted.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
	now    func() time.Time
}

// New creates a Store. db may be nil, which turns every method into a no-op
// so single-node deployments can run without Postgres.
func New(db *sql.DB, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{db: db, logger: logger, now: time.Now}
}

// EnsureSchema applies the archive DDL.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("archive: ensure schema: %w", err)
	}
	return nil
}

// ArchiveResolved inserts one row per resolved session.
func (s *Store) ArchiveResolved(ctx context.Context, snap reconcile.Snapshot, req *diagnosis.Request) error {
	if s == nil || s.db == nil {
		return nil
	}
	if snap.Result == nil {
		return fmt.Errorf("archive: snapshot for %s carries no result", snap.SessionID)
	}

	resultJSON, err := json.Marshal(snap.Result)
	if err != nil {
		return fmt.Errorf("archive: marshal result: %w", err)
	}

	var name, company string
	if req != nil {
		name = req.Name
		company = req.Company
	}

	var startedAt sql.NullTime
	if !snap.StartedAt.IsZero() {
		startedAt = sql.NullTime{Time: snap.StartedAt, Valid: true}
	}

	query := `
		INSERT INTO diagnosis_archive (session_id, tenant, name, company, channel, result, started_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := s.db.ExecContext(ctx, query,
		snap.SessionID,
		snap.Tenant,
		name,
		company,
		string(snap.Channel),
		resultJSON,
		startedAt,
		s.now().UTC(),
	); err != nil {
		return fmt.Errorf("archive: insert failed: %w", err)
	}
	return nil
}

// Entry is one archived diagnosis.
type Entry struct {
	ID         int64             `json:"id"`
	SessionID  string            `json:"session_id"`
	Tenant     string            `json:"tenant,omitempty"`
	Name       string            `json:"name"`
	Company    string            `json:"company"`
	Channel    string            `json:"channel"`
	Result     *diagnosis.Result `json:"result"`
	ResolvedAt time.Time         `json:"resolved_at"`
}

// Recent lists the latest archived diagnoses, optionally scoped to a tenant.
func (s *Store) Recent(ctx context.Context, tenant string, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, session_id, tenant, name, company, channel, result, resolved_at
		FROM diagnosis_archive
		WHERE ($1 = '' OR tenant = $1)
		ORDER BY resolved_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, tenant, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: select failed: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			rawResult []byte
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Tenant, &e.Name, &e.Company, &e.Channel, &rawResult, &e.ResolvedAt); err != nil {
			return nil, fmt.Errorf("archive: scan failed: %w", err)
		}
		if len(rawResult) > 0 {
			var res diagnosis.Result
			if err := json.Unmarshal(rawResult, &res); err != nil {
				s.logger.Warn("archive row holds unreadable result", "id", e.ID, "error", err)
			} else {
				e.Result = &res
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: rows: %w", err)
	}
	return entries, nil
}
