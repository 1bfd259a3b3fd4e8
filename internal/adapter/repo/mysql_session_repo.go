package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	domain "github.com/aq2208/group-order-api/internal/entity"
	"github.com/aq2208/group-order-api/internal/usecase"
)

// Sessions are stored as one JSON document per row. The indexed columns are
// denormalized from the document for lookups; active_code mirrors the invite
// code only while the session is active, so the unique index enforces
// uniqueness among active sessions and lets codes be reused afterwards.
const sessionsSchema = `
CREATE TABLE IF NOT EXISTS group_order_sessions (
    id           VARCHAR(36)  NOT NULL PRIMARY KEY,
    invite_code  VARCHAR(12)  NOT NULL,
    active_code  VARCHAR(12)  NULL,
    status       VARCHAR(16)  NOT NULL,
    version      BIGINT       NOT NULL,
    expires_at   DATETIME(6)  NOT NULL,
    document     JSON         NOT NULL,
    created_at   DATETIME(6)  NOT NULL,
    updated_at   DATETIME(6)  NOT NULL,
    UNIQUE KEY uq_active_code (active_code),
    KEY idx_invite_code (invite_code)
)`

// mysqlDuplicateEntry is the server error number for a unique-key violation.
const mysqlDuplicateEntry = 1062

type MySQLSessionRepo struct{ db *sql.DB }

func NewMySQLSessionRepo(db *sql.DB) *MySQLSessionRepo { return &MySQLSessionRepo{db: db} }

// EnsureSchema creates the sessions table when it does not exist yet.
func (r *MySQLSessionRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, sessionsSchema); err != nil {
		return fmt.Errorf("ensure sessions schema: %w", err)
	}
	return nil
}

func activeCode(s *domain.GroupOrderSession) any {
	if s.Status == domain.StatusActive {
		return s.InviteCode
	}
	return nil
}

func (r *MySQLSessionRepo) Insert(ctx context.Context, s *domain.GroupOrderSession) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO group_order_sessions (id,invite_code,active_code,status,version,expires_at,document,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,NOW(6),NOW(6))
`, s.SessionID, s.InviteCode, activeCode(s), string(s.Status), s.Version, s.ExpiresAt.UTC(), doc)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return usecase.ErrDuplicateCode
		}
		return err
	}
	return nil
}

func (r *MySQLSessionRepo) GetByID(ctx context.Context, sessionID string) (*domain.GroupOrderSession, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
SELECT document, version FROM group_order_sessions WHERE id=?`, sessionID))
}

// GetByInviteCode prefers the active-code index; when no active session
// holds the code it falls back to the most recent session that ever did, so
// callers can tell "already submitted" apart from "never existed".
func (r *MySQLSessionRepo) GetByInviteCode(ctx context.Context, code string) (*domain.GroupOrderSession, error) {
	s, err := r.scanOne(r.db.QueryRowContext(ctx, `
SELECT document, version FROM group_order_sessions WHERE active_code=?`, code))
	if err == nil || !errors.Is(err, usecase.ErrNotFound) {
		return s, err
	}
	return r.scanOne(r.db.QueryRowContext(ctx, `
SELECT document, version FROM group_order_sessions
WHERE invite_code=? ORDER BY created_at DESC LIMIT 1`, code))
}

func (r *MySQLSessionRepo) scanOne(row *sql.Row) (*domain.GroupOrderSession, error) {
	var (
		doc     []byte
		version int64
	)
	if err := row.Scan(&doc, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, usecase.ErrNotFound
		}
		return nil, err
	}
	var s domain.GroupOrderSession
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	// The version column is authoritative over the document copy.
	s.Version = version
	return &s, nil
}

// Save is the conditional write: it applies only when the stored version
// still equals expectedVersion, bumping the version in the same statement.
// Zero affected rows means another writer got there first.
func (r *MySQLSessionRepo) Save(ctx context.Context, s *domain.GroupOrderSession, expectedVersion int64) error {
	s.Version = expectedVersion + 1
	doc, err := json.Marshal(s)
	if err != nil {
		s.Version = expectedVersion
		return fmt.Errorf("marshal session: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE group_order_sessions
SET document=?, status=?, active_code=?, version=version+1, expires_at=?, updated_at=NOW(6)
WHERE id=? AND version=?`,
		doc, string(s.Status), activeCode(s), s.ExpiresAt.UTC(), s.SessionID, expectedVersion)
	if err != nil {
		s.Version = expectedVersion
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		s.Version = expectedVersion
		return err
	}
	if rows == 0 {
		s.Version = expectedVersion
		return usecase.ErrVersionConflict
	}
	return nil
}

var _ usecase.SessionRepo = (*MySQLSessionRepo)(nil)
