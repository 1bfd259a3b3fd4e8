package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aq2208/group-order-api/internal/usecase"
)

const outboxSchema = `
CREATE TABLE IF NOT EXISTS outbox (
    id              BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
    channel         VARCHAR(64)  NOT NULL,
    payload         JSON         NOT NULL,
    status          VARCHAR(16)  NOT NULL,
    retry_count     INT          NOT NULL,
    next_attempt_at DATETIME(6)  NOT NULL,
    created_at      DATETIME(6)  NOT NULL,
    sent_at         DATETIME(6)  NULL,
    KEY idx_outbox_pending (status, next_attempt_at)
)`

type MySQLOutboxRepo struct{ db *sql.DB }

func NewMySQLOutboxRepo(db *sql.DB) *MySQLOutboxRepo { return &MySQLOutboxRepo{db: db} }

func (r *MySQLOutboxRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, outboxSchema); err != nil {
		return fmt.Errorf("ensure outbox schema: %w", err)
	}
	return nil
}

func (r *MySQLOutboxRepo) InsertEvent(ctx context.Context, channel string, payload []byte) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO outbox (channel,payload,status,retry_count,next_attempt_at,created_at)
VALUES (?,?,'PENDING',0,NOW(6),NOW(6))
`, channel, payload)
	return err
}

func (r *MySQLOutboxRepo) FetchPending(ctx context.Context, limit int) ([]usecase.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, channel, payload FROM outbox
WHERE status='PENDING' AND next_attempt_at <= NOW(6)
ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []usecase.OutboxEvent
	for rows.Next() {
		var ev usecase.OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.Channel, &ev.Payload); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *MySQLOutboxRepo) MarkSent(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE outbox SET status='SENT', sent_at=NOW(6) WHERE id=?`, id)
	return err
}

func (r *MySQLOutboxRepo) MarkFailed(ctx context.Context, id int64, retryIn time.Duration) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE outbox SET retry_count=retry_count+1, next_attempt_at=DATE_ADD(NOW(6), INTERVAL ? SECOND)
WHERE id=?`, int64(retryIn.Seconds()), id)
	return err
}

var _ usecase.OutboxRepo = (*MySQLOutboxRepo)(nil)
