package audit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS request_log (
    request_id    TEXT PRIMARY KEY,
    prompt        TEXT,
    payment_token TEXT,
    status        TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at  TIMESTAMPTZ,
    output        TEXT
);`

// Postgres persists the request log in a request_log table.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{db: pool}, nil
}

func (s *Postgres) LogPending(ctx context.Context, prompt string) (string, error) {
	id := NewRequestID()
	_, err := s.db.Exec(ctx, `
        INSERT INTO request_log (request_id, prompt, status) VALUES ($1, $2, $3)
    `, id, prompt, StatusPending)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Postgres) MarkSucceeded(ctx context.Context, requestID, output, paymentToken string) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE request_log
        SET status = $1, output = $2, payment_token = $3, completed_at = now()
        WHERE request_id = $4
    `, StatusSucceeded, output, paymentToken, requestID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) MarkFailed(ctx context.Context, requestID, errMsg string) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE request_log SET status = $1, output = $2 WHERE request_id = $3
    `, StatusFailed, errMsg, requestID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, requestID string) (Record, error) {
	var (
		r           Record
		token       *string
		output      *string
		completedAt *time.Time
	)
	err := s.db.QueryRow(ctx, `
        SELECT request_id, prompt, payment_token, status, created_at, completed_at, output
        FROM request_log WHERE request_id = $1
    `, requestID).Scan(&r.RequestID, &r.Prompt, &token, &r.Status, &r.CreatedAt, &completedAt, &output)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	if token != nil {
		r.PaymentToken = *token
	}
	if output != nil {
		r.Output = *output
	}
	r.CompletedAt = completedAt
	return r, nil
}

func (s *Postgres) Close() {
	s.db.Close()
}
