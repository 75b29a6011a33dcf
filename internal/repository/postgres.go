package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evicertia/pn-ec/internal/model"
)

// Schema is the DDL for the embedded request store. Applied by deployments
// that run the Postgres backend; tests apply it directly.
const Schema = `
CREATE TABLE IF NOT EXISTS requests (
    request_id    TEXT NOT NULL,
    client_id     TEXT NOT NULL,
    channel       TEXT NOT NULL,
    qos           TEXT NOT NULL DEFAULT '',
    payload       JSONB NOT NULL,
    status        TEXT NOT NULL DEFAULT 'booked',
    retry         JSONB,
    generated     JSONB,
    client_ts     TIMESTAMPTZ,
    registered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (request_id, client_id)
);
`

const uniqueViolation = "23505"

// PostgresRepository is a pgx-backed request store for self-contained
// deployments that do not front an external repository manager.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects a pool to the given database URL.
func NewPostgresRepository(ctx context.Context, databaseURL string, poolMin, poolMax int32, connectTimeout time.Duration) (*PostgresRepository, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if poolMin > 0 {
		poolCfg.MinConns = poolMin
	}
	if poolMax > 0 {
		poolCfg.MaxConns = poolMax
	}
	if connectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = connectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// NewPostgresRepositoryFromPool wraps an existing pool, used by tests.
func NewPostgresRepositoryFromPool(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// InsertRequest registers a request with status booked. A primary-key
// collision maps to ErrAlreadyExists.
func (r *PostgresRepository) InsertRequest(ctx context.Context, req *model.Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request payload: %w", err)
	}

	registeredAt := req.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = time.Now().UTC()
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO requests (request_id, client_id, channel, qos, payload, status, client_ts, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.RequestID, req.ClientID, string(req.Channel), string(req.QoS),
		payload, string(model.StatusBooked), req.ClientTimestamp, registeredAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert request %s: %w", req.RequestID, ErrAlreadyExists)
		}
		return fmt.Errorf("insert request %s: %w", req.RequestID, err)
	}
	return nil
}

// GetRequest fetches a stored request and its delivery metadata.
func (r *PostgresRepository) GetRequest(ctx context.Context, requestID, clientID string) (*StoredRequest, error) {
	var (
		payload   []byte
		status    string
		retry     []byte
		generated []byte
	)

	err := r.pool.QueryRow(ctx, `
		SELECT payload, status, retry, generated
		FROM requests
		WHERE request_id = $1 AND client_id = $2`,
		requestID, clientID,
	).Scan(&payload, &status, &retry, &generated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get request %s: %w", requestID, ErrNotFound)
		}
		return nil, fmt.Errorf("get request %s: %w", requestID, err)
	}

	stored := &StoredRequest{Status: model.Status(status)}
	if err := json.Unmarshal(payload, &stored.Request); err != nil {
		return nil, fmt.Errorf("decode request %s payload: %w", requestID, err)
	}
	if len(retry) > 0 {
		if err := json.Unmarshal(retry, &stored.Retry); err != nil {
			return nil, fmt.Errorf("decode request %s retry state: %w", requestID, err)
		}
	}
	if len(generated) > 0 {
		var gm model.GeneratedMessage
		if err := json.Unmarshal(generated, &gm); err != nil {
			return nil, fmt.Errorf("decode request %s generated message: %w", requestID, err)
		}
		stored.Generated = &gm
	}
	return stored, nil
}

// SetGeneratedMessageID records the generated message and marks the request
// sent. Re-running the update with the same artifact is a no-op.
func (r *PostgresRepository) SetGeneratedMessageID(ctx context.Context, requestID, clientID string, gm *model.GeneratedMessage) error {
	generated, err := json.Marshal(gm)
	if err != nil {
		return fmt.Errorf("marshal generated message: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE requests SET generated = $3, status = $4
		WHERE request_id = $1 AND client_id = $2`,
		requestID, clientID, generated, string(model.StatusSent),
	)
	if err != nil {
		return fmt.Errorf("set generated message for %s: %w", requestID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set generated message for %s: %w", requestID, ErrNotFound)
	}
	return nil
}

// UpdateRetryState persists the scheduled-retry cursor.
func (r *PostgresRepository) UpdateRetryState(ctx context.Context, requestID, clientID string, rs *model.RetryState) error {
	retry, err := json.Marshal(rs)
	if err != nil {
		return fmt.Errorf("marshal retry state: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE requests SET retry = $3
		WHERE request_id = $1 AND client_id = $2`,
		requestID, clientID, retry,
	)
	if err != nil {
		return fmt.Errorf("update retry state for %s: %w", requestID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update retry state for %s: %w", requestID, ErrNotFound)
	}
	return nil
}

// UpdateStatus moves the request to the given lifecycle status.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, requestID, clientID string, status model.Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE requests SET status = $3
		WHERE request_id = $1 AND client_id = $2`,
		requestID, clientID, string(status),
	)
	if err != nil {
		return fmt.Errorf("update status for %s: %w", requestID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update status for %s: %w", requestID, ErrNotFound)
	}
	return nil
}
