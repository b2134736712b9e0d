package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the archive pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS price_samples (
        run_id     TEXT        NOT NULL,
        sample_ts  TIMESTAMPTZ NOT NULL,
        pair       TEXT        NOT NULL,
        price      NUMERIC     NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (run_id, sample_ts, pair)
    );
    CREATE INDEX IF NOT EXISTS price_samples_ts_idx ON price_samples (sample_ts DESC);
    CREATE TABLE IF NOT EXISTS report_deliveries (
        id         BIGSERIAL   PRIMARY KEY,
        run_id     TEXT        NOT NULL,
        series_ts  TEXT        NOT NULL,
        success    BOOLEAN     NOT NULL,
        subject    TEXT        NOT NULL,
        recipients INTEGER     NOT NULL,
        sent_at    TEXT        NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	insertSampleSQL = `INSERT INTO price_samples (
        run_id,
        sample_ts,
        pair,
        price
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (run_id, sample_ts, pair) DO UPDATE
    SET price = EXCLUDED.price;`

	insertDeliverySQL = `INSERT INTO report_deliveries (
        run_id,
        series_ts,
        success,
        subject,
        recipients,
        sent_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    );`

	listRecentSamplesSQL = `SELECT
        run_id,
        sample_ts,
        pair,
        price::text,
        created_at
    FROM price_samples
    ORDER BY sample_ts DESC, pair
    LIMIT $1;`

	countRunSamplesSQL = `SELECT COUNT(DISTINCT sample_ts) FROM price_samples WHERE run_id = $1;`
)

// RunArchive mirrors run data into a database.
type RunArchive interface {
	InsertSample(ctx context.Context, runID string, sample Sample) error
	InsertDelivery(ctx context.Context, runID string, rec DeliveryRecord) error
}

// Archive is the Postgres implementation of RunArchive.
type Archive struct {
	pool *pgxpool.Pool
}

// NewArchive wires a pgx pool into an Archive.
func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{pool: pool}
}

// Close releases the underlying pool resources.
func (a *Archive) Close() {
	if a == nil || a.pool == nil {
		return
	}
	a.pool.Close()
}

func (a *Archive) getPool() (*pgxpool.Pool, error) {
	if a == nil || a.pool == nil {
		return nil, ErrNotConfigured
	}
	return a.pool, nil
}

// EnsureSchema creates the archive tables when missing.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	pool, err := a.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// InsertSample stores one row per pair of sample in a single batch.
func (a *Archive) InsertSample(ctx context.Context, runID string, sample Sample) error {
	pool, err := a.getPool()
	if err != nil {
		return err
	}
	if len(sample.Prices) == 0 {
		return nil
	}

	pairs := make([]string, 0, len(sample.Prices))
	for pair := range sample.Prices {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)

	batch := &pgx.Batch{}
	for _, pair := range pairs {
		batch.Queue(insertSampleSQL, runID, sample.Timestamp, pair, sample.Prices[pair].String())
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for range pairs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}
	}
	return nil
}

// InsertDelivery stores a delivery record.
func (a *Archive) InsertDelivery(ctx context.Context, runID string, rec DeliveryRecord) error {
	pool, err := a.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, insertDeliverySQL,
		runID,
		rec.Timestamp,
		rec.Success,
		rec.Subject,
		rec.Recipients,
		rec.SentAt,
	); err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// ListRecentSamples lists the most recent archived prices, newest first.
func (a *Archive) ListRecentSamples(ctx context.Context, limit int) ([]ArchivedSample, error) {
	pool, err := a.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listRecentSamplesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent samples: %w", err)
	}
	defer rows.Close()

	samples := make([]ArchivedSample, 0, limit)
	for rows.Next() {
		sample, err := scanArchivedSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// CountRunSamples counts distinct ticks archived for a run.
func (a *Archive) CountRunSamples(ctx context.Context, runID string) (int64, error) {
	pool, err := a.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if err := pool.QueryRow(ctx, countRunSamplesSQL, runID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count run samples: %w", err)
	}
	return count, nil
}

func scanArchivedSample(rows pgx.Rows) (ArchivedSample, error) {
	var (
		runID     string
		ts        time.Time
		pair      string
		priceStr  string
		createdAt time.Time
	)
	if err := rows.Scan(&runID, &ts, &pair, &priceStr, &createdAt); err != nil {
		return ArchivedSample{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return ArchivedSample{}, fmt.Errorf("parse price: %w", err)
	}

	return ArchivedSample{
		RunID:     runID,
		Timestamp: ts.UTC(),
		Pair:      pair,
		Price:     price,
		CreatedAt: createdAt.UTC(),
	}, nil
}

var _ RunArchive = (*Archive)(nil)
