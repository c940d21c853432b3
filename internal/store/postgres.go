package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/leasebee/leasebee-cli/internal/model"
	"github.com/leasebee/leasebee-cli/internal/projection"
)

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

// NewPostgresWithPool wraps an existing pool. The caller owns its lifecycle.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leases (
	id                   BIGSERIAL PRIMARY KEY,
	filename             TEXT NOT NULL,
	original_filename    TEXT NOT NULL,
	file_path            TEXT NOT NULL,
	file_size            BIGINT NOT NULL DEFAULT 0,
	status               TEXT NOT NULL DEFAULT 'uploaded',
	page_count           INTEGER,
	error_message        TEXT,
	avg_confidence       DOUBLE PRECISION,
	min_confidence       DOUBLE PRECISION,
	low_confidence_count INTEGER,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at         TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS extractions (
	id            BIGSERIAL PRIMARY KEY,
	lease_id      BIGINT NOT NULL REFERENCES leases(id) ON DELETE CASCADE,
	extractions   JSONB NOT NULL,
	reasoning     JSONB,
	citations     JSONB,
	confidence    JSONB,
	model_version TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS field_corrections (
	id                  BIGSERIAL PRIMARY KEY,
	extraction_id       BIGINT NOT NULL REFERENCES extractions(id) ON DELETE CASCADE,
	field_path          TEXT NOT NULL,
	original_value      TEXT,
	corrected_value     TEXT,
	correction_type     TEXT NOT NULL,
	notes               TEXT,
	original_confidence DOUBLE PRECISION,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leases_status ON leases(status);
CREATE INDEX IF NOT EXISTS idx_extractions_lease_id ON extractions(lease_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_field_corrections_extraction_id ON field_corrections(extraction_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const leaseColumns = `id, filename, original_filename, file_path, file_size, status, page_count, error_message,
	avg_confidence, min_confidence, low_confidence_count, created_at, updated_at, processed_at`

func (s *PostgresStore) CreateLease(ctx context.Context, lease model.Lease) (*model.Lease, error) {
	now := s.now().UTC()
	if lease.Status == "" {
		lease.Status = model.LeaseStatusUploaded
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO leases (filename, original_filename, file_path, file_size, status, page_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		lease.Filename, lease.OriginalFilename, lease.FilePath, lease.FileSize, string(lease.Status), lease.PageCount, now, now,
	).Scan(&lease.ID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert lease")
	}
	lease.CreatedAt = now
	lease.UpdatedAt = now
	return &lease, nil
}

func (s *PostgresStore) GetLease(ctx context.Context, id int64) (*model.Lease, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+leaseColumns+` FROM leases WHERE id = $1`, id)
	lease, err := scanLease(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: lease %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lease %d", id)
	}
	return lease, nil
}

func (s *PostgresStore) ListLeases(ctx context.Context, filter LeaseFilter) ([]model.Lease, error) {
	query := `SELECT ` + leaseColumns + ` FROM leases WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leases")
	}
	defer rows.Close()

	var leases []model.Lease
	for rows.Next() {
		lease, err := scanLease(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lease")
		}
		leases = append(leases, *lease)
	}
	return leases, eris.Wrap(rows.Err(), "postgres: list leases iterate")
}

// MarkProcessing moves a lease into processing and clears any earlier error.
func (s *PostgresStore) MarkProcessing(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leases SET status = $1, error_message = NULL, updated_at = $2 WHERE id = $3 AND status <> $1`,
		string(model.LeaseStatusProcessing), s.now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark lease %d processing", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM leases WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: lease %d", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: lease %d status", id)
	}
	return eris.Wrapf(ErrAlreadyProcessing, "postgres: lease %d", id)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id int64, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leases SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
		string(model.LeaseStatusFailed), message, s.now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark lease %d failed", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: lease %d", id)
	}
	return nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id int64, summary projection.Summary) error {
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE leases SET status = $1, error_message = NULL, avg_confidence = $2, min_confidence = $3,
		 low_confidence_count = $4, processed_at = $5, updated_at = $5 WHERE id = $6`,
		string(model.LeaseStatusCompleted), summary.Average, summary.Minimum, summary.LowConfidence, now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark lease %d completed", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: lease %d", id)
	}
	return nil
}

func (s *PostgresStore) CreateExtraction(ctx context.Context, ext model.Extraction) (*model.Extraction, error) {
	values, err := json.Marshal(nonNil(ext.Extractions))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal extractions")
	}
	reasoning, err := json.Marshal(ext.Reasoning)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal reasoning")
	}
	citations, err := json.Marshal(ext.Citations)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal citations")
	}
	confidence, err := json.Marshal(ext.Confidence)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal confidence")
	}

	now := s.now().UTC()
	err = s.pool.QueryRow(ctx,
		`INSERT INTO extractions (lease_id, extractions, reasoning, citations, confidence, model_version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		ext.LeaseID, values, reasoning, citations, confidence, ext.ModelVersion, now,
	).Scan(&ext.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert extraction for lease %d", ext.LeaseID)
	}
	ext.CreatedAt = now
	return &ext, nil
}

const extractionColumns = `id, lease_id, extractions, reasoning, citations, confidence, model_version, created_at`

func (s *PostgresStore) GetExtraction(ctx context.Context, id int64) (*model.Extraction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+extractionColumns+` FROM extractions WHERE id = $1`, id)
	ext, err := scanExtraction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: extraction %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get extraction %d", id)
	}
	return ext, nil
}

// ListExtractions returns the lease's extractions, newest first.
func (s *PostgresStore) ListExtractions(ctx context.Context, leaseID int64) ([]model.Extraction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+extractionColumns+` FROM extractions WHERE lease_id = $1 ORDER BY created_at DESC, id DESC`,
		leaseID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list extractions for lease %d", leaseID)
	}
	defer rows.Close()

	out := []model.Extraction{}
	for rows.Next() {
		ext, err := scanExtraction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan extraction")
		}
		out = append(out, *ext)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list extractions iterate")
}

func (s *PostgresStore) CreateCorrection(ctx context.Context, extractionID int64, c model.Correction) (*model.FieldCorrection, error) {
	now := s.now().UTC()
	fc := model.FieldCorrection{ExtractionID: extractionID, Correction: c, CreatedAt: now}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO field_corrections (extraction_id, field_path, original_value, corrected_value, correction_type, notes, original_confidence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		extractionID, c.FieldPath, c.OriginalValue, c.CorrectedValue, string(c.CorrectionType), c.Notes, c.OriginalConfidence, now,
	).Scan(&fc.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert correction for extraction %d", extractionID)
	}
	return &fc, nil
}

func (s *PostgresStore) ListCorrections(ctx context.Context, extractionID int64) ([]model.FieldCorrection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, extraction_id, field_path, original_value, corrected_value, correction_type, notes, original_confidence, created_at
		 FROM field_corrections WHERE extraction_id = $1 ORDER BY created_at, id`,
		extractionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list corrections for extraction %d", extractionID)
	}
	defer rows.Close()

	out := []model.FieldCorrection{}
	for rows.Next() {
		var fc model.FieldCorrection
		var ctype string
		if err := rows.Scan(&fc.ID, &fc.ExtractionID, &fc.FieldPath, &fc.OriginalValue, &fc.CorrectedValue,
			&ctype, &fc.Notes, &fc.OriginalConfidence, &fc.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan correction")
		}
		fc.CorrectionType = model.CorrectionType(ctype)
		out = append(out, fc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list corrections iterate")
}

func scanLease(row pgx.Row) (*model.Lease, error) {
	var l model.Lease
	var status string
	var errMsg *string
	if err := row.Scan(&l.ID, &l.Filename, &l.OriginalFilename, &l.FilePath, &l.FileSize, &status,
		&l.PageCount, &errMsg, &l.AvgConfidence, &l.MinConfidence, &l.LowConfidenceCount,
		&l.CreatedAt, &l.UpdatedAt, &l.ProcessedAt); err != nil {
		return nil, err
	}
	l.Status = model.LeaseStatus(status)
	if errMsg != nil {
		l.ErrorMessage = *errMsg
	}
	return &l, nil
}

func scanExtraction(row pgx.Row) (*model.Extraction, error) {
	var ext model.Extraction
	var values, reasoning, citations, confidence []byte
	if err := row.Scan(&ext.ID, &ext.LeaseID, &values, &reasoning, &citations, &confidence,
		&ext.ModelVersion, &ext.CreatedAt); err != nil {
		return nil, err
	}
	for _, col := range []struct {
		name string
		data []byte
		dst  any
	}{
		{"extractions", values, &ext.Extractions},
		{"reasoning", reasoning, &ext.Reasoning},
		{"citations", citations, &ext.Citations},
		{"confidence", confidence, &ext.Confidence},
	} {
		if len(col.data) == 0 {
			continue
		}
		if err := json.Unmarshal(col.data, col.dst); err != nil {
			return nil, eris.Wrapf(err, "unmarshal %s", col.name)
		}
	}
	if ext.Extractions == nil {
		ext.Extractions = map[string]any{}
	}
	return &ext, nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// fieldConfidence flattens the per-field confidence maps of every extraction.
const fieldConfidence = `
SELECT c.key AS field_path, c.value::float8 AS confidence
FROM extractions e, jsonb_each_text(e.confidence) c
WHERE jsonb_typeof(e.confidence) = 'object'`

func (s *PostgresStore) AccuracyMetrics(ctx context.Context) (*model.AccuracyMetrics, error) {
	now := s.now().UTC()
	recentFrom := now.Add(-TrendWindow)
	previousFrom := now.Add(-2 * TrendWindow)

	var (
		m                  model.AccuracyMetrics
		all, recent, prior tally
	)
	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM extractions),
			(SELECT COALESCE(AVG(confidence), 0) FROM (`+fieldConfidence+`) fc),
			COUNT(*),
			COUNT(*) FILTER (WHERE correction_type = 'accept'),
			COUNT(*) FILTER (WHERE created_at >= $1),
			COUNT(*) FILTER (WHERE created_at >= $1 AND correction_type = 'accept'),
			COUNT(*) FILTER (WHERE created_at >= $2 AND created_at < $1),
			COUNT(*) FILTER (WHERE created_at >= $2 AND created_at < $1 AND correction_type = 'accept')
		 FROM field_corrections`,
		recentFrom, previousFrom,
	).Scan(
		&m.TotalExtractions, &m.AvgConfidence,
		&all.total, &all.accepted,
		&recent.total, &recent.accepted,
		&prior.total, &prior.accepted,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: accuracy metrics")
	}
	m.TotalCorrections = all.total
	m.OverallAccuracy = all.rate()
	m.Trend = trendOf(recent, prior)
	return &m, nil
}

func (s *PostgresStore) FieldAccuracy(ctx context.Context) ([]model.FieldAccuracy, error) {
	rows, err := s.pool.Query(ctx,
		`WITH conf AS (
			SELECT field_path, AVG(confidence) AS avg_confidence
			FROM (`+fieldConfidence+`) fc
			GROUP BY field_path
		)
		SELECT fcr.field_path,
			COUNT(*),
			COUNT(*) FILTER (WHERE fcr.correction_type = 'accept'),
			COALESCE(MAX(conf.avg_confidence), 0)
		FROM field_corrections fcr
		LEFT JOIN conf ON conf.field_path = fcr.field_path
		GROUP BY fcr.field_path`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: field accuracy")
	}
	defer rows.Close()

	out := []model.FieldAccuracy{}
	for rows.Next() {
		var (
			fa model.FieldAccuracy
			t  tally
		)
		if err := rows.Scan(&fa.Field, &t.total, &t.accepted, &fa.AvgConfidence); err != nil {
			return nil, eris.Wrap(err, "postgres: scan field accuracy")
		}
		fa.Corrections = t.total
		fa.Accuracy = t.rate()
		out = append(out, fa)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: field accuracy iterate")
	}
	sortFieldAccuracy(out)
	return out, nil
}
