package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/pricelens/pricelens/internal/db"
	"github.com/pricelens/pricelens/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	upsertProductSQL = `INSERT INTO products (url, site, title, price, last_seen_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (url) DO UPDATE
		 SET site = EXCLUDED.site, title = EXCLUDED.title, price = EXCLUDED.price,
		     last_seen_at = EXCLUDED.last_seen_at
		 RETURNING id`

	dedupCheckSQL = `SELECT EXISTS (
		 SELECT 1 FROM price_history
		 WHERE product_id = $1 AND price = $2 AND captured_at > $3)`

	insertObservationSQL = `INSERT INTO price_history (product_id, price, currency, captured_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`

	targetColumns = `id, url, site, tracking_mode, product_name, keywords, enabled,
		 check_interval_minutes, last_checked_at, next_check_at, failure_counter,
		 created_at, updated_at`
)

// preparedStatements lists queries to prepare on each new connection; these
// are the engine's hot path and run once per dispatched target.
var preparedStatements = map[string]string{
	"upsert_product":     upsertProductSQL,
	"dedup_check":        dedupCheckSQL,
	"insert_observation": insertObservationSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &UnavailableError{Err: eris.Wrap(err, "postgres: ping")}
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool, primarily for tests (pgxmock
// satisfies db.Pool).
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (bulk import, status queries).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return &UnavailableError{Err: eris.Wrap(err, "postgres: ping")}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// unavailable wraps a backend error as retryable for the engine.
func unavailable(err error, msg string) error {
	return &UnavailableError{Err: eris.Wrap(err, msg)}
}

// normalizeSnapshot applies the store's input normalization before
// validation: trimmed bounded title, upper-cased currency defaulting to USD,
// two-decimal price, capture time defaulting to now.
func normalizeSnapshot(snap *model.Snapshot) error {
	snap.URL = strings.TrimSpace(snap.URL)
	snap.Site = strings.TrimSpace(snap.Site)
	snap.Title = strings.TrimSpace(snap.Title)
	snap.Currency = model.NormalizeCurrency(string(snap.Currency))
	snap.Price = model.RoundPrice(snap.Price)
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	return snap.Validate()
}

func (s *PostgresStore) UpsertObservation(ctx context.Context, snap model.Snapshot) (*UpsertResult, error) {
	if err := normalizeSnapshot(&snap); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, unavailable(err, "postgres: begin upsert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var productID int64
	err = tx.QueryRow(ctx, upsertProductSQL,
		snap.URL, snap.Site, snap.Title, snap.Price, snap.CapturedAt,
	).Scan(&productID)
	if err != nil {
		return nil, unavailable(err, "postgres: upsert product")
	}

	var duplicate bool
	err = tx.QueryRow(ctx, dedupCheckSQL,
		productID, snap.Price, snap.CapturedAt.Add(-DedupWindow),
	).Scan(&duplicate)
	if err != nil {
		return nil, unavailable(err, "postgres: dedup check")
	}

	res := &UpsertResult{ProductID: productID}
	if !duplicate {
		err = tx.QueryRow(ctx, insertObservationSQL,
			productID, snap.Price, string(snap.Currency), snap.CapturedAt,
		).Scan(&res.ObservationID)
		if err != nil {
			return nil, unavailable(err, "postgres: insert observation")
		}
		res.Inserted = true
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, unavailable(err, "postgres: commit upsert")
	}
	return res, nil
}

func (s *PostgresStore) PreviousObservation(ctx context.Context, productID int64) (*model.Observation, error) {
	return s.observationAt(ctx, productID, 1)
}

func (s *PostgresStore) LatestObservation(ctx context.Context, productID int64) (*model.Observation, error) {
	return s.observationAt(ctx, productID, 0)
}

func (s *PostgresStore) observationAt(ctx context.Context, productID int64, offset int) (*model.Observation, error) {
	var o model.Observation
	err := s.pool.QueryRow(ctx,
		`SELECT id, product_id, price, currency, captured_at FROM price_history
		 WHERE product_id = $1
		 ORDER BY captured_at DESC, id DESC
		 LIMIT 1 OFFSET $2`,
		productID, offset,
	).Scan(&o.ID, &o.ProductID, &o.Price, &o.Currency, &o.CapturedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable(err, "postgres: read observation")
	}
	return &o, nil
}

func (s *PostgresStore) DueTargets(ctx context.Context, limit int) ([]model.TrackedTarget, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+targetColumns+`
		 FROM tracked_products
		 WHERE enabled AND tracking_mode = 'url'
		   AND (next_check_at IS NULL OR next_check_at <= $1)
		 ORDER BY last_checked_at ASC NULLS FIRST, id ASC
		 LIMIT $2`,
		time.Now().UTC(), limit,
	)
	if err != nil {
		return nil, unavailable(err, "postgres: due targets")
	}
	defer rows.Close()
	return scanTargets(rows)
}

func (s *PostgresStore) Complete(ctx context.Context, targetID int64, success bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable(err, "postgres: begin complete")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var interval int
	err = tx.QueryRow(ctx,
		`SELECT check_interval_minutes FROM tracked_products WHERE id = $1 FOR UPDATE`,
		targetID,
	).Scan(&interval)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "target %d", targetID)
		}
		return unavailable(err, "postgres: lock target")
	}

	now := time.Now().UTC()
	next := now.Add(time.Duration(interval) * time.Minute)
	_, err = tx.Exec(ctx,
		`UPDATE tracked_products
		 SET last_checked_at = $2, next_check_at = $3,
		     failure_counter = CASE WHEN $4 THEN 0 ELSE failure_counter + 1 END,
		     updated_at = $2
		 WHERE id = $1`,
		targetID, now, next, success,
	)
	if err != nil {
		return unavailable(err, "postgres: update schedule")
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable(err, "postgres: commit complete")
	}
	return nil
}

func (s *PostgresStore) CreateTarget(ctx context.Context, t *model.TrackedTarget) (*model.TrackedTarget, error) {
	if t.TrackingMode == "" {
		t.TrackingMode = model.TrackingModeURL
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := *t
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tracked_products
		 (url, site, tracking_mode, product_name, keywords, enabled, check_interval_minutes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 RETURNING id`,
		nullIfEmpty(t.URL), nullIfEmpty(t.Site), string(t.TrackingMode),
		nullIfEmpty(t.ProductName), nullIfEmpty(t.Keywords),
		t.Enabled, t.CheckIntervalMinutes, now,
	).Scan(&out.ID)
	if err != nil {
		return nil, unavailable(err, "postgres: insert target")
	}
	out.CreatedAt = now
	out.UpdatedAt = now
	return &out, nil
}

func (s *PostgresStore) GetTarget(ctx context.Context, id int64) (*model.TrackedTarget, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+targetColumns+` FROM tracked_products WHERE id = $1`, id)
	t, err := scanTarget(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "target %d", id)
		}
		return nil, unavailable(err, "postgres: get target")
	}
	return t, nil
}

func (s *PostgresStore) ListTargets(ctx context.Context, f TargetFilter) ([]model.TrackedTarget, error) {
	query := `SELECT ` + targetColumns + ` FROM tracked_products WHERE true`
	args := []any{}
	argIdx := 1

	if f.Site != "" {
		query += fmt.Sprintf(` AND site = $%d`, argIdx)
		args = append(args, f.Site)
		argIdx++
	}
	if f.Enabled != nil {
		query += fmt.Sprintf(` AND enabled = $%d`, argIdx)
		args = append(args, *f.Enabled)
		argIdx++
	}
	query += ` ORDER BY id ASC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if f.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err, "postgres: list targets")
	}
	defer rows.Close()
	return scanTargets(rows)
}

func (s *PostgresStore) UpdateTarget(ctx context.Context, id int64, u TargetUpdate) (*model.TrackedTarget, error) {
	if u.IntervalMinutes != nil {
		if *u.IntervalMinutes < model.MinCheckInterval || *u.IntervalMinutes > model.MaxCheckInterval {
			return nil, &model.ValidationError{
				Field:  "check_interval_minutes",
				Reason: fmt.Sprintf("must be within [%d, %d]", model.MinCheckInterval, model.MaxCheckInterval),
			}
		}
	}

	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}
	argIdx := 2

	if u.Enabled != nil {
		sets = append(sets, fmt.Sprintf("enabled = $%d", argIdx))
		args = append(args, *u.Enabled)
		argIdx++
	}
	if u.IntervalMinutes != nil {
		sets = append(sets, fmt.Sprintf("check_interval_minutes = $%d", argIdx))
		args = append(args, *u.IntervalMinutes)
		argIdx++
	}
	if u.Site != nil {
		sets = append(sets, fmt.Sprintf("site = $%d", argIdx))
		args = append(args, *u.Site)
		argIdx++
	}

	query := fmt.Sprintf(`UPDATE tracked_products SET %s WHERE id = $%d`,
		strings.Join(sets, ", "), argIdx)
	args = append(args, id)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err, "postgres: update target")
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Wrapf(ErrNotFound, "target %d", id)
	}
	return s.GetTarget(ctx, id)
}

func (s *PostgresStore) DeleteTarget(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tracked_products WHERE id = $1`, id)
	if err != nil {
		return unavailable(err, "postgres: delete target")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "target %d", id)
	}
	return nil
}

const productColumns = `p.id, p.url, p.site, p.title, p.price,
	 COALESCE((SELECT ph.currency FROM price_history ph
	           WHERE ph.product_id = p.id
	           ORDER BY ph.captured_at DESC, ph.id DESC LIMIT 1), 'USD'),
	 p.last_seen_at, p.created_at`

func (s *PostgresStore) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products p WHERE p.id = $1`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "product %d", id)
		}
		return nil, unavailable(err, "postgres: get product")
	}
	return p, nil
}

func (s *PostgresStore) GetProductByURL(ctx context.Context, url string) (*model.Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products p WHERE p.url = $1`, url)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "product %s", url)
		}
		return nil, unavailable(err, "postgres: get product by url")
	}
	return p, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context, f ProductFilter) ([]model.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products p WHERE true`
	args := []any{}
	argIdx := 1

	if f.Site != "" {
		query += fmt.Sprintf(` AND p.site = $%d`, argIdx)
		args = append(args, f.Site)
		argIdx++
	}
	if f.Search != "" {
		query += fmt.Sprintf(` AND p.title ILIKE $%d`, argIdx)
		args = append(args, "%"+f.Search+"%")
		argIdx++
	}
	query += ` ORDER BY p.last_seen_at DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if f.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err, "postgres: list products")
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, unavailable(err, "postgres: scan product")
		}
		products = append(products, *p)
	}
	return products, eris.Wrap(rows.Err(), "postgres: list products iterate")
}

func (s *PostgresStore) ListObservations(ctx context.Context, productID int64, since time.Time, limit int) ([]model.Observation, error) {
	query := `SELECT id, product_id, price, currency, captured_at FROM price_history
		 WHERE product_id = $1`
	args := []any{productID}
	argIdx := 2

	if !since.IsZero() {
		query += fmt.Sprintf(` AND captured_at >= $%d`, argIdx)
		args = append(args, since)
		argIdx++
	}
	query += ` ORDER BY captured_at ASC, id ASC`

	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err, "postgres: list observations")
	}
	defer rows.Close()

	var obs []model.Observation
	for rows.Next() {
		var o model.Observation
		if err := rows.Scan(&o.ID, &o.ProductID, &o.Price, &o.Currency, &o.CapturedAt); err != nil {
			return nil, unavailable(err, "postgres: scan observation")
		}
		obs = append(obs, o)
	}
	return obs, eris.Wrap(rows.Err(), "postgres: list observations iterate")
}

func (s *PostgresStore) RecordCycle(ctx context.Context, run CycleRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cycle_runs (id, started_at, finished_at, total, successful, failed, aborted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.StartedAt, run.FinishedAt, run.Total, run.Successful, run.Failed, run.Aborted,
	)
	if err != nil {
		return unavailable(err, "postgres: record cycle")
	}
	return nil
}

func (s *PostgresStore) RecentCycles(ctx context.Context, limit int) ([]CycleRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, started_at, finished_at, total, successful, failed, aborted
		 FROM cycle_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, unavailable(err, "postgres: recent cycles")
	}
	defer rows.Close()

	var runs []CycleRun
	for rows.Next() {
		var r CycleRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Total, &r.Successful, &r.Failed, &r.Aborted); err != nil {
			return nil, unavailable(err, "postgres: scan cycle")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: recent cycles iterate")
}

func (s *PostgresStore) Counts(ctx context.Context) (*Counts, error) {
	var c Counts
	err := s.pool.QueryRow(ctx,
		`SELECT
		 (SELECT count(*) FROM products),
		 (SELECT count(*) FROM price_history),
		 (SELECT count(*) FROM tracked_products),
		 (SELECT count(*) FROM tracked_products WHERE enabled),
		 (SELECT count(*) FROM tracked_products
		  WHERE enabled AND tracking_mode = 'url'
		    AND (next_check_at IS NULL OR next_check_at <= now()))`,
	).Scan(&c.Products, &c.Observations, &c.Targets, &c.EnabledTargets, &c.DueTargets)
	if err != nil {
		return nil, unavailable(err, "postgres: counts")
	}
	return &c, nil
}

func (s *PostgresStore) ObservationsBefore(ctx context.Context, cutoff time.Time) ([]ArchivedObservation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ph.id, ph.product_id, ph.price, ph.currency, ph.captured_at, p.url, p.title
		 FROM price_history ph JOIN products p ON p.id = ph.product_id
		 WHERE ph.captured_at < $1
		 ORDER BY ph.captured_at ASC, ph.id ASC`,
		cutoff,
	)
	if err != nil {
		return nil, unavailable(err, "postgres: observations before")
	}
	defer rows.Close()

	var out []ArchivedObservation
	for rows.Next() {
		var a ArchivedObservation
		if err := rows.Scan(&a.ID, &a.ProductID, &a.Price, &a.Currency, &a.CapturedAt, &a.URL, &a.Title); err != nil {
			return nil, unavailable(err, "postgres: scan archived observation")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: observations before iterate")
}

func (s *PostgresStore) PruneObservations(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM price_history WHERE captured_at < $1`, cutoff)
	if err != nil {
		return 0, unavailable(err, "postgres: prune observations")
	}
	return tag.RowsAffected(), nil
}

// ImportObservations bulk-loads historical observations. Products are
// upserted first (keyed by URL, denormalized price from the newest row per
// URL), then the history rows stream in through COPY.
func (s *PostgresStore) ImportObservations(ctx context.Context, rows []ImportRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	productIDs := make(map[string]int64, len(rows))
	newest := make(map[string]ImportRow, len(rows))
	for i := range rows {
		r := &rows[i]
		r.Currency = model.NormalizeCurrency(string(r.Currency))
		r.Price = model.RoundPrice(r.Price)
		snap := model.Snapshot{
			URL: r.URL, Site: r.Site, Title: r.Title,
			Price: r.Price, Currency: r.Currency, CapturedAt: r.CapturedAt,
		}
		if err := snap.Validate(); err != nil {
			return 0, eris.Wrapf(err, "postgres: import row %d", i)
		}
		if cur, ok := newest[r.URL]; !ok || r.CapturedAt.After(cur.CapturedAt) {
			newest[r.URL] = *r
		}
	}

	urls := make([]string, 0, len(newest))
	upsertRows := make([][]any, 0, len(newest))
	for url, r := range newest {
		urls = append(urls, url)
		upsertRows = append(upsertRows, []any{r.URL, r.Site, r.Title, r.Price, r.CapturedAt, r.CapturedAt})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "products",
		Columns:      []string{"url", "site", "title", "price", "last_seen_at", "created_at"},
		ConflictKeys: []string{"url"},
		UpdateCols:   []string{"site", "title", "price", "last_seen_at"},
	}, upsertRows)
	if err != nil {
		return 0, unavailable(err, "postgres: import upsert products")
	}

	idRows, err := s.pool.Query(ctx, `SELECT id, url FROM products WHERE url = ANY($1)`, urls)
	if err != nil {
		return 0, unavailable(err, "postgres: import map product ids")
	}
	defer idRows.Close()
	for idRows.Next() {
		var (
			id  int64
			url string
		)
		if err := idRows.Scan(&id, &url); err != nil {
			return 0, unavailable(err, "postgres: import map product ids")
		}
		productIDs[url] = id
	}
	if err := idRows.Err(); err != nil {
		return 0, unavailable(err, "postgres: import map product ids")
	}

	copyRows := make([][]any, 0, len(rows))
	for _, r := range rows {
		copyRows = append(copyRows, []any{productIDs[r.URL], r.Price, string(r.Currency), r.CapturedAt})
	}
	n, err := db.CopyFrom(ctx, s.pool, "price_history",
		[]string{"product_id", "price", "currency", "captured_at"}, copyRows)
	if err != nil {
		return 0, unavailable(err, "postgres: import copy")
	}
	return n, nil
}

// Migrate applies pending migrations under an advisory lock.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationAdvisoryLock); err != nil {
		return unavailable(err, "postgres: acquire migration lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationAdvisoryLock); err != nil {
			// lock is released on connection close anyway
			_ = err
		}
	}()

	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version           TEXT NOT NULL UNIQUE,
			executed_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			checksum          TEXT NOT NULL,
			execution_time_ms BIGINT NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return unavailable(err, "postgres: ensure schema_migrations")
	}

	return applyMigrations(ctx, "migrations/postgres", &pgMigrationExec{pool: s.pool})
}

type pgMigrationExec struct {
	pool db.Pool
}

func (e *pgMigrationExec) exec(ctx context.Context, sql string, args ...any) error {
	_, err := e.pool.Exec(ctx, sql, args...)
	return err
}

func (e *pgMigrationExec) queryApplied(ctx context.Context) (map[string]string, error) {
	rows, err := e.pool.Query(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, unavailable(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var version, checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[version] = checksum
	}
	return applied, rows.Err()
}

func (e *pgMigrationExec) record(ctx context.Context, m migration, elapsed time.Duration) error {
	_, err := e.pool.Exec(ctx,
		`INSERT INTO schema_migrations (version, executed_at, checksum, execution_time_ms)
		 VALUES ($1, now(), $2, $3)`,
		m.Version, m.Checksum, elapsed.Milliseconds(),
	)
	return err
}

// scan helpers

type pgScannable interface {
	Scan(dest ...any) error
}

func scanTarget(row pgScannable) (*model.TrackedTarget, error) {
	var t model.TrackedTarget
	var url, site, name, keywords *string
	err := row.Scan(&t.ID, &url, &site, &t.TrackingMode, &name, &keywords, &t.Enabled,
		&t.CheckIntervalMinutes, &t.LastCheckedAt, &t.NextCheckAt, &t.FailureCounter,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.URL = deref(url)
	t.Site = deref(site)
	t.ProductName = deref(name)
	t.Keywords = deref(keywords)
	return &t, nil
}

func scanTargets(rows pgx.Rows) ([]model.TrackedTarget, error) {
	var targets []model.TrackedTarget
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, unavailable(err, "postgres: scan target")
		}
		targets = append(targets, *t)
	}
	return targets, eris.Wrap(rows.Err(), "postgres: targets iterate")
}

func scanProduct(row pgScannable) (*model.Product, error) {
	var p model.Product
	err := row.Scan(&p.ID, &p.URL, &p.Site, &p.Title, &p.Price, &p.Currency,
		&p.LastSeenAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
