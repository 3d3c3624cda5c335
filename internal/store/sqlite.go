package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/pricelens/pricelens/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// Serialized access keeps transactions simple under the single-file
	// backend; the engine is the only writer.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &UnavailableError{Err: eris.Wrap(err, "sqlite: ping")}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertObservation(ctx context.Context, snap model.Snapshot) (*UpsertResult, error) {
	if err := normalizeSnapshot(&snap); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(err, "sqlite: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	var productID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO products (url, site, title, price, last_seen_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (url) DO UPDATE
		 SET site = excluded.site, title = excluded.title, price = excluded.price,
		     last_seen_at = excluded.last_seen_at
		 RETURNING id`,
		snap.URL, snap.Site, snap.Title, snap.Price, snap.CapturedAt, snap.CapturedAt,
	).Scan(&productID)
	if err != nil {
		return nil, unavailable(err, "sqlite: upsert product")
	}

	var duplicate bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (
		 SELECT 1 FROM price_history
		 WHERE product_id = ? AND price = ? AND captured_at > ?)`,
		productID, snap.Price, snap.CapturedAt.Add(-DedupWindow),
	).Scan(&duplicate)
	if err != nil {
		return nil, unavailable(err, "sqlite: dedup check")
	}

	res := &UpsertResult{ProductID: productID}
	if !duplicate {
		err = tx.QueryRowContext(ctx,
			`INSERT INTO price_history (product_id, price, currency, captured_at)
			 VALUES (?, ?, ?, ?) RETURNING id`,
			productID, snap.Price, string(snap.Currency), snap.CapturedAt,
		).Scan(&res.ObservationID)
		if err != nil {
			return nil, unavailable(err, "sqlite: insert observation")
		}
		res.Inserted = true
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable(err, "sqlite: commit upsert")
	}
	return res, nil
}

func (s *SQLiteStore) PreviousObservation(ctx context.Context, productID int64) (*model.Observation, error) {
	return s.observationAt(ctx, productID, 1)
}

func (s *SQLiteStore) LatestObservation(ctx context.Context, productID int64) (*model.Observation, error) {
	return s.observationAt(ctx, productID, 0)
}

func (s *SQLiteStore) observationAt(ctx context.Context, productID int64, offset int) (*model.Observation, error) {
	var o model.Observation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, product_id, price, currency, captured_at FROM price_history
		 WHERE product_id = ?
		 ORDER BY captured_at DESC, id DESC
		 LIMIT 1 OFFSET ?`,
		productID, offset,
	).Scan(&o.ID, &o.ProductID, &o.Price, &o.Currency, &o.CapturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err, "sqlite: read observation")
	}
	return &o, nil
}

const sqliteTargetColumns = `id, url, site, tracking_mode, product_name, keywords, enabled,
	 check_interval_minutes, last_checked_at, next_check_at, failure_counter,
	 created_at, updated_at`

func (s *SQLiteStore) DueTargets(ctx context.Context, limit int) ([]model.TrackedTarget, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteTargetColumns+`
		 FROM tracked_products
		 WHERE enabled AND tracking_mode = 'url'
		   AND (next_check_at IS NULL OR next_check_at <= ?)
		 ORDER BY last_checked_at IS NOT NULL, last_checked_at ASC, id ASC
		 LIMIT ?`,
		time.Now().UTC(), limit,
	)
	if err != nil {
		return nil, unavailable(err, "sqlite: due targets")
	}
	defer rows.Close()
	return scanSQLiteTargets(rows)
}

func (s *SQLiteStore) Complete(ctx context.Context, targetID int64, success bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err, "sqlite: begin complete")
	}
	defer tx.Rollback() //nolint:errcheck

	var interval int
	err = tx.QueryRowContext(ctx,
		`SELECT check_interval_minutes FROM tracked_products WHERE id = ?`,
		targetID,
	).Scan(&interval)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "target %d", targetID)
	}
	if err != nil {
		return unavailable(err, "sqlite: read target interval")
	}

	now := time.Now().UTC()
	next := now.Add(time.Duration(interval) * time.Minute)
	_, err = tx.ExecContext(ctx,
		`UPDATE tracked_products
		 SET last_checked_at = ?, next_check_at = ?,
		     failure_counter = CASE WHEN ? THEN 0 ELSE failure_counter + 1 END,
		     updated_at = ?
		 WHERE id = ?`,
		now, next, success, now, targetID,
	)
	if err != nil {
		return unavailable(err, "sqlite: update schedule")
	}

	if err := tx.Commit(); err != nil {
		return unavailable(err, "sqlite: commit complete")
	}
	return nil
}

func (s *SQLiteStore) CreateTarget(ctx context.Context, t *model.TrackedTarget) (*model.TrackedTarget, error) {
	if t.TrackingMode == "" {
		t.TrackingMode = model.TrackingModeURL
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := *t
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO tracked_products
		 (url, site, tracking_mode, product_name, keywords, enabled, check_interval_minutes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`,
		nullIfEmpty(t.URL), nullIfEmpty(t.Site), string(t.TrackingMode),
		nullIfEmpty(t.ProductName), nullIfEmpty(t.Keywords),
		t.Enabled, t.CheckIntervalMinutes, now, now,
	).Scan(&out.ID)
	if err != nil {
		return nil, unavailable(err, "sqlite: insert target")
	}
	out.CreatedAt = now
	out.UpdatedAt = now
	return &out, nil
}

func (s *SQLiteStore) GetTarget(ctx context.Context, id int64) (*model.TrackedTarget, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteTargetColumns+` FROM tracked_products WHERE id = ?`, id)
	t, err := scanSQLiteTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "target %d", id)
	}
	if err != nil {
		return nil, unavailable(err, "sqlite: get target")
	}
	return t, nil
}

func (s *SQLiteStore) ListTargets(ctx context.Context, f TargetFilter) ([]model.TrackedTarget, error) {
	query := `SELECT ` + sqliteTargetColumns + ` FROM tracked_products WHERE 1=1`
	var args []any

	if f.Site != "" {
		query += ` AND site = ?`
		args = append(args, f.Site)
	}
	if f.Enabled != nil {
		query += ` AND enabled = ?`
		args = append(args, *f.Enabled)
	}
	query += ` ORDER BY id ASC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err, "sqlite: list targets")
	}
	defer rows.Close()
	return scanSQLiteTargets(rows)
}

func (s *SQLiteStore) UpdateTarget(ctx context.Context, id int64, u TargetUpdate) (*model.TrackedTarget, error) {
	if u.IntervalMinutes != nil {
		if *u.IntervalMinutes < model.MinCheckInterval || *u.IntervalMinutes > model.MaxCheckInterval {
			return nil, &model.ValidationError{
				Field:  "check_interval_minutes",
				Reason: fmt.Sprintf("must be within [%d, %d]", model.MinCheckInterval, model.MaxCheckInterval),
			}
		}
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if u.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *u.Enabled)
	}
	if u.IntervalMinutes != nil {
		sets = append(sets, "check_interval_minutes = ?")
		args = append(args, *u.IntervalMinutes)
	}
	if u.Site != nil {
		sets = append(sets, "site = ?")
		args = append(args, *u.Site)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE tracked_products SET %s WHERE id = ?`, strings.Join(sets, ", ")),
		args...,
	)
	if err != nil {
		return nil, unavailable(err, "sqlite: update target")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, eris.Wrapf(ErrNotFound, "target %d", id)
	}
	return s.GetTarget(ctx, id)
}

func (s *SQLiteStore) DeleteTarget(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tracked_products WHERE id = ?`, id)
	if err != nil {
		return unavailable(err, "sqlite: delete target")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrNotFound, "target %d", id)
	}
	return nil
}

const sqliteProductColumns = `p.id, p.url, p.site, p.title, p.price,
	 COALESCE((SELECT ph.currency FROM price_history ph
	           WHERE ph.product_id = p.id
	           ORDER BY ph.captured_at DESC, ph.id DESC LIMIT 1), 'USD'),
	 p.last_seen_at, p.created_at`

func (s *SQLiteStore) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteProductColumns+` FROM products p WHERE p.id = ?`, id)
	p, err := scanSQLiteProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "product %d", id)
	}
	if err != nil {
		return nil, unavailable(err, "sqlite: get product")
	}
	return p, nil
}

func (s *SQLiteStore) GetProductByURL(ctx context.Context, url string) (*model.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteProductColumns+` FROM products p WHERE p.url = ?`, url)
	p, err := scanSQLiteProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "product %s", url)
	}
	if err != nil {
		return nil, unavailable(err, "sqlite: get product by url")
	}
	return p, nil
}

func (s *SQLiteStore) ListProducts(ctx context.Context, f ProductFilter) ([]model.Product, error) {
	query := `SELECT ` + sqliteProductColumns + ` FROM products p WHERE 1=1`
	var args []any

	if f.Site != "" {
		query += ` AND p.site = ?`
		args = append(args, f.Site)
	}
	if f.Search != "" {
		query += ` AND p.title LIKE ?`
		args = append(args, "%"+f.Search+"%")
	}
	query += ` ORDER BY p.last_seen_at DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err, "sqlite: list products")
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		p, err := scanSQLiteProduct(rows)
		if err != nil {
			return nil, unavailable(err, "sqlite: scan product")
		}
		products = append(products, *p)
	}
	return products, eris.Wrap(rows.Err(), "sqlite: list products iterate")
}

func (s *SQLiteStore) ListObservations(ctx context.Context, productID int64, since time.Time, limit int) ([]model.Observation, error) {
	query := `SELECT id, product_id, price, currency, captured_at FROM price_history
		 WHERE product_id = ?`
	args := []any{productID}

	if !since.IsZero() {
		query += ` AND captured_at >= ?`
		args = append(args, since)
	}
	query += ` ORDER BY captured_at ASC, id ASC`

	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err, "sqlite: list observations")
	}
	defer rows.Close()

	var obs []model.Observation
	for rows.Next() {
		var o model.Observation
		if err := rows.Scan(&o.ID, &o.ProductID, &o.Price, &o.Currency, &o.CapturedAt); err != nil {
			return nil, unavailable(err, "sqlite: scan observation")
		}
		obs = append(obs, o)
	}
	return obs, eris.Wrap(rows.Err(), "sqlite: list observations iterate")
}

func (s *SQLiteStore) RecordCycle(ctx context.Context, run CycleRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycle_runs (id, started_at, finished_at, total, successful, failed, aborted)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, run.FinishedAt, run.Total, run.Successful, run.Failed, run.Aborted,
	)
	if err != nil {
		return unavailable(err, "sqlite: record cycle")
	}
	return nil
}

func (s *SQLiteStore) RecentCycles(ctx context.Context, limit int) ([]CycleRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, total, successful, failed, aborted
		 FROM cycle_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, unavailable(err, "sqlite: recent cycles")
	}
	defer rows.Close()

	var runs []CycleRun
	for rows.Next() {
		var r CycleRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Total, &r.Successful, &r.Failed, &r.Aborted); err != nil {
			return nil, unavailable(err, "sqlite: scan cycle")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: recent cycles iterate")
}

func (s *SQLiteStore) Counts(ctx context.Context) (*Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx,
		`SELECT
		 (SELECT count(*) FROM products),
		 (SELECT count(*) FROM price_history),
		 (SELECT count(*) FROM tracked_products),
		 (SELECT count(*) FROM tracked_products WHERE enabled),
		 (SELECT count(*) FROM tracked_products
		  WHERE enabled AND tracking_mode = 'url'
		    AND (next_check_at IS NULL OR next_check_at <= ?))`,
		time.Now().UTC(),
	).Scan(&c.Products, &c.Observations, &c.Targets, &c.EnabledTargets, &c.DueTargets)
	if err != nil {
		return nil, unavailable(err, "sqlite: counts")
	}
	return &c, nil
}

func (s *SQLiteStore) ObservationsBefore(ctx context.Context, cutoff time.Time) ([]ArchivedObservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ph.id, ph.product_id, ph.price, ph.currency, ph.captured_at, p.url, p.title
		 FROM price_history ph JOIN products p ON p.id = ph.product_id
		 WHERE ph.captured_at < ?
		 ORDER BY ph.captured_at ASC, ph.id ASC`,
		cutoff,
	)
	if err != nil {
		return nil, unavailable(err, "sqlite: observations before")
	}
	defer rows.Close()

	var out []ArchivedObservation
	for rows.Next() {
		var a ArchivedObservation
		if err := rows.Scan(&a.ID, &a.ProductID, &a.Price, &a.Currency, &a.CapturedAt, &a.URL, &a.Title); err != nil {
			return nil, unavailable(err, "sqlite: scan archived observation")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: observations before iterate")
}

func (s *SQLiteStore) PruneObservations(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM price_history WHERE captured_at < ?`, cutoff)
	if err != nil {
		return 0, unavailable(err, "sqlite: prune observations")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ImportObservations(ctx context.Context, rows []ImportRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

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
			return 0, eris.Wrapf(err, "sqlite: import row %d", i)
		}
		if cur, ok := newest[r.URL]; !ok || r.CapturedAt.After(cur.CapturedAt) {
			newest[r.URL] = *r
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable(err, "sqlite: begin import")
	}
	defer tx.Rollback() //nolint:errcheck

	productIDs := make(map[string]int64, len(newest))
	for url, r := range newest {
		var id int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO products (url, site, title, price, last_seen_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (url) DO UPDATE
			 SET site = excluded.site, title = excluded.title, price = excluded.price,
			     last_seen_at = excluded.last_seen_at
			 RETURNING id`,
			r.URL, r.Site, r.Title, r.Price, r.CapturedAt, r.CapturedAt,
		).Scan(&id)
		if err != nil {
			return 0, unavailable(err, "sqlite: import upsert product")
		}
		productIDs[url] = id
	}

	var n int64
	for _, r := range rows {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO price_history (product_id, price, currency, captured_at)
			 VALUES (?, ?, ?, ?)`,
			productIDs[r.URL], r.Price, string(r.Currency), r.CapturedAt,
		)
		if err != nil {
			return 0, unavailable(err, "sqlite: import insert observation")
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, unavailable(err, "sqlite: commit import")
	}
	return n, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version           TEXT NOT NULL UNIQUE,
			executed_at       DATETIME NOT NULL DEFAULT (datetime('now')),
			checksum          TEXT NOT NULL,
			execution_time_ms INTEGER NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return unavailable(err, "sqlite: ensure schema_migrations")
	}
	return applyMigrations(ctx, "migrations/sqlite", &sqliteMigrationExec{db: s.db})
}

type sqliteMigrationExec struct {
	db *sql.DB
}

func (e *sqliteMigrationExec) exec(ctx context.Context, sqlText string, args ...any) error {
	_, err := e.db.ExecContext(ctx, sqlText, args...)
	return err
}

func (e *sqliteMigrationExec) queryApplied(ctx context.Context) (map[string]string, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, unavailable(err, "sqlite: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var version, checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan migration row")
		}
		applied[version] = checksum
	}
	return applied, rows.Err()
}

func (e *sqliteMigrationExec) record(ctx context.Context, m migration, elapsed time.Duration) error {
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, executed_at, checksum, execution_time_ms)
		 VALUES (?, ?, ?, ?)`,
		m.Version, time.Now().UTC(), m.Checksum, elapsed.Milliseconds(),
	)
	return err
}

// scan helpers

type sqliteScannable interface {
	Scan(dest ...any) error
}

func scanSQLiteTarget(row sqliteScannable) (*model.TrackedTarget, error) {
	var t model.TrackedTarget
	var url, site, name, keywords sql.NullString
	err := row.Scan(&t.ID, &url, &site, &t.TrackingMode, &name, &keywords, &t.Enabled,
		&t.CheckIntervalMinutes, &t.LastCheckedAt, &t.NextCheckAt, &t.FailureCounter,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.URL = url.String
	t.Site = site.String
	t.ProductName = name.String
	t.Keywords = keywords.String
	return &t, nil
}

func scanSQLiteTargets(rows *sql.Rows) ([]model.TrackedTarget, error) {
	var targets []model.TrackedTarget
	for rows.Next() {
		t, err := scanSQLiteTarget(rows)
		if err != nil {
			return nil, unavailable(err, "sqlite: scan target")
		}
		targets = append(targets, *t)
	}
	return targets, eris.Wrap(rows.Err(), "sqlite: targets iterate")
}

func scanSQLiteProduct(row sqliteScannable) (*model.Product, error) {
	var p model.Product
	err := row.Scan(&p.ID, &p.URL, &p.Site, &p.Title, &p.Price, &p.Currency,
		&p.LastSeenAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
