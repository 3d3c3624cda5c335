// Package store owns all persistent rows: products, the append-only price
// history, tracked targets and cycle runs. Postgres (pgx) is the production
// backend; sqlite (modernc) serves local single-binary use and tests.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pricelens/pricelens/internal/model"
)

// DedupWindow is the trailing interval during which an identical price for
// the same product is not recorded a second time.
const DedupWindow = 5 * time.Minute

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = eris.New("store: not found")

// UnavailableError wraps backend outages (connection loss, pool exhaustion)
// so the retry driver can tell them apart from terminal failures.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string { return e.Err.Error() }

func (e *UnavailableError) Unwrap() error { return e.Err }

// Retryable marks backend outages as safe to retry.
func (e *UnavailableError) Retryable() bool { return true }

// UpsertResult reports what an observation upsert wrote. Inserted is false
// when the dedup window absorbed the observation; the product row still
// advanced.
type UpsertResult struct {
	ProductID     int64 `json:"product_id"`
	ObservationID int64 `json:"observation_id,omitempty"`
	Inserted      bool  `json:"inserted"`
}

// TargetFilter specifies criteria for listing tracked targets.
type TargetFilter struct {
	Site    string `json:"site,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// TargetUpdate holds the mutable operator-facing fields of a target. Nil
// fields are left unchanged.
type TargetUpdate struct {
	Enabled         *bool   `json:"enabled,omitempty"`
	IntervalMinutes *int    `json:"check_interval_minutes,omitempty"`
	Site            *string `json:"site,omitempty"`
}

// ProductFilter specifies criteria for listing products.
type ProductFilter struct {
	Site   string `json:"site,omitempty"`
	Search string `json:"search,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// CycleRun records the outcome of one scheduler cycle.
type CycleRun struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Aborted    bool      `json:"aborted"`
}

// Counts is a point-in-time row count summary for status reporting.
type Counts struct {
	Products       int64 `json:"products"`
	Observations   int64 `json:"observations"`
	Targets        int64 `json:"targets"`
	EnabledTargets int64 `json:"enabled_targets"`
	DueTargets     int64 `json:"due_targets"`
}

// ArchivedObservation is an observation joined with its product's URL and
// title, the shape written to retention archives and exports.
type ArchivedObservation struct {
	model.Observation
	URL   string `json:"url"`
	Title string `json:"title"`
}

// ImportRow is one historical observation loaded from an external file.
type ImportRow struct {
	URL        string         `json:"url"`
	Site       string         `json:"site"`
	Title      string         `json:"title"`
	Price      float64        `json:"price"`
	Currency   model.Currency `json:"currency"`
	CapturedAt time.Time      `json:"captured_at"`
}

// Store defines the persistence interface for the observation engine and
// its read consumers.
type Store interface {
	// Engine write path
	UpsertObservation(ctx context.Context, snap model.Snapshot) (*UpsertResult, error)
	PreviousObservation(ctx context.Context, productID int64) (*model.Observation, error)
	LatestObservation(ctx context.Context, productID int64) (*model.Observation, error)

	// Scheduling
	DueTargets(ctx context.Context, limit int) ([]model.TrackedTarget, error)
	Complete(ctx context.Context, targetID int64, success bool) error

	// Target CRUD (CLI and API; the engine touches only the scheduling columns)
	CreateTarget(ctx context.Context, t *model.TrackedTarget) (*model.TrackedTarget, error)
	GetTarget(ctx context.Context, id int64) (*model.TrackedTarget, error)
	ListTargets(ctx context.Context, f TargetFilter) ([]model.TrackedTarget, error)
	UpdateTarget(ctx context.Context, id int64, u TargetUpdate) (*model.TrackedTarget, error)
	DeleteTarget(ctx context.Context, id int64) error

	// Read models
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	GetProductByURL(ctx context.Context, url string) (*model.Product, error)
	ListProducts(ctx context.Context, f ProductFilter) ([]model.Product, error)
	ListObservations(ctx context.Context, productID int64, since time.Time, limit int) ([]model.Observation, error)

	// Cycle accounting
	RecordCycle(ctx context.Context, run CycleRun) error
	RecentCycles(ctx context.Context, limit int) ([]CycleRun, error)

	// Maintenance
	Counts(ctx context.Context) (*Counts, error)
	ObservationsBefore(ctx context.Context, cutoff time.Time) ([]ArchivedObservation, error)
	PruneObservations(ctx context.Context, cutoff time.Time) (int64, error)
	ImportObservations(ctx context.Context, rows []ImportRow) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Open builds a Store for the configured driver. The sqlite driver treats
// dsn as a file path.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case "postgres":
		return NewPostgres(ctx, dsn, poolCfg)
	case "sqlite":
		return NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}
