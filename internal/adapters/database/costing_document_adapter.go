package database

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/clinicledger/costing/internal/domain/entities"
	"github.com/clinicledger/costing/internal/domain/repositories"
	"github.com/clinicledger/costing/internal/infrastructure/clients/postgres"
	"github.com/clinicledger/costing/internal/infrastructure/observability"
	apperrors "github.com/clinicledger/costing/pkg/errors"
	"github.com/clinicledger/costing/pkg/retry"
)

const (
	tableMetadata            = "costing_metadata"
	tableSnapshots           = "costing_snapshots"
	tableStaff               = "costing_staff"
	tableConsumables         = "costing_consumables"
	tableProcedures          = "costing_procedures"
	tableFixedCostSelections = "costing_fixed_cost_selections"
	tableResults             = "costing_results"
	tableJobs                = "costing_jobs"

	metadataRowID = 1
)

// snapshotScopedTables are the tables keyed by snapshot_id, in write order
var snapshotScopedTables = []string{
	tableStaff,
	tableConsumables,
	tableProcedures,
	tableFixedCostSelections,
	tableResults,
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS costing_metadata (
		id INTEGER PRIMARY KEY,
		version INTEGER NOT NULL,
		revision BIGINT NOT NULL,
		updated_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS costing_snapshots (
		id TEXT PRIMARY KEY,
		month TEXT NOT NULL UNIQUE,
		payload JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS costing_staff (snapshot_id TEXT PRIMARY KEY, payload JSONB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS costing_consumables (snapshot_id TEXT PRIMARY KEY, payload JSONB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS costing_procedures (snapshot_id TEXT PRIMARY KEY, payload JSONB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS costing_fixed_cost_selections (snapshot_id TEXT PRIMARY KEY, payload JSONB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS costing_results (snapshot_id TEXT PRIMARY KEY, payload JSONB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS costing_jobs (
		job_id TEXT PRIMARY KEY,
		snapshot_id TEXT NOT NULL,
		queued_at TIMESTAMPTZ NOT NULL,
		payload JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_costing_jobs_snapshot ON costing_jobs (snapshot_id)`,
}

// errRevisionMoved signals that another writer committed first
var errRevisionMoved = errors.New("costing document revision moved")

// partition addresses one persisted row
type partition struct {
	table string
	key   string
}

// CostingDocumentAdapter implements DocumentStore on PostgreSQL with one table per collection.
// Mutate rewrites only the rows whose payload changed and guards the commit with a revision check.
type CostingDocumentAdapter struct {
	client  *postgres.Client
	db      *goqu.Database
	retry   retry.Config
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

var _ repositories.DocumentStore = (*CostingDocumentAdapter)(nil)

// NewCostingDocumentAdapter creates a new keyed document adapter. metrics may be nil.
func NewCostingDocumentAdapter(client *postgres.Client, attempts int, logger zerolog.Logger, metrics *observability.Metrics) *CostingDocumentAdapter {
	cfg := retry.DefaultConfig()
	if attempts > 0 {
		cfg.MaxAttempts = attempts
	}
	cfg.Retryable = func(err error) bool { return errors.Is(err, errRevisionMoved) }

	return &CostingDocumentAdapter{
		client:  client,
		db:      goqu.New("postgres", client.DB()),
		retry:   cfg,
		logger:  logger.With().Str("backend", "postgres").Logger(),
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSchema creates the costing tables and the metadata row if they are missing
func (a *CostingDocumentAdapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := a.client.DB().ExecContext(ctx, stmt); err != nil {
			return apperrors.NewInternalError("failed to create costing schema", err)
		}
	}
	if err := a.insertMetadataRow(ctx, a.client.DB()); err != nil {
		return err
	}
	return nil
}

// Load materializes the whole document from all tables
func (a *CostingDocumentAdapter) Load(ctx context.Context) (*entities.Document, error) {
	tx, err := a.client.DB().BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, apperrors.NewInternalError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	doc, _, err := a.load(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewInternalError("failed to commit transaction", err)
	}
	return doc, nil
}

// Mutate loads the document inside a transaction, applies fn and writes the changed rows.
// A concurrent commit makes the attempt retry from a fresh load.
func (a *CostingDocumentAdapter) Mutate(ctx context.Context, fn func(doc *entities.Document) error) error {
	err := retry.DoWithLog(ctx, a.retry, "costing.mutate", a.logger, func() error {
		return a.mutateOnce(ctx, fn)
	})
	if errors.Is(err, errRevisionMoved) {
		return &apperrors.AppError{
			Type:    apperrors.ErrorTypeConflict,
			Message: "costing document was modified concurrently",
			Err:     err,
		}
	}
	return err
}

func (a *CostingDocumentAdapter) mutateOnce(ctx context.Context, fn func(doc *entities.Document) error) (retErr error) {
	tx, err := a.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewInternalError("failed to begin transaction", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	doc, hasMetadata, err := a.load(ctx, tx)
	if err != nil {
		return err
	}
	before, err := encodePartitions(doc)
	if err != nil {
		return err
	}

	if err := fn(doc); err != nil {
		return err
	}
	doc.Normalize()

	after, err := encodePartitions(doc)
	if err != nil {
		return err
	}

	if !hasMetadata {
		if err := a.insertMetadataRow(ctx, tx); err != nil {
			return err
		}
	}
	if err := a.advanceRevision(ctx, tx, doc); err != nil {
		return err
	}
	if err := a.writeChanges(ctx, tx, doc, before, after); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewInternalError("failed to commit transaction", err)
	}
	a.metrics.RecordMutation(ctx, "postgres")
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (a *CostingDocumentAdapter) insertMetadataRow(ctx context.Context, q querier) error {
	query, args, err := a.db.Insert(tableMetadata).
		Rows(goqu.Record{
			"id":       metadataRowID,
			"version":  entities.DocumentSchemaVersion,
			"revision": 0,
		}).
		OnConflict(goqu.DoNothing()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build metadata insert", err)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to create metadata row", err)
	}
	return nil
}

func (a *CostingDocumentAdapter) load(ctx context.Context, q querier) (*entities.Document, bool, error) {
	doc := &entities.Document{}
	hasMetadata, err := a.loadMetadata(ctx, q, &doc.Metadata)
	if err != nil {
		return nil, false, err
	}

	doc.Snapshots = make(map[string]entities.Snapshot)
	if err := a.loadSnapshots(ctx, q, doc.Snapshots); err != nil {
		return nil, false, err
	}

	doc.Staff = make(map[string][]entities.StaffCapacity)
	doc.Consumables = make(map[string][]entities.ConsumablePricing)
	doc.Procedures = make(map[string][]entities.ProcedureDefinition)
	doc.FixedCostSelections = make(map[string][]entities.FixedCostSelection)
	doc.Results = make(map[string]entities.ResultSet)

	targets := map[string]func(key string, payload []byte) error{
		tableStaff:               decodeInto(doc.Staff),
		tableConsumables:         decodeInto(doc.Consumables),
		tableProcedures:          decodeInto(doc.Procedures),
		tableFixedCostSelections: decodeInto(doc.FixedCostSelections),
		tableResults:             decodeInto(doc.Results),
	}
	for _, table := range snapshotScopedTables {
		if err := a.loadPartition(ctx, q, table, targets[table]); err != nil {
			return nil, false, err
		}
	}

	jobs, err := a.loadJobs(ctx, q)
	if err != nil {
		return nil, false, err
	}
	doc.Jobs = jobs

	doc.Normalize()
	return doc, hasMetadata, nil
}

func decodeInto[T any](target map[string]T) func(string, []byte) error {
	return func(key string, payload []byte) error {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		target[key] = v
		return nil
	}
}

func (a *CostingDocumentAdapter) loadMetadata(ctx context.Context, q querier, meta *entities.DocumentMetadata) (bool, error) {
	query, args, err := a.db.From(tableMetadata).
		Select("version", "revision", "updated_at").
		Where(goqu.Ex{"id": metadataRowID}).
		ToSQL()
	if err != nil {
		return false, apperrors.NewInternalError("failed to build metadata query", err)
	}

	var updatedAt sql.NullTime
	err = q.QueryRowContext(ctx, query, args...).Scan(&meta.Version, &meta.Revision, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		meta.Version = entities.DocumentSchemaVersion
		return false, nil
	}
	if err != nil {
		return false, apperrors.NewInternalError("failed to load metadata", err)
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		meta.UpdatedAt = &t
	}
	return true, nil
}

func (a *CostingDocumentAdapter) loadSnapshots(ctx context.Context, q querier, target map[string]entities.Snapshot) error {
	query, args, err := a.db.From(tableSnapshots).Select("id", "payload").Order(goqu.I("id").Asc()).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build snapshot query", err)
	}
	return a.scanPayloads(ctx, q, tableSnapshots, query, args, decodeInto(target))
}

func (a *CostingDocumentAdapter) loadPartition(ctx context.Context, q querier, table string, decode func(string, []byte) error) error {
	query, args, err := a.db.From(table).Select("snapshot_id", "payload").Order(goqu.I("snapshot_id").Asc()).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build partition query", err)
	}
	return a.scanPayloads(ctx, q, table, query, args, decode)
}

func (a *CostingDocumentAdapter) loadJobs(ctx context.Context, q querier) ([]entities.RecalculationJob, error) {
	query, args, err := a.db.From(tableJobs).
		Select("job_id", "payload").
		Order(goqu.I("queued_at").Asc(), goqu.I("job_id").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build job query", err)
	}

	jobs := []entities.RecalculationJob{}
	err = a.scanPayloads(ctx, q, tableJobs, query, args, func(_ string, payload []byte) error {
		var job entities.RecalculationJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return err
		}
		jobs = append(jobs, job)
		return nil
	})
	return jobs, err
}

func (a *CostingDocumentAdapter) scanPayloads(ctx context.Context, q querier, table, query string, args []interface{}, decode func(string, []byte) error) error {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError(fmt.Sprintf("failed to query %s", table), err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			key     string
			payload []byte
		)
		if err := rows.Scan(&key, &payload); err != nil {
			return apperrors.NewInternalError(fmt.Sprintf("failed to scan %s", table), err)
		}
		if err := decode(key, payload); err != nil {
			a.logger.Error().Err(err).Str("table", table).Str("key", key).Msg("undecodable costing row")
			return apperrors.NewPersistenceCorruptedError(fmt.Sprintf("failed to decode %s row %s", table, key), err)
		}
	}
	if err := rows.Err(); err != nil {
		return apperrors.NewInternalError(fmt.Sprintf("failed to iterate %s", table), err)
	}
	return nil
}

func (a *CostingDocumentAdapter) advanceRevision(ctx context.Context, tx *sql.Tx, doc *entities.Document) error {
	previous := doc.Metadata.Revision
	now := a.now()
	doc.Metadata.Revision = previous + 1
	doc.Metadata.UpdatedAt = &now

	query, args, err := a.db.Update(tableMetadata).
		Set(goqu.Record{
			"revision":   doc.Metadata.Revision,
			"version":    doc.Metadata.Version,
			"updated_at": now,
		}).
		Where(goqu.Ex{"id": metadataRowID, "revision": previous}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build revision update", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to advance revision", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to read revision update result", err)
	}
	if affected == 0 {
		return errRevisionMoved
	}
	return nil
}

func (a *CostingDocumentAdapter) writeChanges(ctx context.Context, tx *sql.Tx, doc *entities.Document, before, after map[partition][]byte) error {
	var removed, changed []partition
	for p := range before {
		if _, ok := after[p]; !ok {
			removed = append(removed, p)
		}
	}
	for p, payload := range after {
		if prev, ok := before[p]; !ok || !bytes.Equal(prev, payload) {
			changed = append(changed, p)
		}
	}
	sortPartitions(removed)
	sortPartitions(changed)

	for _, p := range removed {
		if err := a.deletePartition(ctx, tx, p); err != nil {
			return err
		}
	}
	for _, p := range changed {
		if err := a.upsertPartition(ctx, tx, doc, p, after[p]); err != nil {
			return err
		}
	}
	return nil
}

func (a *CostingDocumentAdapter) deletePartition(ctx context.Context, tx *sql.Tx, p partition) error {
	query, args, err := a.db.Delete(p.table).Where(goqu.Ex{keyColumn(p.table): p.key}).Prepared(true).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build delete", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError(fmt.Sprintf("failed to delete %s row %s", p.table, p.key), err)
	}
	return nil
}

func (a *CostingDocumentAdapter) upsertPartition(ctx context.Context, tx *sql.Tx, doc *entities.Document, p partition, payload []byte) error {
	record := goqu.Record{keyColumn(p.table): p.key, "payload": string(payload)}
	update := goqu.Record{"payload": goqu.L("EXCLUDED.payload")}

	switch p.table {
	case tableSnapshots:
		record["month"] = doc.Snapshots[p.key].Month
		update["month"] = goqu.L("EXCLUDED.month")
	case tableJobs:
		for _, job := range doc.Jobs {
			if job.JobID == p.key {
				record["snapshot_id"] = job.SnapshotID
				record["queued_at"] = job.QueuedAt
				break
			}
		}
	}

	query, args, err := a.db.Insert(p.table).
		Rows(record).
		OnConflict(goqu.DoUpdate(keyColumn(p.table), update)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build upsert", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return &apperrors.AppError{
				Type:    apperrors.ErrorTypeConflict,
				Message: fmt.Sprintf("%s row %s violates a unique constraint", p.table, p.key),
				Err:     err,
			}
		}
		return apperrors.NewInternalError(fmt.Sprintf("failed to upsert %s row %s", p.table, p.key), err)
	}
	return nil
}

func keyColumn(table string) string {
	switch table {
	case tableSnapshots:
		return "id"
	case tableJobs:
		return "job_id"
	default:
		return "snapshot_id"
	}
}

var tableOrder = map[string]int{
	tableSnapshots:           0,
	tableStaff:               1,
	tableConsumables:         2,
	tableProcedures:          3,
	tableFixedCostSelections: 4,
	tableResults:             5,
	tableJobs:                6,
}

func sortPartitions(ps []partition) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].table != ps[j].table {
			return tableOrder[ps[i].table] < tableOrder[ps[j].table]
		}
		return ps[i].key < ps[j].key
	})
}

// encodePartitions renders every row the document maps to
func encodePartitions(doc *entities.Document) (map[partition][]byte, error) {
	out := make(map[partition][]byte)
	add := func(table, key string, v interface{}) error {
		data, err := json.Marshal(v)
		if err != nil {
			return apperrors.NewInternalError(fmt.Sprintf("failed to encode %s row %s", table, key), err)
		}
		out[partition{table: table, key: key}] = data
		return nil
	}

	for id, s := range doc.Snapshots {
		if err := add(tableSnapshots, id, s); err != nil {
			return nil, err
		}
	}
	for id, rows := range doc.Staff {
		if err := add(tableStaff, id, rows); err != nil {
			return nil, err
		}
	}
	for id, rows := range doc.Consumables {
		if err := add(tableConsumables, id, rows); err != nil {
			return nil, err
		}
	}
	for id, rows := range doc.Procedures {
		if err := add(tableProcedures, id, rows); err != nil {
			return nil, err
		}
	}
	for id, rows := range doc.FixedCostSelections {
		if err := add(tableFixedCostSelections, id, rows); err != nil {
			return nil, err
		}
	}
	for id, rs := range doc.Results {
		if err := add(tableResults, id, rs); err != nil {
			return nil, err
		}
	}
	for _, job := range doc.Jobs {
		if err := add(tableJobs, job.JobID, job); err != nil {
			return nil, err
		}
	}
	return out, nil
}
