package pm

import (
	"context"
	"time"

	"facilitypm/internal/db"
	"facilitypm/internal/types"
)

// TemplateStore persists maintenance templates.
type TemplateStore interface {
	Upsert(ctx context.Context, t *types.MaintenanceTemplate) error
	GetByID(ctx context.Context, id string) (*types.MaintenanceTemplate, error)
	Update(ctx context.Context, t *types.MaintenanceTemplate) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, siteIDs []string, siteID string) ([]types.MaintenanceTemplate, error)
}

// OccurrenceStore persists maintenance occurrences.
type OccurrenceStore interface {
	InsertPending(ctx context.Context, templateID string, dates []time.Time) (int64, error)
	DeleteFuturePending(ctx context.Context, templateID string, from time.Time) (int64, error)
	GetByID(ctx context.Context, id string) (*types.MaintenanceOccurrence, error)
	Lock(ctx context.Context, id string) (*types.MaintenanceOccurrence, error)
	ListByTemplate(ctx context.Context, templateID string) ([]types.MaintenanceOccurrence, error)
	Transition(ctx context.Context, id string, from, to types.OccurrenceStatus) (bool, error)
	MarkGenerated(ctx context.Context, id, workOrderID string) (bool, error)
	CompleteByWorkOrder(ctx context.Context, workOrderID string) (string, error)
	Calendar(ctx context.Context, f db.CalendarFilter) ([]types.CalendarEntry, error)
}

// WorkOrderCreator creates the work order for an occurrence. Implementations
// must be idempotent on draft.SourceOccurrenceID: a repeated call returns the
// order created the first time.
type WorkOrderCreator interface {
	CreateForOccurrence(ctx context.Context, draft types.WorkOrderDraft) (id string, created bool, err error)
}

// AuditSink records mutations.
type AuditSink interface {
	Log(ctx context.Context, e types.AuditEvent) error
}

// Tx is the set of stores available inside a unit of work.
type Tx interface {
	Occurrences() OccurrenceStore
	WorkOrders() WorkOrderCreator
}

// TxRunner runs fn as one unit of work. fn's writes are committed only when
// it returns nil.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// PgTxRunner runs units of work in a PostgreSQL transaction, with
// occurrences and work orders in the same database.
type PgTxRunner struct {
	pool db.TxBeginner
}

// NewPgTxRunner creates a PgTxRunner.
func NewPgTxRunner(pool db.TxBeginner) *PgTxRunner {
	return &PgTxRunner{pool: pool}
}

type pgTx struct {
	occurrences *db.OccurrenceRepository
	workOrders  *db.WorkOrderRepository
}

func (t pgTx) Occurrences() OccurrenceStore { return t.occurrences }
func (t pgTx) WorkOrders() WorkOrderCreator { return t.workOrders }

// RunInTx implements TxRunner.
func (r *PgTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(ctx, pgTx{
		occurrences: db.NewOccurrenceRepository(tx),
		workOrders:  db.NewWorkOrderRepository(tx),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit transaction", err)
	}
	return nil
}

// DirectRunner runs units of work without a shared transaction. It is used
// when work orders live in a remote service; the occurrence-keyed
// idempotency of WorkOrderCreator covers a crash between the two writes.
type DirectRunner struct {
	occurrences OccurrenceStore
	workOrders  WorkOrderCreator
}

// NewDirectRunner creates a DirectRunner.
func NewDirectRunner(occurrences OccurrenceStore, workOrders WorkOrderCreator) *DirectRunner {
	return &DirectRunner{occurrences: occurrences, workOrders: workOrders}
}

func (r *DirectRunner) Occurrences() OccurrenceStore { return r.occurrences }
func (r *DirectRunner) WorkOrders() WorkOrderCreator { return r.workOrders }

// RunInTx implements TxRunner.
func (r *DirectRunner) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return fn(ctx, r)
}
