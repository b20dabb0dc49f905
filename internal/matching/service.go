package matching

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/savegress/bankrecon/internal/classify"
	"github.com/savegress/bankrecon/internal/reconciliation"
	"github.com/savegress/bankrecon/internal/store"
	"github.com/savegress/bankrecon/pkg/models"
)

// Store is the persistence surface the service depends on. The concrete
// implementation lives in internal/store.
type Store interface {
	ActiveMatchConfig(ctx context.Context) (*models.MatchConfig, error)
	ExtractMovements(ctx context.Context, accountID int64, period models.Period) ([]*models.ExtractMovement, error)
	SystemMovementsInRange(ctx context.Context, accountID int64, from, to time.Time) ([]*models.SystemMovement, error)
	Links(ctx context.Context, accountID int64, period models.Period) ([]*models.MatchLink, error)
	ApplyMatchBatch(ctx context.Context, batch *models.MatchBatch) error
	DeleteLinks(ctx context.Context, ids []int64) (int64, error)
	Rules(ctx context.Context, accountID *int64) ([]*models.ClassificationRule, error)
	Aliases(ctx context.Context, accountID *int64) ([]*models.Alias, error)
	Reconciliation(ctx context.Context, accountID int64, period models.Period) (*models.Reconciliation, error)
	Reconciliations(ctx context.Context) ([]*models.Reconciliation, error)
	SaveReconciliation(ctx context.Context, rec *models.Reconciliation) error
	SetReconciliationStatus(ctx context.Context, accountID int64, period models.Period, status models.ReconciliationStatus) error
}

// ErrNotBalanced rejects confirmation of an aggregate whose difference is
// still outside tolerance.
var ErrNotBalanced = errors.New("reconciliation difference outside tolerance")

// Options tune batch behaviour.
type Options struct {
	// GraceDays extends the system-movement date range past both period
	// edges to catch cross-month postings.
	GraceDays int
	// Materialize creates classified ledger movements for extract
	// movements left unmatched after the engine runs.
	Materialize bool
}

// Service runs matching batches per account/period. Batches for the same
// key are serialized with a per-key mutex; different keys run concurrently
// with no shared mutable state.
type Service struct {
	store Store
	agg   *reconciliation.Aggregator
	opts  Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a batch service.
func NewService(store Store, opts Options) *Service {
	if opts.GraceDays <= 0 {
		opts.GraceDays = dateWindowDays
	}
	return &Service{
		store: store,
		agg:   reconciliation.NewAggregator(),
		opts:  opts,
		locks: make(map[string]*sync.Mutex),
	}
}

// lock serializes work on one account/period. Mutexes live for the lifetime
// of the service: one small entry per account/period ever touched, bounded
// by accounts times statement months.
func (s *Service) lock(accountID int64, period models.Period) func() {
	key := fmt.Sprintf("%d/%s", accountID, period)
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// RunResult summarizes one matching batch.
type RunResult struct {
	BatchID          string        `json:"batch_id"`
	AccountID        int64         `json:"account_id"`
	Period           models.Period `json:"period"`
	Exact            int           `json:"exact"`
	Probable         int           `json:"probable"`
	Materialized     int           `json:"materialized"`
	UnmatchedExtract int           `json:"unmatched_extract"`
	UnmatchedSystem  int           `json:"unmatched_system"`
	AlreadyLinked    int           `json:"already_linked"`
}

// RunMatching executes one batch for the account/period: scores candidate
// pairs between unlinked movements, links the winners, optionally
// materializes leftover extract movements into classified ledger entries,
// and commits everything atomically. With rebuild, unconfirmed links are
// replaced instead of extended.
func (s *Service) RunMatching(ctx context.Context, accountID int64, period models.Period, rebuild bool) (*RunResult, error) {
	unlock := s.lock(accountID, period)
	defer unlock()

	cfg, err := s.store.ActiveMatchConfig(ctx)
	if err != nil {
		return nil, err
	}
	engine, err := NewEngine(cfg)
	if err != nil {
		return nil, err
	}

	extracts, err := s.store.ExtractMovements(ctx, accountID, period)
	if err != nil {
		return nil, err
	}
	from, to := period.Range(s.opts.GraceDays)
	systems, err := s.store.SystemMovementsInRange(ctx, accountID, from, to)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.Links(ctx, accountID, period)
	if err != nil {
		return nil, err
	}

	// With rebuild only confirmed links survive; everything else returns to
	// the candidate pool and the batch transaction deletes the stale rows.
	kept := existing
	if rebuild {
		kept = nil
		for _, l := range existing {
			if l.Confirmed() {
				kept = append(kept, l)
			}
		}
	}
	freeExtracts, freeSystems := Unmatched(extracts, systems, kept)

	classifier, err := s.classifier(ctx, accountID)
	if err != nil {
		return nil, err
	}

	// Scoring compares alias-normalized descriptions, so movements that
	// agree only after alias substitution still pair up. The engine runs on
	// copies; the stored descriptions stay as loaded.
	scoredExtracts := make([]*models.ExtractMovement, len(freeExtracts))
	for i, m := range freeExtracts {
		c := *m
		c.Description = classifier.Normalize(accountID, m.Description)
		scoredExtracts[i] = &c
	}
	scoredSystems := make([]*models.SystemMovement, len(freeSystems))
	for i, m := range freeSystems {
		c := *m
		c.Description = classifier.Normalize(accountID, m.Description)
		scoredSystems[i] = &c
	}

	links := engine.Run(scoredExtracts, scoredSystems)

	batch := &models.MatchBatch{
		BatchID:   uuid.New().String(),
		AccountID: accountID,
		Period:    period,
		Rebuild:   rebuild,
		Links:     links,
	}

	result := &RunResult{
		BatchID:       batch.BatchID,
		AccountID:     accountID,
		Period:        period,
		AlreadyLinked: len(kept),
	}
	for _, l := range links {
		if l.State == models.LinkStateExact {
			result.Exact++
		} else {
			result.Probable++
		}
	}

	leftExtracts, leftSystems := Unmatched(freeExtracts, freeSystems, links)
	result.UnmatchedSystem = len(leftSystems)

	if s.opts.Materialize {
		for _, ext := range leftExtracts {
			movement := &models.SystemMovement{
				AccountID:   accountID,
				Date:        ext.Date,
				Amount:      ext.Amount,
				Description: ext.Description,
				Reference:   ext.Reference,
			}
			cls := classifier.Classify(movement)
			movement.ThirdPartyID = cls.ThirdPartyID
			movement.CostCenterID = cls.CostCenterID
			movement.ConceptID = cls.ConceptID

			batch.Materialized = append(batch.Materialized, &models.MaterializedLink{
				Movement:          movement,
				ExtractMovementID: ext.ID,
				Score:             1.0,
				State:             models.LinkStateExact,
			})
		}
		result.Materialized = len(batch.Materialized)
	} else {
		result.UnmatchedExtract = len(leftExtracts)
	}

	if err := s.store.ApplyMatchBatch(ctx, batch); err != nil {
		return nil, err
	}

	if _, err := s.recalculate(ctx, accountID, period); err != nil {
		return nil, err
	}

	log.Printf("matching %d/%s: batch %s exact=%d probable=%d materialized=%d unmatched=%d/%d",
		accountID, period, batch.BatchID, result.Exact, result.Probable,
		result.Materialized, result.UnmatchedExtract, result.UnmatchedSystem)
	return result, nil
}

func (s *Service) classifier(ctx context.Context, accountID int64) (*classify.Classifier, error) {
	rules, err := s.store.Rules(ctx, &accountID)
	if err != nil {
		return nil, err
	}
	aliases, err := s.store.Aliases(ctx, &accountID)
	if err != nil {
		return nil, err
	}
	return classify.NewClassifier(rules, aliases), nil
}

// Classify evaluates the current catalog against a movement without
// persisting anything.
func (s *Service) Classify(ctx context.Context, movement *models.SystemMovement) (models.Classification, string, error) {
	classifier, err := s.classifier(ctx, movement.AccountID)
	if err != nil {
		return models.Classification{}, "", err
	}
	normalized := classifier.Normalize(movement.AccountID, movement.Description)
	return classifier.Classify(movement), normalized, nil
}

// DetectDuplicates reports the persisted links violating the one-to-one
// invariant for the account/period.
func (s *Service) DetectDuplicates(ctx context.Context, accountID int64, period models.Period) ([]DuplicateGroup, error) {
	links, err := s.store.Links(ctx, accountID, period)
	if err != nil {
		return nil, err
	}
	return DetectDuplicates(links), nil
}

// InvalidateDuplicates repairs invariant violations, keeping the best link
// per group and deleting the rest. Idempotent: a second run removes zero
// rows. Links already gone (a concurrent repair) are tolerated as no-ops.
func (s *Service) InvalidateDuplicates(ctx context.Context, accountID int64, period models.Period) (int64, error) {
	unlock := s.lock(accountID, period)
	defer unlock()

	links, err := s.store.Links(ctx, accountID, period)
	if err != nil {
		return 0, err
	}
	drop := ResolveDuplicates(links)
	if len(drop) == 0 {
		return 0, nil
	}
	ids := make([]int64, len(drop))
	for i, l := range drop {
		ids[i] = l.ID
	}
	removed, err := s.store.DeleteLinks(ctx, ids)
	if err != nil {
		return 0, err
	}
	log.Printf("duplicates %d/%s: removed %d link(s)", accountID, period, removed)
	return removed, nil
}

// RecalculateReconciliation recomputes the system side of the aggregate.
func (s *Service) RecalculateReconciliation(ctx context.Context, accountID int64, period models.Period) (*models.Reconciliation, error) {
	unlock := s.lock(accountID, period)
	defer unlock()
	return s.recalculate(ctx, accountID, period)
}

// recalculate assumes the caller holds the account/period lock.
func (s *Service) recalculate(ctx context.Context, accountID int64, period models.Period) (*models.Reconciliation, error) {
	rec, err := s.store.Reconciliation(ctx, accountID, period)
	if err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		rec = &models.Reconciliation{
			AccountID: accountID,
			Period:    period,
			Status:    models.ReconciliationPending,
		}
	}

	// Aggregation covers the calendar period only; the matching grace
	// window does not widen the balance sums.
	movements, err := s.store.SystemMovementsInRange(ctx, accountID, period.Start(), period.End().AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}
	s.agg.RecalculateSystem(rec, movements)
	if err := s.store.SaveReconciliation(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ExtractTotals carries the user-entered extract side of the aggregate.
type ExtractTotals struct {
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Inflows        decimal.Decimal `json:"inflows"`
	Outflows       decimal.Decimal `json:"outflows"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
}

// SetExtractTotals stores the manually entered extract totals and
// recomputes the system side against them.
func (s *Service) SetExtractTotals(ctx context.Context, accountID int64, period models.Period, totals ExtractTotals) (*models.Reconciliation, error) {
	unlock := s.lock(accountID, period)
	defer unlock()

	rec, err := s.store.Reconciliation(ctx, accountID, period)
	if err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		rec = &models.Reconciliation{
			AccountID: accountID,
			Period:    period,
			Status:    models.ReconciliationPending,
		}
	}
	rec.ExtractOpeningBalance = totals.OpeningBalance
	rec.ExtractInflows = totals.Inflows
	rec.ExtractOutflows = totals.Outflows
	rec.ExtractClosingBalance = totals.ClosingBalance
	if err := s.store.SaveReconciliation(ctx, rec); err != nil {
		return nil, err
	}
	return s.recalculate(ctx, accountID, period)
}

// ConfirmReconciliation moves a balanced aggregate to CONCILIADO. This is
// the only path to the settled status.
func (s *Service) ConfirmReconciliation(ctx context.Context, accountID int64, period models.Period) (*models.Reconciliation, error) {
	unlock := s.lock(accountID, period)
	defer unlock()

	rec, err := s.recalculate(ctx, accountID, period)
	if err != nil {
		return nil, err
	}
	if !s.agg.ReconciliationOK(rec) {
		return nil, fmt.Errorf("%w: difference %s", ErrNotBalanced, rec.Difference)
	}
	if err := s.store.SetReconciliationStatus(ctx, accountID, period, models.ReconciliationSettled); err != nil {
		return nil, err
	}
	rec.Status = models.ReconciliationSettled
	return rec, nil
}

// Checks exposes the aggregator booleans for an aggregate.
func (s *Service) Checks(rec *models.Reconciliation) reconciliation.Checks {
	return s.agg.Evaluate(rec)
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
