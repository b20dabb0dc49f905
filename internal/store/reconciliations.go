package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/savegress/bankrecon/pkg/models"
)

// Reconciliation fetches the aggregate for an account/period.
func (s *Store) Reconciliation(ctx context.Context, accountID int64, period models.Period) (*models.Reconciliation, error) {
	row := s.db.QueryRowContext(ctx, selectReconciliationSQL+`
		WHERE account_id = ? AND year = ? AND month = ?`,
		accountID, period.Year, period.Month)
	return scanReconciliation(row)
}

// Reconciliations lists every aggregate ordered by account and period.
func (s *Store) Reconciliations(ctx context.Context) ([]*models.Reconciliation, error) {
	rows, err := s.db.QueryContext(ctx, selectReconciliationSQL+` ORDER BY account_id, year, month`)
	if err != nil {
		return nil, fmt.Errorf("query reconciliations: %w", err)
	}
	defer rows.Close()

	var out []*models.Reconciliation
	for rows.Next() {
		rec, err := scanReconciliation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const selectReconciliationSQL = `
	SELECT id, account_id, year, month,
	       extract_opening, extract_inflows, extract_outflows, extract_closing,
	       system_inflows, system_outflows, system_closing, difference, status, updated_at
	FROM reconciliations`

func scanReconciliation(row rowScanner) (*models.Reconciliation, error) {
	var rec models.Reconciliation
	var eo, ei, eout, ec, si, so, sc, diff, status, updated string
	err := row.Scan(&rec.ID, &rec.AccountID, &rec.Period.Year, &rec.Period.Month,
		&eo, &ei, &eout, &ec, &si, &so, &sc, &diff, &status, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&rec.ExtractOpeningBalance, eo}, {&rec.ExtractInflows, ei},
		{&rec.ExtractOutflows, eout}, {&rec.ExtractClosingBalance, ec},
		{&rec.SystemInflows, si}, {&rec.SystemOutflows, so},
		{&rec.SystemClosingBalance, sc}, {&rec.Difference, diff},
	}
	for _, f := range fields {
		if *f.dst, err = parseDec(f.src); err != nil {
			return nil, err
		}
	}
	rec.Status = models.ReconciliationStatus(status)
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveReconciliation upserts the aggregate keyed by account/period.
func (s *Store) SaveReconciliation(ctx context.Context, rec *models.Reconciliation) error {
	rec.UpdatedAt = time.Now().UTC()
	if rec.Status == "" {
		rec.Status = models.ReconciliationPending
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliations
			(account_id, year, month,
			 extract_opening, extract_inflows, extract_outflows, extract_closing,
			 system_inflows, system_outflows, system_closing, difference, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, year, month) DO UPDATE SET
			extract_opening = excluded.extract_opening,
			extract_inflows = excluded.extract_inflows,
			extract_outflows = excluded.extract_outflows,
			extract_closing = excluded.extract_closing,
			system_inflows = excluded.system_inflows,
			system_outflows = excluded.system_outflows,
			system_closing = excluded.system_closing,
			difference = excluded.difference,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		rec.AccountID, rec.Period.Year, rec.Period.Month,
		decText(rec.ExtractOpeningBalance), decText(rec.ExtractInflows),
		decText(rec.ExtractOutflows), decText(rec.ExtractClosingBalance),
		decText(rec.SystemInflows), decText(rec.SystemOutflows),
		decText(rec.SystemClosingBalance), decText(rec.Difference),
		string(rec.Status), timeText(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save reconciliation: %w", err)
	}
	if rec.ID == 0 {
		if id, err := res.LastInsertId(); err == nil && id != 0 {
			rec.ID = id
		}
	}
	return nil
}

// SetReconciliationStatus updates the status alone. Used by the explicit
// confirmation action that moves an aggregate to CONCILIADO.
func (s *Store) SetReconciliationStatus(ctx context.Context, accountID int64, period models.Period, status models.ReconciliationStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reconciliations SET status = ?, updated_at = ?
		WHERE account_id = ? AND year = ? AND month = ?`,
		string(status), timeText(time.Now().UTC()), accountID, period.Year, period.Month)
	if err != nil {
		return fmt.Errorf("set reconciliation status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
