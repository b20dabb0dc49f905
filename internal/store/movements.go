package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/savegress/bankrecon/pkg/models"
)

// ReplaceExtract replaces a period's extract movements wholesale, in one
// transaction. Links referencing the old rows are removed too: a reloaded
// extract invalidates previous matches.
func (s *Store) ReplaceExtract(ctx context.Context, accountID int64, period models.Period, movements []*models.ExtractMovement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace extract: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM match_links WHERE account_id = ? AND year = ? AND month = ?`,
		accountID, period.Year, period.Month); err != nil {
		return fmt.Errorf("clear links: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM extract_movements WHERE account_id = ? AND year = ? AND month = ?`,
		accountID, period.Year, period.Month); err != nil {
		return fmt.Errorf("clear extract: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO extract_movements
			(account_id, year, month, date, description, reference, amount, amount_usd, exchange_rate, line_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare extract insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, m := range movements {
		m.AccountID = accountID
		m.Period = period
		m.CreatedAt = now
		res, err := stmt.ExecContext(ctx,
			accountID, period.Year, period.Month,
			dateText(m.Date), m.Description, m.Reference, decText(m.Amount),
			nullDecText(m.AmountUSD), nullDecText(m.ExchangeRate), m.LineNumber, timeText(now))
		if err != nil {
			return fmt.Errorf("insert extract line %d: %w", m.LineNumber, err)
		}
		if m.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ExtractMovements lists a period's extract movements ordered by line.
func (s *Store) ExtractMovements(ctx context.Context, accountID int64, period models.Period) ([]*models.ExtractMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, year, month, date, description, reference, amount, amount_usd, exchange_rate, line_number, created_at
		FROM extract_movements
		WHERE account_id = ? AND year = ? AND month = ?
		ORDER BY line_number, id`,
		accountID, period.Year, period.Month)
	if err != nil {
		return nil, fmt.Errorf("query extract movements: %w", err)
	}
	defer rows.Close()

	var out []*models.ExtractMovement
	for rows.Next() {
		m, err := scanExtractMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanExtractMovement(row rowScanner) (*models.ExtractMovement, error) {
	var m models.ExtractMovement
	var date, amount, created string
	var usd, rate sql.NullString
	err := row.Scan(&m.ID, &m.AccountID, &m.Period.Year, &m.Period.Month,
		&date, &m.Description, &m.Reference, &amount, &usd, &rate, &m.LineNumber, &created)
	if err != nil {
		return nil, err
	}
	if m.Date, err = parseDate(date); err != nil {
		return nil, err
	}
	if m.Amount, err = parseDec(amount); err != nil {
		return nil, err
	}
	if m.AmountUSD, err = parseNullDec(usd); err != nil {
		return nil, err
	}
	if m.ExchangeRate, err = parseNullDec(rate); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateSystemMovement inserts a ledger movement and assigns its id.
func (s *Store) CreateSystemMovement(ctx context.Context, m *models.SystemMovement) error {
	m.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO system_movements
			(account_id, date, amount, description, reference, third_party_id, cost_center_id, concept_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.AccountID, dateText(m.Date), decText(m.Amount), m.Description, m.Reference,
		nullInt(m.ThirdPartyID), nullInt(m.CostCenterID), nullInt(m.ConceptID), timeText(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert system movement: %w", err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

// UpdateSystemMovementClassification sets the classification fields.
func (s *Store) UpdateSystemMovementClassification(ctx context.Context, id int64, c models.Classification) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE system_movements SET third_party_id = ?, cost_center_id = ?, concept_id = ? WHERE id = ?`,
		nullInt(c.ThirdPartyID), nullInt(c.CostCenterID), nullInt(c.ConceptID), id)
	if err != nil {
		return fmt.Errorf("update classification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SystemMovementsInRange lists ledger movements for an account in the
// inclusive date range.
func (s *Store) SystemMovementsInRange(ctx context.Context, accountID int64, from, to time.Time) ([]*models.SystemMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, date, amount, description, reference, third_party_id, cost_center_id, concept_id, created_at
		FROM system_movements
		WHERE account_id = ? AND date >= ? AND date <= ?
		ORDER BY date, id`,
		accountID, dateText(from), dateText(to))
	if err != nil {
		return nil, fmt.Errorf("query system movements: %w", err)
	}
	defer rows.Close()

	var out []*models.SystemMovement
	for rows.Next() {
		m, err := scanSystemMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanSystemMovement(row rowScanner) (*models.SystemMovement, error) {
	var m models.SystemMovement
	var date, amount, created string
	var tp, cc, co sql.NullInt64
	err := row.Scan(&m.ID, &m.AccountID, &date, &amount, &m.Description, &m.Reference, &tp, &cc, &co, &created)
	if err != nil {
		return nil, err
	}
	if m.Date, err = parseDate(date); err != nil {
		return nil, err
	}
	if m.Amount, err = parseDec(amount); err != nil {
		return nil, err
	}
	m.ThirdPartyID = fromNullInt(tp)
	m.CostCenterID = fromNullInt(cc)
	m.ConceptID = fromNullInt(co)
	if m.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &m, nil
}
