package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/savegress/bankrecon/pkg/models"
)

// Links lists the persisted links for an account/period ordered by id.
func (s *Store) Links(ctx context.Context, accountID int64, period models.Period) ([]*models.MatchLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, year, month, extract_movement_id, system_movement_id, score, state, batch_id, created_at, confirmed_at
		FROM match_links
		WHERE account_id = ? AND year = ? AND month = ?
		ORDER BY id`,
		accountID, period.Year, period.Month)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	var out []*models.MatchLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLink(row rowScanner) (*models.MatchLink, error) {
	var l models.MatchLink
	var state, created string
	var confirmed sql.NullString
	err := row.Scan(&l.ID, &l.AccountID, &l.Period.Year, &l.Period.Month,
		&l.ExtractMovementID, &l.SystemMovementID, &l.Score, &state, &l.BatchID, &created, &confirmed)
	if err != nil {
		return nil, err
	}
	l.State = models.LinkState(state)
	if l.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if l.ConfirmedAt, err = parseNullTime(confirmed); err != nil {
		return nil, err
	}
	return &l, nil
}

// InsertLink persists one link. A violation of either uniqueness index is
// surfaced as ErrDuplicateLink so the caller invokes the conflict resolver
// instead of retrying blindly.
func (s *Store) InsertLink(ctx context.Context, l *models.MatchLink) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, insertLinkSQL,
		l.AccountID, l.Period.Year, l.Period.Month, l.ExtractMovementID, l.SystemMovementID,
		l.Score, string(l.State), l.BatchID, timeText(l.CreatedAt), nullTimeText(l.ConfirmedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: extract %d / system %d", ErrDuplicateLink, l.ExtractMovementID, l.SystemMovementID)
	}
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	l.ID, err = res.LastInsertId()
	return err
}

const insertLinkSQL = `
	INSERT INTO match_links
		(account_id, year, month, extract_movement_id, system_movement_id, score, state, batch_id, created_at, confirmed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// DeleteLinks removes the given links and reports how many rows went away.
// Missing ids are tolerated as no-ops so concurrent repair runs do not fail.
func (s *Store) DeleteLinks(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM match_links WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete links: %w", err)
	}
	return res.RowsAffected()
}

// ConfirmLink stamps a link as manually confirmed.
func (s *Store) ConfirmLink(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE match_links SET confirmed_at = ? WHERE id = ? AND confirmed_at IS NULL`,
		timeText(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("confirm link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyMatchBatch commits a matching run's side-effects in one transaction:
// the optional rebuild delete, materialized system movements, and the new
// links. A crash mid-batch leaves either the previous link set or the fully
// updated one.
func (s *Store) ApplyMatchBatch(ctx context.Context, batch *models.MatchBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin match batch: %w", err)
	}
	defer tx.Rollback()

	if batch.Rebuild {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM match_links
			WHERE account_id = ? AND year = ? AND month = ? AND confirmed_at IS NULL`,
			batch.AccountID, batch.Period.Year, batch.Period.Month); err != nil {
			return fmt.Errorf("rebuild delete: %w", err)
		}
	}

	now := time.Now().UTC()
	for _, mat := range batch.Materialized {
		m := mat.Movement
		m.CreatedAt = now
		res, err := tx.ExecContext(ctx, `
			INSERT INTO system_movements
				(account_id, date, amount, description, reference, third_party_id, cost_center_id, concept_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.AccountID, dateText(m.Date), decText(m.Amount), m.Description, m.Reference,
			nullInt(m.ThirdPartyID), nullInt(m.CostCenterID), nullInt(m.ConceptID), timeText(now))
		if err != nil {
			return fmt.Errorf("materialize movement: %w", err)
		}
		if m.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		batch.Links = append(batch.Links, &models.MatchLink{
			AccountID:         batch.AccountID,
			Period:            batch.Period,
			ExtractMovementID: mat.ExtractMovementID,
			SystemMovementID:  m.ID,
			Score:             mat.Score,
			State:             mat.State,
			CreatedAt:         now,
		})
	}

	stmt, err := tx.PrepareContext(ctx, insertLinkSQL)
	if err != nil {
		return fmt.Errorf("prepare link insert: %w", err)
	}
	defer stmt.Close()

	for _, l := range batch.Links {
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		l.BatchID = batch.BatchID
		res, err := stmt.ExecContext(ctx,
			l.AccountID, l.Period.Year, l.Period.Month, l.ExtractMovementID, l.SystemMovementID,
			l.Score, string(l.State), l.BatchID, timeText(l.CreatedAt), nullTimeText(l.ConfirmedAt))
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: extract %d / system %d", ErrDuplicateLink, l.ExtractMovementID, l.SystemMovementID)
		}
		if err != nil {
			return fmt.Errorf("insert batch link: %w", err)
		}
		if l.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}

	return tx.Commit()
}
