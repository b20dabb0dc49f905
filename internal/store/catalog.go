package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/savegress/bankrecon/pkg/models"
)

// ActiveMatchConfig returns the single active config. Its absence is a
// fatal precondition for matching, reported as ErrNoActiveConfig.
func (s *Store) ActiveMatchConfig(ctx context.Context) (*models.MatchConfig, error) {
	row := s.db.QueryRowContext(ctx, selectConfigSQL+` WHERE active = 1 ORDER BY id LIMIT 1`)
	cfg, err := scanMatchConfig(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoActiveConfig
	}
	return cfg, err
}

// MatchConfigs lists every config ordered by id.
func (s *Store) MatchConfigs(ctx context.Context) ([]*models.MatchConfig, error) {
	rows, err := s.db.QueryContext(ctx, selectConfigSQL+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query configs: %w", err)
	}
	defer rows.Close()

	var out []*models.MatchConfig
	for rows.Next() {
		cfg, err := scanMatchConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

const selectConfigSQL = `
	SELECT id, name, date_weight, value_weight, description_weight, value_tolerance,
	       min_description_similarity, exact_threshold, probable_threshold, active, created_at
	FROM match_configs`

func scanMatchConfig(row rowScanner) (*models.MatchConfig, error) {
	var cfg models.MatchConfig
	var tolerance, created string
	var active int
	err := row.Scan(&cfg.ID, &cfg.Name, &cfg.DateWeight, &cfg.ValueWeight, &cfg.DescriptionWeight,
		&tolerance, &cfg.MinDescriptionSimilarity, &cfg.ExactThreshold, &cfg.ProbableThreshold,
		&active, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if cfg.ValueTolerance, err = parseDec(tolerance); err != nil {
		return nil, err
	}
	cfg.Active = active != 0
	if cfg.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CreateMatchConfig validates and inserts a config. The row is always
// created inactive regardless of the Active field; ActivateMatchConfig is
// the only write path to the active flag, and it keeps the flag exclusive.
func (s *Store) CreateMatchConfig(ctx context.Context, cfg *models.MatchConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.Active = false
	cfg.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO match_configs
			(name, date_weight, value_weight, description_weight, value_tolerance,
			 min_description_similarity, exact_threshold, probable_threshold, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.Name, cfg.DateWeight, cfg.ValueWeight, cfg.DescriptionWeight, decText(cfg.ValueTolerance),
		cfg.MinDescriptionSimilarity, cfg.ExactThreshold, cfg.ProbableThreshold, boolInt(cfg.Active), timeText(cfg.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert config: %w", err)
	}
	cfg.ID, err = res.LastInsertId()
	return err
}

// ActivateMatchConfig makes the given config the single active one.
func (s *Store) ActivateMatchConfig(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activate: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE match_configs SET active = 0 WHERE active = 1`); err != nil {
		return fmt.Errorf("deactivate configs: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE match_configs SET active = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("activate config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// CreateRule validates the match type and inserts a classification rule.
func (s *Store) CreateRule(ctx context.Context, r *models.ClassificationRule) error {
	if !r.MatchType.Valid() {
		return fmt.Errorf("invalid rule match type %q", r.MatchType)
	}
	if r.Pattern == "" {
		return fmt.Errorf("rule pattern must not be empty")
	}
	r.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO classification_rules
			(account_id, pattern, match_type, third_party_id, cost_center_id, concept_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullInt(r.AccountID), r.Pattern, string(r.MatchType),
		nullInt(r.ThirdPartyID), nullInt(r.CostCenterID), nullInt(r.ConceptID), timeText(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	r.ID, err = res.LastInsertId()
	return err
}

// Rules lists classification rules, optionally filtered to one account's
// scope (account rules plus global rules).
func (s *Store) Rules(ctx context.Context, accountID *int64) ([]*models.ClassificationRule, error) {
	query := `
		SELECT id, account_id, pattern, match_type, third_party_id, cost_center_id, concept_id, created_at
		FROM classification_rules`
	var args []interface{}
	if accountID != nil {
		query += ` WHERE account_id IS NULL OR account_id = ?`
		args = append(args, *accountID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []*models.ClassificationRule
	for rows.Next() {
		var r models.ClassificationRule
		var acc, tp, cc, co sql.NullInt64
		var matchType, created string
		if err := rows.Scan(&r.ID, &acc, &r.Pattern, &matchType, &tp, &cc, &co, &created); err != nil {
			return nil, err
		}
		r.AccountID = fromNullInt(acc)
		r.MatchType = models.RuleMatchType(matchType)
		r.ThirdPartyID = fromNullInt(tp)
		r.CostCenterID = fromNullInt(cc)
		r.ConceptID = fromNullInt(co)
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// DeleteRule removes a classification rule.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "classification_rules", id)
}

// CreateAlias inserts a description alias.
func (s *Store) CreateAlias(ctx context.Context, a *models.Alias) error {
	if a.Pattern == "" {
		return fmt.Errorf("alias pattern must not be empty")
	}
	a.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO aliases (account_id, pattern, replacement, created_at) VALUES (?, ?, ?, ?)`,
		nullInt(a.AccountID), a.Pattern, a.Replacement, timeText(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert alias: %w", err)
	}
	a.ID, err = res.LastInsertId()
	return err
}

// Aliases lists aliases, optionally filtered to one account's scope.
func (s *Store) Aliases(ctx context.Context, accountID *int64) ([]*models.Alias, error) {
	query := `SELECT id, account_id, pattern, replacement, created_at FROM aliases`
	var args []interface{}
	if accountID != nil {
		query += ` WHERE account_id IS NULL OR account_id = ?`
		args = append(args, *accountID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query aliases: %w", err)
	}
	defer rows.Close()

	var out []*models.Alias
	for rows.Next() {
		var a models.Alias
		var acc sql.NullInt64
		var created string
		if err := rows.Scan(&a.ID, &acc, &a.Pattern, &a.Replacement, &created); err != nil {
			return nil, err
		}
		a.AccountID = fromNullInt(acc)
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// DeleteAlias removes an alias.
func (s *Store) DeleteAlias(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "aliases", id)
}

func (s *Store) deleteByID(ctx context.Context, table string, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
