package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/savegress/bankrecon/pkg/models"
)

// CreateAccount inserts an account and assigns its id.
func (s *Store) CreateAccount(ctx context.Context, a *models.Account) error {
	if a.Currency == "" {
		a.Currency = "COP"
	}
	a.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (name, bank, number, currency, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.Name, a.Bank, a.Number, a.Currency, timeText(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	a.ID, err = res.LastInsertId()
	return err
}

// Account fetches one account by id.
func (s *Store) Account(ctx context.Context, id int64) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, bank, number, currency, created_at FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// Accounts lists all accounts ordered by id.
func (s *Store) Accounts(ctx context.Context) ([]*models.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, bank, number, currency, created_at FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	var created string
	err := row.Scan(&a.ID, &a.Name, &a.Bank, &a.Number, &a.Currency, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &a, nil
}
