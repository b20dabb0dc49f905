// Package ingest reads normalized extract movements from CSV. It is the
// narrow ingestion contract: rows arrive already parsed out of whatever the
// bank delivered, and rows missing a date or amount are rejected here so
// the matching core never sees them.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/savegress/bankrecon/pkg/models"
)

// Required CSV columns. amount_usd and exchange_rate are optional.
var requiredColumns = []string{"date", "description", "amount"}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2006/01/02"}

// RowError reports an invalid CSV row with its line number.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// ReadExtract parses extract movements for one account/period. Any invalid
// row aborts the read: a statement loads whole or not at all.
func ReadExtract(r io.Reader, accountID int64, period models.Period) ([]*models.ExtractMovement, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	headers, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := toIndex(headers)
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column: %s", name)
		}
	}

	var out []*models.ExtractMovement
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, &RowError{Line: line, Err: err}
		}

		m, err := parseRow(rec, col, accountID, period, line)
		if err != nil {
			return nil, &RowError{Line: line, Err: err}
		}
		out = append(out, m)
	}
	return out, nil
}

func parseRow(rec []string, col map[string]int, accountID int64, period models.Period, line int) (*models.ExtractMovement, error) {
	get := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	dateStr := get("date")
	if dateStr == "" {
		return nil, fmt.Errorf("missing date")
	}
	date, err := parseDateFlexible(dateStr)
	if err != nil {
		return nil, fmt.Errorf("date %q: %w", dateStr, err)
	}

	amountStr := get("amount")
	if amountStr == "" {
		return nil, fmt.Errorf("missing amount")
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", amountStr, err)
	}

	m := &models.ExtractMovement{
		AccountID:   accountID,
		Period:      period,
		Date:        date,
		Description: get("description"),
		Reference:   get("reference"),
		Amount:      amount,
		LineNumber:  line,
	}

	if v := get("amount_usd"); v != "" {
		usd, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("amount_usd %q: %w", v, err)
		}
		m.AmountUSD = &usd
	}
	if v := get("exchange_rate"); v != "" {
		rate, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("exchange_rate %q: %w", v, err)
		}
		m.ExchangeRate = &rate
	}
	if v := get("line_number"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("line_number %q: %w", v, err)
		}
		m.LineNumber = n
	}
	return m, nil
}

func parseDateFlexible(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format")
}

func toIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}
