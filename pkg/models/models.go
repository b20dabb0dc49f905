package models

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Period identifies one statement month for an account.
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// Valid reports whether the period is a real calendar month.
func (p Period) Valid() bool {
	return p.Year >= 1900 && p.Year <= 2200 && p.Month >= 1 && p.Month <= 12
}

// Start returns midnight on the first day of the period.
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// End returns midnight on the first day of the following period.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

// Range returns the inclusive date range used for matching, extended by
// grace days on both sides to catch cross-month postings.
func (p Period) Range(graceDays int) (from, to time.Time) {
	return p.Start().AddDate(0, 0, -graceDays), p.End().AddDate(0, 0, graceDays-1)
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Account represents a bank account under reconciliation.
type Account struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Bank      string    `json:"bank"`
	Number    string    `json:"number"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// ExtractMovement is one line of the bank-issued statement for a period.
// Rows are immutable once loaded; reloading a period replaces them wholesale.
type ExtractMovement struct {
	ID           int64            `json:"id"`
	AccountID    int64            `json:"account_id"`
	Period       Period           `json:"period"`
	Date         time.Time        `json:"date"`
	Description  string           `json:"description"`
	Reference    string           `json:"reference,omitempty"`
	Amount       decimal.Decimal  `json:"amount"`
	AmountUSD    *decimal.Decimal `json:"amount_usd,omitempty"`
	ExchangeRate *decimal.Decimal `json:"exchange_rate,omitempty"`
	LineNumber   int              `json:"line_number"`
	CreatedAt    time.Time        `json:"created_at"`
}

// SystemMovement is a transaction recorded in the internal ledger. It is
// created by a normal ledger entry or materialized from an unmatched extract
// movement during matching.
type SystemMovement struct {
	ID           int64           `json:"id"`
	AccountID    int64           `json:"account_id"`
	Date         time.Time       `json:"date"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	Reference    string          `json:"reference,omitempty"`
	ThirdPartyID *int64          `json:"third_party_id,omitempty"`
	CostCenterID *int64          `json:"cost_center_id,omitempty"`
	ConceptID    *int64          `json:"concept_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Classified reports whether any classification field is set.
func (m *SystemMovement) Classified() bool {
	return m.ThirdPartyID != nil || m.CostCenterID != nil || m.ConceptID != nil
}

// LinkState is the confidence tier of a match link.
type LinkState string

const (
	LinkStateExact    LinkState = "EXACT"
	LinkStateProbable LinkState = "PROBABLE"
)

// MatchLink pairs exactly one extract movement with exactly one system
// movement. The link set for an account/period is injective in both
// directions: no movement id appears in more than one link.
type MatchLink struct {
	ID                int64      `json:"id"`
	AccountID         int64      `json:"account_id"`
	Period            Period     `json:"period"`
	ExtractMovementID int64      `json:"extract_movement_id"`
	SystemMovementID  int64      `json:"system_movement_id"`
	Score             float64    `json:"score"`
	State             LinkState  `json:"state"`
	BatchID           string     `json:"batch_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ConfirmedAt       *time.Time `json:"confirmed_at,omitempty"`
}

// Confirmed reports whether the link was manually confirmed.
func (l *MatchLink) Confirmed() bool { return l.ConfirmedAt != nil }

// WeightTolerance is the allowed deviation of the weight sum from 1.0.
const WeightTolerance = 1e-6

// ErrInvalidWeights reports a config whose weights do not sum to 1.
var ErrInvalidWeights = fmt.Errorf("match config weights must sum to 1.0")

// MatchConfig holds the scoring weights and thresholds. Exactly one config
// is active at a time.
type MatchConfig struct {
	ID                       int64           `json:"id"`
	Name                     string          `json:"name"`
	DateWeight               float64         `json:"date_weight"`
	ValueWeight              float64         `json:"value_weight"`
	DescriptionWeight        float64         `json:"description_weight"`
	ValueTolerance           decimal.Decimal `json:"value_tolerance"`
	MinDescriptionSimilarity float64         `json:"min_description_similarity"`
	ExactThreshold           float64         `json:"exact_threshold"`
	ProbableThreshold        float64         `json:"probable_threshold"`
	Active                   bool            `json:"active"`
	CreatedAt                time.Time       `json:"created_at"`
}

// Validate checks the config invariants: weights sum to 1 within tolerance,
// thresholds ordered and inside [0,1], tolerance non-negative.
func (c *MatchConfig) Validate() error {
	sum := c.DateWeight + c.ValueWeight + c.DescriptionWeight
	if math.Abs(sum-1.0) > WeightTolerance {
		return fmt.Errorf("%w: got %g", ErrInvalidWeights, sum)
	}
	if c.DateWeight < 0 || c.ValueWeight < 0 || c.DescriptionWeight < 0 {
		return fmt.Errorf("%w: negative weight", ErrInvalidWeights)
	}
	if c.ValueTolerance.IsNegative() {
		return fmt.Errorf("invalid match config: negative value tolerance")
	}
	if c.MinDescriptionSimilarity < 0 || c.MinDescriptionSimilarity > 1 {
		return fmt.Errorf("invalid match config: min description similarity out of [0,1]")
	}
	if c.ExactThreshold < 0 || c.ExactThreshold > 1 || c.ProbableThreshold < 0 || c.ProbableThreshold > 1 {
		return fmt.Errorf("invalid match config: threshold out of [0,1]")
	}
	if c.ProbableThreshold > c.ExactThreshold {
		return fmt.Errorf("invalid match config: probable threshold %g above exact threshold %g",
			c.ProbableThreshold, c.ExactThreshold)
	}
	return nil
}

// RuleMatchType selects how a classification rule pattern is compared.
type RuleMatchType string

const (
	RuleMatchExact      RuleMatchType = "EXACT"
	RuleMatchContains   RuleMatchType = "CONTAINS"
	RuleMatchStartsWith RuleMatchType = "STARTS_WITH"
)

// Valid reports whether the match type is one of the closed set.
func (t RuleMatchType) Valid() bool {
	switch t {
	case RuleMatchExact, RuleMatchContains, RuleMatchStartsWith:
		return true
	}
	return false
}

// ClassificationRule assigns classification targets to movements whose
// normalized description matches the pattern. AccountID nil means global.
type ClassificationRule struct {
	ID           int64         `json:"id"`
	AccountID    *int64        `json:"account_id,omitempty"`
	Pattern      string        `json:"pattern"`
	MatchType    RuleMatchType `json:"match_type"`
	ThirdPartyID *int64        `json:"third_party_id,omitempty"`
	CostCenterID *int64        `json:"cost_center_id,omitempty"`
	ConceptID    *int64        `json:"concept_id,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Alias rewrites a raw description fragment before rule matching.
// AccountID nil means global.
type Alias struct {
	ID          int64     `json:"id"`
	AccountID   *int64    `json:"account_id,omitempty"`
	Pattern     string    `json:"pattern"`
	Replacement string    `json:"replacement"`
	CreatedAt   time.Time `json:"created_at"`
}

// Classification is the (possibly partial) outcome of rule evaluation.
type Classification struct {
	ThirdPartyID *int64 `json:"third_party_id,omitempty"`
	CostCenterID *int64 `json:"cost_center_id,omitempty"`
	ConceptID    *int64 `json:"concept_id,omitempty"`
}

// Empty reports whether no field was assigned.
func (c Classification) Empty() bool {
	return c.ThirdPartyID == nil && c.CostCenterID == nil && c.ConceptID == nil
}

// MaterializedLink carries a system movement created from an unmatched
// extract movement, together with the link that binds them. The movement id
// is assigned at persistence time.
type MaterializedLink struct {
	Movement          *SystemMovement `json:"movement"`
	ExtractMovementID int64           `json:"extract_movement_id"`
	Score             float64         `json:"score"`
	State             LinkState       `json:"state"`
}

// MatchBatch is the full persistence side-effect of one matching run. It is
// applied atomically: either the previous link set survives or the updated
// one, never a partial overlay.
type MatchBatch struct {
	BatchID      string              `json:"batch_id"`
	AccountID    int64               `json:"account_id"`
	Period       Period              `json:"period"`
	Rebuild      bool                `json:"rebuild"`
	Links        []*MatchLink        `json:"links"`
	Materialized []*MaterializedLink `json:"materialized"`
}

// ReconciliationStatus carries the upstream wire values.
type ReconciliationStatus string

const (
	ReconciliationPending  ReconciliationStatus = "PENDIENTE"
	ReconciliationBalanced ReconciliationStatus = "CUADRADO"
	ReconciliationSettled  ReconciliationStatus = "CONCILIADO"
)

// Reconciliation compares the manually entered extract totals for a period
// against the computed system-side totals. Extract-side fields are user
// input and never recomputed.
type Reconciliation struct {
	ID        int64  `json:"id"`
	AccountID int64  `json:"account_id"`
	Period    Period `json:"period"`

	ExtractOpeningBalance decimal.Decimal `json:"extract_opening_balance"`
	ExtractInflows        decimal.Decimal `json:"extract_inflows"`
	ExtractOutflows       decimal.Decimal `json:"extract_outflows"`
	ExtractClosingBalance decimal.Decimal `json:"extract_closing_balance"`

	SystemInflows        decimal.Decimal `json:"system_inflows"`
	SystemOutflows       decimal.Decimal `json:"system_outflows"`
	SystemClosingBalance decimal.Decimal `json:"system_closing_balance"`

	Difference decimal.Decimal      `json:"difference"`
	Status     ReconciliationStatus `json:"status"`
	UpdatedAt  time.Time            `json:"updated_at"`
}
