// Package reconciliation computes the system-side totals of a period and
// compares them against the manually entered extract totals.
package reconciliation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/savegress/bankrecon/pkg/models"
)

// balanceTolerance is the threshold under which two balances are considered
// equal (0.01 currency units).
var balanceTolerance = decimal.New(1, -2)

// Aggregator recomputes the system side of a reconciliation aggregate.
type Aggregator struct{}

// NewAggregator creates an aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// RecalculateSystem sums the system movements of the period into inflows
// and outflows and derives the closing balance from the user-provided
// extract opening balance (the ledger does not track its own opening
// balance). Extract-side fields are never touched. The status moves between
// PENDIENTE and CUADRADO; CONCILIADO is only reachable through an explicit
// confirmation and is never assigned here.
func (a *Aggregator) RecalculateSystem(rec *models.Reconciliation, movements []*models.SystemMovement) {
	inflows := decimal.Zero
	outflows := decimal.Zero
	for _, m := range movements {
		if m.Amount.IsPositive() {
			inflows = inflows.Add(m.Amount)
		} else {
			outflows = outflows.Add(m.Amount.Abs())
		}
	}

	rec.SystemInflows = inflows
	rec.SystemOutflows = outflows
	rec.SystemClosingBalance = rec.ExtractOpeningBalance.Add(inflows).Sub(outflows)
	rec.Difference = rec.SystemClosingBalance.Sub(rec.ExtractClosingBalance)
	rec.UpdatedAt = time.Now().UTC()

	if rec.Status != models.ReconciliationSettled {
		if a.ReconciliationOK(rec) {
			rec.Status = models.ReconciliationBalanced
		} else {
			rec.Status = models.ReconciliationPending
		}
	}
}

// ExtractConsistent checks the internal consistency of the extract-side
// user input: opening + inflows - outflows must equal the closing balance.
func (a *Aggregator) ExtractConsistent(rec *models.Reconciliation) bool {
	computed := rec.ExtractOpeningBalance.
		Add(rec.ExtractInflows).
		Sub(rec.ExtractOutflows)
	return computed.Sub(rec.ExtractClosingBalance).Abs().LessThan(balanceTolerance)
}

// ReconciliationOK reports whether the system closing balance agrees with
// the extract closing balance.
func (a *Aggregator) ReconciliationOK(rec *models.Reconciliation) bool {
	return rec.SystemClosingBalance.Sub(rec.ExtractClosingBalance).Abs().LessThan(balanceTolerance)
}

// Checks bundles the two derived booleans for reporting.
type Checks struct {
	ExtractConsistent bool `json:"calculo_cuadra"`
	ReconciliationOK  bool `json:"conciliacion_ok"`
}

// Evaluate returns both derived booleans for the aggregate.
func (a *Aggregator) Evaluate(rec *models.Reconciliation) Checks {
	return Checks{
		ExtractConsistent: a.ExtractConsistent(rec),
		ReconciliationOK:  a.ReconciliationOK(rec),
	}
}
