package matching

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/savegress/bankrecon/pkg/models"
)

func testConfig() *models.MatchConfig {
	return &models.MatchConfig{
		Name:                     "test",
		DateWeight:               0.3,
		ValueWeight:              0.5,
		DescriptionWeight:        0.2,
		ValueTolerance:           decimal.RequireFromString("0.01"),
		MinDescriptionSimilarity: 0.3,
		ExactThreshold:           0.95,
		ProbableThreshold:        0.7,
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func extractMovement(id int64, date time.Time, amount, desc string) *models.ExtractMovement {
	return &models.ExtractMovement{
		ID:          id,
		AccountID:   1,
		Period:      models.Period{Year: date.Year(), Month: int(date.Month())},
		Date:        date,
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
	}
}

func systemMovement(id int64, date time.Time, amount, desc string) *models.SystemMovement {
	return &models.SystemMovement{
		ID:          id,
		AccountID:   1,
		Date:        date,
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
	}
}

func TestNewScorer(t *testing.T) {
	scorer, err := NewScorer(testConfig())
	if err != nil {
		t.Fatalf("NewScorer failed: %v", err)
	}
	if scorer == nil {
		t.Fatal("NewScorer returned nil")
	}
}

func TestNewScorer_InvalidWeights(t *testing.T) {
	cfg := testConfig()
	cfg.ValueWeight = 0.6 // sum is now 1.1

	if _, err := NewScorer(cfg); err == nil {
		t.Fatal("expected error for weights not summing to 1")
	}
}

func TestScore_IdenticalMovements(t *testing.T) {
	scorer, _ := NewScorer(testConfig())

	ext := extractMovement(1, day(2026, time.March, 10), "1500.00", "PAGO NOMINA MARZO")
	sys := systemMovement(1, day(2026, time.March, 10), "1500.00", "PAGO NOMINA MARZO")

	score := scorer.Score(ext, sys)
	if math.Abs(score-1.0) > 1e-9 {
		t.Errorf("identical movements: score = %v, want 1.0", score)
	}
}

func TestScore_DateDecay(t *testing.T) {
	scorer, _ := NewScorer(testConfig())

	tests := []struct {
		name      string
		deltaDays int
		want      float64
	}{
		{"same day", 0, 1.0},
		{"one day off", 1, 0.8},
		{"two days off", 2, 0.6},
		{"four days off", 4, 0.2},
		{"window edge", 5, 0.0},
		{"beyond window", 30, 0.0},
	}

	base := day(2026, time.March, 10)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext := extractMovement(1, base, "100.00", "ABC")
			sys := systemMovement(1, base.AddDate(0, 0, tt.deltaDays), "100.00", "ABC")

			got := scorer.dateScore(ext, sys)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("dateScore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScore_ValueDecay(t *testing.T) {
	scorer, _ := NewScorer(testConfig())
	base := day(2026, time.March, 10)

	tests := []struct {
		name   string
		amount string
		want   float64
	}{
		{"equal", "100.00", 1.0},
		{"within tolerance", "100.01", 1.0},
		{"just past tolerance", "100.02", 0.75},
		{"halfway", "100.03", 0.5},
		{"near zero", "100.04", 0.25},
		{"at decay limit", "100.05", 0.0},
		{"beyond limit", "150.00", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext := extractMovement(1, base, "100.00", "ABC")
			sys := systemMovement(1, base, tt.amount, "ABC")

			got := scorer.valueScore(ext, sys)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("valueScore(%s) = %v, want %v", tt.amount, got, tt.want)
			}
		})
	}
}

func TestScore_ValueDecayZeroTolerance(t *testing.T) {
	cfg := testConfig()
	cfg.ValueTolerance = decimal.Zero
	scorer, err := NewScorer(cfg)
	if err != nil {
		t.Fatalf("NewScorer failed: %v", err)
	}

	base := day(2026, time.March, 10)
	ext := extractMovement(1, base, "100.00", "ABC")

	if got := scorer.valueScore(ext, systemMovement(1, base, "100.00", "ABC")); got != 1.0 {
		t.Errorf("exact amount with zero tolerance: valueScore = %v, want 1.0", got)
	}
	if got := scorer.valueScore(ext, systemMovement(1, base, "100.01", "ABC")); got != 0.0 {
		t.Errorf("any difference with zero tolerance: valueScore = %v, want 0.0", got)
	}
}

func TestScore_DescriptionCutoff(t *testing.T) {
	scorer, _ := NewScorer(testConfig())
	base := day(2026, time.March, 10)

	ext := extractMovement(1, base, "100.00", "PAGO NOMINA")
	sys := systemMovement(1, base, "100.00", "ZZZZZZZZZZZ")

	if got := scorer.descriptionScore(ext, sys); got != 0 {
		t.Errorf("dissimilar descriptions below cutoff: descriptionScore = %v, want 0", got)
	}
}

func TestScore_Bounds(t *testing.T) {
	scorer, _ := NewScorer(testConfig())

	ext := extractMovement(1, day(2026, time.March, 1), "100.00", "PAGO PROVEEDOR ACME")
	sys := systemMovement(1, day(2026, time.March, 28), "9999.99", "INTERESES CUENTA")

	score := scorer.Score(ext, sys)
	if score < 0 || score > 1 {
		t.Errorf("score out of [0,1]: %v", score)
	}
}

func TestSimilarityRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "PAGO NOMINA", "PAGO NOMINA", 1.0},
		{"case and spacing", "pago   nomina", "PAGO NOMINA", 1.0},
		{"both empty", "", "", 1.0},
		{"one empty", "ABCD", "", 0.0},
		{"one char off", "ABCD", "ABCE", 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SimilarityRatio(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("SimilarityRatio(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestNormalizeDescription(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"pago nomina", "PAGO NOMINA"},
		{"  PAGO   NOMINA  ", "PAGO NOMINA"},
		{"pago\tnomina\nmarzo", "PAGO NOMINA MARZO"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeDescription(tt.in); got != tt.want {
			t.Errorf("NormalizeDescription(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
