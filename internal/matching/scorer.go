package matching

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"

	"github.com/savegress/bankrecon/pkg/models"
)

const (
	// dateWindowDays is the window over which the date score decays to zero.
	dateWindowDays = 5

	// valueDecaySpan is the multiple of the value tolerance at which the
	// value score reaches zero.
	valueDecaySpan = 5
)

// Scorer computes the similarity between an extract movement and a system
// movement as a weighted sum of date, value and description sub-scores.
type Scorer struct {
	cfg *models.MatchConfig
}

// NewScorer validates the config and returns a scorer. Fails fast when the
// weights do not sum to 1 within tolerance.
func NewScorer(cfg *models.MatchConfig) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

// Score returns the combined similarity in [0,1].
func (s *Scorer) Score(extract *models.ExtractMovement, system *models.SystemMovement) float64 {
	total := s.cfg.DateWeight*s.dateScore(extract, system) +
		s.cfg.ValueWeight*s.valueScore(extract, system) +
		s.cfg.DescriptionWeight*s.descriptionScore(extract, system)
	return clamp01(total)
}

// dateScore is 1.0 on identical dates and decays linearly to 0 over the
// date window.
func (s *Scorer) dateScore(extract *models.ExtractMovement, system *models.SystemMovement) float64 {
	delta := dateDeltaDays(extract, system)
	if delta >= dateWindowDays {
		return 0
	}
	return 1 - float64(delta)/dateWindowDays
}

// valueScore is 1.0 when the amounts differ by at most the tolerance, then
// decays linearly to 0 at valueDecaySpan times the tolerance. Amounts are
// compared on exact decimal arithmetic.
func (s *Scorer) valueScore(extract *models.ExtractMovement, system *models.SystemMovement) float64 {
	diff := extract.Amount.Sub(system.Amount).Abs()
	tol := s.cfg.ValueTolerance
	if diff.LessThanOrEqual(tol) {
		return 1
	}
	if tol.IsZero() {
		return 0
	}
	limit := tol.Mul(decimal.NewFromInt(valueDecaySpan))
	if diff.GreaterThanOrEqual(limit) {
		return 0
	}
	// Linear from 1 at tol down to 0 at valueDecaySpan*tol, continuous at
	// the tolerance boundary.
	span := limit.Sub(tol)
	score, _ := limit.Sub(diff).Div(span).Float64()
	return clamp01(score)
}

// descriptionScore is the normalized Levenshtein ratio between the
// canonicalized descriptions, or 0 below the configured minimum.
func (s *Scorer) descriptionScore(extract *models.ExtractMovement, system *models.SystemMovement) float64 {
	sim := SimilarityRatio(extract.Description, system.Description)
	if sim < s.cfg.MinDescriptionSimilarity {
		return 0
	}
	return sim
}

// SimilarityRatio returns 1 - distance/maxLen over canonicalized strings.
// Two empty descriptions compare as identical.
func SimilarityRatio(a, b string) float64 {
	a = NormalizeDescription(a)
	b = NormalizeDescription(b)
	if a == b {
		return 1
	}
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return clamp01(1 - float64(dist)/float64(maxLen))
}

// NormalizeDescription upper-cases and collapses runs of whitespace. Alias
// substitution happens upstream, before movements reach the scorer.
func NormalizeDescription(s string) string {
	return strings.Join(strings.Fields(strings.ToUpper(s)), " ")
}

// dateDeltaDays returns the whole-day distance between the movement dates.
func dateDeltaDays(extract *models.ExtractMovement, system *models.SystemMovement) int {
	a := truncateToDay(extract.Date)
	b := truncateToDay(system.Date)
	delta := int(a.Sub(b).Hours() / 24)
	if delta < 0 {
		delta = -delta
	}
	return delta
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
