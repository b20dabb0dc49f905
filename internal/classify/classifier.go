// Package classify assigns third-party, cost-center and concept ids to
// ledger movements that lack them, by normalizing movement descriptions
// through configured aliases and evaluating ordered pattern rules.
package classify

import (
	"sort"
	"strings"

	"github.com/savegress/bankrecon/pkg/models"
)

// Classifier evaluates aliases and classification rules against movement
// descriptions. It is immutable after construction; rebuild it when the
// catalog changes.
type Classifier struct {
	rules   []*models.ClassificationRule
	aliases []*models.Alias
}

// NewClassifier orders the catalog once up front: rules by match type
// (EXACT, then CONTAINS, then STARTS_WITH), account-scoped before global
// within a type, insertion order last. Aliases keep insertion order.
func NewClassifier(rules []*models.ClassificationRule, aliases []*models.Alias) *Classifier {
	ordered := make([]*models.ClassificationRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := ordered[i], ordered[j]
		pi, pj := matchTypeRank(ri.MatchType), matchTypeRank(rj.MatchType)
		if pi != pj {
			return pi < pj
		}
		if scoped, scopedJ := ri.AccountID != nil, rj.AccountID != nil; scoped != scopedJ {
			return scoped
		}
		return ri.ID < rj.ID
	})

	sortedAliases := make([]*models.Alias, len(aliases))
	copy(sortedAliases, aliases)
	sort.SliceStable(sortedAliases, func(i, j int) bool { return sortedAliases[i].ID < sortedAliases[j].ID })

	return &Classifier{rules: ordered, aliases: sortedAliases}
}

func matchTypeRank(t models.RuleMatchType) int {
	switch t {
	case models.RuleMatchExact:
		return 0
	case models.RuleMatchContains:
		return 1
	case models.RuleMatchStartsWith:
		return 2
	}
	return 3
}

// Normalize upper-cases the description, collapses whitespace, and applies
// every alias scoped to the account plus the global ones, in insertion
// order. Each alias is one literal substitution pass; replacements are not
// re-scanned by the same alias.
func (c *Classifier) Normalize(accountID int64, description string) string {
	normalized := canonical(description)
	for _, a := range c.aliases {
		if a.AccountID != nil && *a.AccountID != accountID {
			continue
		}
		pattern := canonical(a.Pattern)
		if pattern == "" {
			continue
		}
		normalized = strings.ReplaceAll(normalized, pattern, canonical(a.Replacement))
	}
	return normalized
}

// Classify evaluates the rules against the movement's normalized
// description. The first matching rule fully determines the outcome; fields
// the rule leaves null remain unset. No match returns an empty
// classification, which is a gap for the caller to surface, not an error.
func (c *Classifier) Classify(movement *models.SystemMovement) models.Classification {
	desc := c.Normalize(movement.AccountID, movement.Description)
	for _, r := range c.rules {
		if r.AccountID != nil && *r.AccountID != movement.AccountID {
			continue
		}
		if ruleMatches(r, desc) {
			return models.Classification{
				ThirdPartyID: r.ThirdPartyID,
				CostCenterID: r.CostCenterID,
				ConceptID:    r.ConceptID,
			}
		}
	}
	return models.Classification{}
}

// ruleMatches compares the normalized description against the rule pattern.
// The switch is exhaustive over the closed match-type set; unknown types
// never match and are rejected at rule creation.
func ruleMatches(r *models.ClassificationRule, desc string) bool {
	pattern := canonical(r.Pattern)
	if pattern == "" {
		return false
	}
	switch r.MatchType {
	case models.RuleMatchExact:
		return desc == pattern
	case models.RuleMatchContains:
		return strings.Contains(desc, pattern)
	case models.RuleMatchStartsWith:
		return strings.HasPrefix(desc, pattern)
	default:
		return false
	}
}

func canonical(s string) string {
	return strings.Join(strings.Fields(strings.ToUpper(s)), " ")
}
