package matching

import (
	"sort"
	"time"

	"github.com/savegress/bankrecon/pkg/models"
)

// Engine assigns extract movements to system movements for one
// account/period batch. The assignment is one-to-one in both directions.
//
// The strategy is greedy highest-score-first: the globally best-scoring pair
// is linked before anything else, so an unambiguous strong match can never
// be consumed by a mediocre one. This is a deliberate approximation of
// optimal bipartite matching.
type Engine struct {
	scorer *Scorer
	cfg    *models.MatchConfig
}

// NewEngine validates the config and returns an engine.
func NewEngine(cfg *models.MatchConfig) (*Engine, error) {
	scorer, err := NewScorer(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{scorer: scorer, cfg: cfg}, nil
}

type scoredPair struct {
	extractIdx int
	systemIdx  int
	score      float64
	dateDelta  int
}

// Run produces the link set for the given unlinked movements. Empty inputs
// produce an empty result. Movements left unpicked are the implicit
// SIN_MATCH complement; they are not emitted.
func (e *Engine) Run(extracts []*models.ExtractMovement, systems []*models.SystemMovement) []*models.MatchLink {
	if len(extracts) == 0 || len(systems) == 0 {
		return nil
	}

	pairs := make([]scoredPair, 0, len(extracts)*len(systems))
	for i, ext := range extracts {
		for j, sys := range systems {
			score := e.scorer.Score(ext, sys)
			if score < e.cfg.ProbableThreshold {
				continue
			}
			pairs = append(pairs, scoredPair{
				extractIdx: i,
				systemIdx:  j,
				score:      score,
				dateDelta:  dateDeltaDays(ext, sys),
			})
		}
	}

	// Highest score first; ties broken by smallest date delta, then lowest
	// system movement id, then lowest extract movement id. The ordering is
	// total, so identical inputs always yield identical link sets.
	sort.Slice(pairs, func(a, b int) bool {
		pa, pb := pairs[a], pairs[b]
		if pa.score != pb.score {
			return pa.score > pb.score
		}
		if pa.dateDelta != pb.dateDelta {
			return pa.dateDelta < pb.dateDelta
		}
		if systems[pa.systemIdx].ID != systems[pb.systemIdx].ID {
			return systems[pa.systemIdx].ID < systems[pb.systemIdx].ID
		}
		return extracts[pa.extractIdx].ID < extracts[pb.extractIdx].ID
	})

	usedExtract := make(map[int]bool, len(extracts))
	usedSystem := make(map[int]bool, len(systems))
	now := time.Now().UTC()

	var links []*models.MatchLink
	for _, p := range pairs {
		if usedExtract[p.extractIdx] || usedSystem[p.systemIdx] {
			continue
		}
		usedExtract[p.extractIdx] = true
		usedSystem[p.systemIdx] = true

		ext := extracts[p.extractIdx]
		state := models.LinkStateProbable
		if p.score >= e.cfg.ExactThreshold {
			state = models.LinkStateExact
		}
		links = append(links, &models.MatchLink{
			AccountID:         ext.AccountID,
			Period:            ext.Period,
			ExtractMovementID: ext.ID,
			SystemMovementID:  systems[p.systemIdx].ID,
			Score:             p.score,
			State:             state,
			CreatedAt:         now,
		})
	}
	return links
}

// Unmatched returns the movements on each side not covered by the links.
func Unmatched(extracts []*models.ExtractMovement, systems []*models.SystemMovement, links []*models.MatchLink) ([]*models.ExtractMovement, []*models.SystemMovement) {
	linkedExtract := make(map[int64]bool, len(links))
	linkedSystem := make(map[int64]bool, len(links))
	for _, l := range links {
		linkedExtract[l.ExtractMovementID] = true
		linkedSystem[l.SystemMovementID] = true
	}

	var freeExtracts []*models.ExtractMovement
	for _, m := range extracts {
		if !linkedExtract[m.ID] {
			freeExtracts = append(freeExtracts, m)
		}
	}
	var freeSystems []*models.SystemMovement
	for _, m := range systems {
		if !linkedSystem[m.ID] {
			freeSystems = append(freeSystems, m)
		}
	}
	return freeExtracts, freeSystems
}
