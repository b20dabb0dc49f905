package matching

import (
	"sort"

	"github.com/savegress/bankrecon/pkg/models"
)

// DuplicateSide names the foreign key a duplicate group violates.
type DuplicateSide string

const (
	DuplicateSystemSide  DuplicateSide = "system_movement"
	DuplicateExtractSide DuplicateSide = "extract_movement"
)

// DuplicateGroup is a set of links sharing one movement id. The uniqueness
// invariant allows at most one link per movement, so any group here is a
// violation.
type DuplicateGroup struct {
	Side       DuplicateSide       `json:"side"`
	MovementID int64               `json:"movement_id"`
	Links      []*models.MatchLink `json:"links"`
}

// DetectDuplicates groups links by system movement id and by extract
// movement id and reports every group with more than one link. Groups are
// ordered by side (system first) then movement id; links inside a group by
// link id. Running detection on a repaired link set yields nil.
func DetectDuplicates(links []*models.MatchLink) []DuplicateGroup {
	groups := collectGroups(links, DuplicateSystemSide)
	groups = append(groups, collectGroups(links, DuplicateExtractSide)...)
	return groups
}

func collectGroups(links []*models.MatchLink, side DuplicateSide) []DuplicateGroup {
	byMovement := make(map[int64][]*models.MatchLink)
	for _, l := range links {
		id := l.SystemMovementID
		if side == DuplicateExtractSide {
			id = l.ExtractMovementID
		}
		byMovement[id] = append(byMovement[id], l)
	}

	var groups []DuplicateGroup
	for id, ls := range byMovement {
		if len(ls) < 2 {
			continue
		}
		sort.Slice(ls, func(i, j int) bool { return ls[i].ID < ls[j].ID })
		groups = append(groups, DuplicateGroup{Side: side, MovementID: id, Links: ls})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].MovementID < groups[j].MovementID })
	return groups
}

// ResolveDuplicates returns the links to delete so that each movement keeps
// exactly one link: the highest-scoring one, ties broken by earliest
// creation timestamp, then lowest link id. Resolution is idempotent and
// never touches a movement with a single link.
func ResolveDuplicates(links []*models.MatchLink) []*models.MatchLink {
	drop := make(map[int64]*models.MatchLink)
	for _, group := range DetectDuplicates(links) {
		keep := bestLink(group.Links)
		for _, l := range group.Links {
			if l.ID != keep.ID {
				drop[l.ID] = l
			}
		}
	}

	removed := make([]*models.MatchLink, 0, len(drop))
	for _, l := range drop {
		removed = append(removed, l)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed
}

func bestLink(links []*models.MatchLink) *models.MatchLink {
	best := links[0]
	for _, l := range links[1:] {
		switch {
		case l.Score > best.Score:
			best = l
		case l.Score == best.Score && l.CreatedAt.Before(best.CreatedAt):
			best = l
		case l.Score == best.Score && l.CreatedAt.Equal(best.CreatedAt) && l.ID < best.ID:
			best = l
		}
	}
	return best
}
