package matching

import (
	"testing"
	"time"

	"github.com/savegress/bankrecon/pkg/models"
)

func link(id, extractID, systemID int64, score float64, created time.Time) *models.MatchLink {
	return &models.MatchLink{
		ID:                id,
		AccountID:         1,
		Period:            models.Period{Year: 2026, Month: 3},
		ExtractMovementID: extractID,
		SystemMovementID:  systemID,
		Score:             score,
		State:             models.LinkStateProbable,
		CreatedAt:         created,
	}
}

func TestDetectDuplicates_CleanSet(t *testing.T) {
	now := time.Now().UTC()
	links := []*models.MatchLink{
		link(1, 10, 100, 0.9, now),
		link(2, 11, 101, 0.8, now),
	}

	if groups := DetectDuplicates(links); len(groups) != 0 {
		t.Errorf("clean link set: got %d groups, want 0", len(groups))
	}
}

func TestDetectDuplicates_BothSides(t *testing.T) {
	now := time.Now().UTC()
	links := []*models.MatchLink{
		link(1, 10, 100, 0.9, now),
		link(2, 11, 100, 0.8, now), // system 100 linked twice
		link(3, 12, 101, 0.7, now),
		link(4, 12, 102, 0.6, now), // extract 12 linked twice
	}

	groups := DetectDuplicates(links)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}

	if groups[0].Side != DuplicateSystemSide || groups[0].MovementID != 100 {
		t.Errorf("group 0 = %s/%d, want system_movement/100", groups[0].Side, groups[0].MovementID)
	}
	if len(groups[0].Links) != 2 {
		t.Errorf("group 0 has %d links, want 2", len(groups[0].Links))
	}
	if groups[1].Side != DuplicateExtractSide || groups[1].MovementID != 12 {
		t.Errorf("group 1 = %s/%d, want extract_movement/12", groups[1].Side, groups[1].MovementID)
	}
}

func TestResolveDuplicates_KeepsHighestScore(t *testing.T) {
	now := time.Now().UTC()
	links := []*models.MatchLink{
		link(1, 10, 100, 0.80, now),
		link(2, 11, 100, 0.95, now),
		link(3, 12, 100, 0.70, now),
	}

	removed := ResolveDuplicates(links)
	if len(removed) != 2 {
		t.Fatalf("got %d removals, want 2", len(removed))
	}
	if removed[0].ID != 1 || removed[1].ID != 3 {
		t.Errorf("removed ids = [%d %d], want [1 3]", removed[0].ID, removed[1].ID)
	}
}

func TestResolveDuplicates_TieBreaks(t *testing.T) {
	early := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	t.Run("earlier creation wins", func(t *testing.T) {
		links := []*models.MatchLink{
			link(5, 10, 100, 0.9, late),
			link(6, 11, 100, 0.9, early),
		}
		removed := ResolveDuplicates(links)
		if len(removed) != 1 || removed[0].ID != 5 {
			t.Fatalf("removed = %v, want link 5", removedIDs(removed))
		}
	})

	t.Run("lower id wins on full tie", func(t *testing.T) {
		links := []*models.MatchLink{
			link(8, 10, 100, 0.9, early),
			link(7, 11, 100, 0.9, early),
		}
		removed := ResolveDuplicates(links)
		if len(removed) != 1 || removed[0].ID != 8 {
			t.Fatalf("removed = %v, want link 8", removedIDs(removed))
		}
	})
}

func TestResolveDuplicates_Idempotent(t *testing.T) {
	now := time.Now().UTC()
	links := []*models.MatchLink{
		link(1, 10, 100, 0.80, now),
		link(2, 11, 100, 0.95, now),
		link(3, 11, 101, 0.60, now), // extract 11 also duplicated
		link(4, 13, 103, 0.99, now),
	}

	removed := ResolveDuplicates(links)
	if len(removed) == 0 {
		t.Fatal("expected removals on first pass")
	}

	dropped := make(map[int64]bool, len(removed))
	for _, l := range removed {
		dropped[l.ID] = true
	}
	var survivors []*models.MatchLink
	for _, l := range links {
		if !dropped[l.ID] {
			survivors = append(survivors, l)
		}
	}

	if again := ResolveDuplicates(survivors); len(again) != 0 {
		t.Errorf("second pass removed %d links, want 0", len(again))
	}
	if groups := DetectDuplicates(survivors); len(groups) != 0 {
		t.Errorf("survivors still have %d duplicate groups", len(groups))
	}
}

func TestResolveDuplicates_SharedLinkRemovedOnce(t *testing.T) {
	now := time.Now().UTC()
	// Link 2 loses on both sides: against link 1 for system 100 and against
	// link 3 for extract 11. It must appear once in the removal set.
	links := []*models.MatchLink{
		link(1, 10, 100, 0.95, now),
		link(2, 11, 100, 0.70, now),
		link(3, 11, 101, 0.90, now),
	}

	removed := ResolveDuplicates(links)
	if len(removed) != 1 || removed[0].ID != 2 {
		t.Fatalf("removed = %v, want exactly link 2", removedIDs(removed))
	}
}

func removedIDs(links []*models.MatchLink) []int64 {
	out := make([]int64, len(links))
	for i, l := range links {
		out[i] = l.ID
	}
	return out
}
