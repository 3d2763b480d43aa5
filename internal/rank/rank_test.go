package rank_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bidarena/auction-engine/internal/model"
	"github.com/bidarena/auction-engine/internal/rank"
)

func team(name string, points int, purse float64) model.Team {
	return model.Team{
		ID:           uuid.New(),
		Name:         name,
		Code:         name[:3],
		TotalPoints:  points,
		PurseBalance: decimal.NewFromFloat(purse),
	}
}

func TestStandings_OrdersByPointsThenPurse(t *testing.T) {
	teams := []model.Team{
		team("Strikers", 40, 100),
		team("Chargers", 90, 50),
		team("Titansxx", 90, 80),
		team("Rovers00", 10, 999),
	}

	entries := rank.Standings(teams)

	want := []string{"Titansxx", "Chargers", "Strikers", "Rovers00"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, name := range want {
		if entries[i].Name != name {
			t.Errorf("position %d: expected %s, got %s", i, name, entries[i].Name)
		}
		if entries[i].Rank != i+1 {
			t.Errorf("position %d: expected rank %d, got %d", i, i+1, entries[i].Rank)
		}
	}
}

func TestStandings_FullTiesGetDistinctConsecutiveRanks(t *testing.T) {
	teams := []model.Team{
		team("AlphaFC0", 50, 200),
		team("BravoFC0", 50, 200),
		team("DeltaFC0", 50, 200),
	}

	entries := rank.Standings(teams)

	for i, e := range entries {
		if e.Rank != i+1 {
			t.Errorf("tied teams must get consecutive ranks: entry %d has rank %d", i, e.Rank)
		}
	}
}

func TestStandings_StableForEqualKeys(t *testing.T) {
	// With identical sort keys, input order is preserved.
	teams := []model.Team{
		team("FirstFC0", 10, 100),
		team("Second00", 10, 100),
	}

	entries := rank.Standings(teams)

	if entries[0].Name != "FirstFC0" || entries[1].Name != "Second00" {
		t.Errorf("expected stable order, got %s then %s", entries[0].Name, entries[1].Name)
	}
}

func TestStandings_Empty(t *testing.T) {
	entries := rank.Standings(nil)
	if len(entries) != 0 {
		t.Errorf("expected empty standings, got %d entries", len(entries))
	}
}

func TestStandings_DoesNotMutateInput(t *testing.T) {
	teams := []model.Team{
		team("LowScore", 1, 1),
		team("HighScor", 99, 1),
	}

	rank.Standings(teams)

	if teams[0].Name != "LowScore" {
		t.Error("input slice was reordered")
	}
}
