// Package rank projects the team ledger into the leaderboard: teams ordered
// by total points, ties broken by remaining purse, with dense sequential
// ranks starting at 1. The projection is a pure read — it never mutates and
// never locks.
package rank

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bidarena/auction-engine/internal/model"
)

// Entry is one leaderboard row.
type Entry struct {
	Rank         int             `json:"rank"`
	TeamID       uuid.UUID       `json:"team_id"`
	Name         string          `json:"name"`
	Code         string          `json:"code"`
	TotalPoints  int             `json:"total_points"`
	PurseBalance decimal.Decimal `json:"purse_balance"`
	PlayersCount int             `json:"players_count"`
}

// Standings orders teams by total points descending, then purse balance
// descending, and assigns sequential ranks. Teams tied on both fields still
// receive distinct consecutive ranks, never shared ones.
func Standings(teams []model.Team) []Entry {
	ordered := make([]model.Team, len(teams))
	copy(ordered, teams)

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].TotalPoints != ordered[j].TotalPoints {
			return ordered[i].TotalPoints > ordered[j].TotalPoints
		}
		return ordered[i].PurseBalance.GreaterThan(ordered[j].PurseBalance)
	})

	entries := make([]Entry, 0, len(ordered))
	for i, t := range ordered {
		entries = append(entries, Entry{
			Rank:         i + 1,
			TeamID:       t.ID,
			Name:         t.Name,
			Code:         t.Code,
			TotalPoints:  t.TotalPoints,
			PurseBalance: t.PurseBalance,
			PlayersCount: t.PlayersCount,
		})
	}
	return entries
}
