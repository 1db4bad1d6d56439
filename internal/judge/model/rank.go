package model

import "sort"

// Rank is the best score of a user within a round.
type Rank struct {
	UserID  int64
	RoundID int64
	Points  int64
}

// RankEntry is one row of a published ranking.
type RankEntry struct {
	UserID int64 `json:"user_id"`
	Points int64 `json:"points"`
}

// SortRanking orders entries by points descending, then user id ascending.
func SortRanking(entries []RankEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		return entries[i].UserID < entries[j].UserID
	})
}
