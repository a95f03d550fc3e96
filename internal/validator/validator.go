// internal/validator/validator.go
// Package validator decides whether a ticket satisfies a prize pattern. Every function here
// is pure.
package validator

import (
	"sort"

	"github.com/rag2504/tambola/internal/models"
)

// IsWinner reports whether t satisfies kind given the numbers called so far.
// STAR and unknown kinds never win.
func IsWinner(t *models.Ticket, called []int, kind models.PrizeKind) bool {
	set := make(map[int]struct{}, len(called))
	for _, n := range called {
		set[n] = struct{}{}
	}
	return check(t, func(n int) bool {
		_, ok := set[n]
		return ok
	}, kind)
}

// IsWinnerMarked evaluates kind against the ticket's own marked numbers. For a ticket whose
// marks are kept in sync with the room it agrees with IsWinner.
func IsWinnerMarked(t *models.Ticket, kind models.PrizeKind) bool {
	return IsWinner(t, t.Marked, kind)
}

func check(t *models.Ticket, marked func(int) bool, kind models.PrizeKind) bool {
	switch kind {
	case models.PrizeEarlyFive:
		hits := 0
		for _, n := range t.Numbers {
			if marked(n) {
				hits++
			}
		}
		return hits >= 5
	case models.PrizeTopLine:
		return allMarked(t.Grid.Row(0), marked)
	case models.PrizeMiddleLine:
		return allMarked(t.Grid.Row(1), marked)
	case models.PrizeBottomLine:
		return allMarked(t.Grid.Row(2), marked)
	case models.PrizeFourCorners:
		corners := Corners(t.Grid)
		return len(corners) == 4 && allMarked(corners, marked)
	case models.PrizeFullHouse:
		return len(t.Numbers) > 0 && allMarked(t.Numbers, marked)
	default:
		return false
	}
}

// Corners returns the first and last filled cells of the top and bottom rows. A row with
// fewer than two filled cells contributes nothing, leaving the set short.
func Corners(g models.Grid) []int {
	var out []int
	for _, r := range []int{0, models.TicketRows - 1} {
		row := g.Row(r)
		if len(row) < 2 {
			continue
		}
		out = append(out, row[0], row[len(row)-1])
	}
	return out
}

func allMarked(nums []int, marked func(int) bool) bool {
	if len(nums) == 0 {
		return false
	}
	for _, n := range nums {
		if !marked(n) {
			return false
		}
	}
	return true
}

// precedence is the completion ordering of prize kinds. STAR has none.
var precedence = map[models.PrizeKind]int{
	models.PrizeEarlyFive:   0,
	models.PrizeTopLine:     1,
	models.PrizeMiddleLine:  2,
	models.PrizeBottomLine:  3,
	models.PrizeFourCorners: 4,
	models.PrizeFullHouse:   5,
}

// Precedence returns the ordering slot for kind.
func Precedence(kind models.PrizeKind) (int, bool) {
	p, ok := precedence[kind]
	return p, ok
}

// RankWinners orders winners by prize precedence then claim time and assigns ranks from 1.
// The input is left untouched.
func RankWinners(winners []models.Winner) []models.Winner {
	out := make([]models.Winner, len(winners))
	copy(out, winners)
	slot := func(k models.PrizeKind) int {
		if p, ok := precedence[k]; ok {
			return p
		}
		return len(precedence)
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := slot(out[i].Kind), slot(out[j].Kind)
		if pi != pj {
			return pi < pj
		}
		return out[i].ClaimedAt.Before(out[j].ClaimedAt)
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
