// internal/models/prize.go
package models

import (
	"fmt"
	"strings"
)

// PrizeKind is a named winning pattern on a ticket.
type PrizeKind string

const (
	PrizeEarlyFive   PrizeKind = "early_five"
	PrizeTopLine     PrizeKind = "top_line"
	PrizeMiddleLine  PrizeKind = "middle_line"
	PrizeBottomLine  PrizeKind = "bottom_line"
	PrizeFourCorners PrizeKind = "four_corners"
	PrizeFullHouse   PrizeKind = "full_house"
	PrizeStar        PrizeKind = "star" // reserved, has no validator
)

// AllPrizeKinds lists the closed set of prize kinds in precedence order, STAR last.
var AllPrizeKinds = []PrizeKind{
	PrizeEarlyFive,
	PrizeTopLine,
	PrizeMiddleLine,
	PrizeBottomLine,
	PrizeFourCorners,
	PrizeFullHouse,
	PrizeStar,
}

// ParsePrizeKind coerces a free-form prize identifier into the closed PrizeKind set.
// "Top Line", "top-line" and "TOP_LINE" all map to PrizeTopLine.
func ParsePrizeKind(s string) (PrizeKind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	for _, k := range AllPrizeKinds {
		if string(k) == norm {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown prize kind %q", s)
}

// PrizeConfig is the payout policy for one prize kind in a room. It is fixed at room creation.
type PrizeConfig struct {
	Kind                  PrizeKind `json:"prize_type"`
	Amount                int64     `json:"amount"`
	Enabled               bool      `json:"enabled"`
	AllowsMultipleWinners bool      `json:"multiple_winners"`
}

// Validate checks a single prize config in isolation.
func (p PrizeConfig) Validate() error {
	if _, err := ParsePrizeKind(string(p.Kind)); err != nil {
		return err
	}
	if p.Kind == PrizeStar {
		return fmt.Errorf("prize kind %q is not supported", p.Kind)
	}
	if p.Amount < 0 {
		return fmt.Errorf("prize %s: amount must be non-negative", p.Kind)
	}
	return nil
}
