package models

import (
	"fmt"
	"strings"
)

// Tier is a cost/quality class of model.
type Tier string

const (
	TierCheap   Tier = "cheap"
	TierCapable Tier = "capable"
	TierPremium Tier = "premium"
)

// DefaultTierOrder is the escalation order used when none is configured.
var DefaultTierOrder = []Tier{TierCheap, TierCapable, TierPremium}

// AllTiers returns every known tier, cheapest first.
func AllTiers() []Tier {
	return []Tier{TierCheap, TierCapable, TierPremium}
}

// Rank orders tiers by cost; unknown tiers rank last.
func (t Tier) Rank() int {
	switch t {
	case TierCheap:
		return 0
	case TierCapable:
		return 1
	case TierPremium:
		return 2
	default:
		return 3
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t.Rank() < 3
}

// ParseTier parses a tier name case-insensitively.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q (want cheap, capable or premium)", s)
	}
	return t, nil
}
