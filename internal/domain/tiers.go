package domain

// ─── Appreciation tiers ─────────────────────────────────────────────────────
// Subscription deposits earn a loyalty bonus once they have been held
// past fixed age thresholds. Bonus rates are kept in basis points over
// the principal so tier math stays in integers: a deposit that reaches
// a tier is credited the DIFFERENCE between that tier's rate and the
// rate it was last credited at, so total bonus over the deposit's life
// converges on the tier's rate regardless of how often the job runs.

// Tier is one rung of the appreciation schedule.
type Tier struct {
	Months  int `json:"months"`   // deposit age threshold
	BonusBP int `json:"bonus_bp"` // cumulative bonus in basis points
}

// DefaultTiers is the appreciation schedule: 3mo→5%, 6mo→10%,
// 12mo→15%, 24mo→20%, cumulative.
var DefaultTiers = []Tier{
	{Months: 3, BonusBP: 500},
	{Months: 6, BonusBP: 1000},
	{Months: 12, BonusBP: 1500},
	{Months: 24, BonusBP: 2000},
}

// Multiplier returns the tier's rate as the conventional multiplier
// form (1.05, 1.10, ...), for display only. Bonus math never touches
// floats.
func (t Tier) Multiplier() float64 {
	return 1 + float64(t.BonusBP)/10000
}

// BonusAt returns the basis-point rate already credited at a given
// tier threshold, zero for an entry that has never appreciated.
func BonusAt(tiers []Tier, months int) int {
	for _, t := range tiers {
		if t.Months == months {
			return t.BonusBP
		}
	}
	return 0
}

// TierBonus computes the incremental bonus credits owed when an entry
// holding `credits` at tier `fromMonths` reaches tier `to`. Integer
// division floors, matching the ledger's whole-credit granularity.
func TierBonus(tiers []Tier, credits int64, fromMonths int, to Tier) int64 {
	delta := to.BonusBP - BonusAt(tiers, fromMonths)
	if delta <= 0 {
		return 0
	}
	return credits * int64(delta) / 10000
}
