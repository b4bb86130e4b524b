package metrics

import "osprey-ptx/core/store"

// DefaultWeights is the immutable system-wide outcome weight table.
// not_applicable carries no weight and is excluded from every
// denominator.
var DefaultWeights = map[store.DetectionOutcome]float64{
	store.OutcomeBlocked:       1.0,
	store.OutcomeAlertedHigh:   0.9,
	store.OutcomeAlertedMedium: 0.75,
	store.OutcomeAlertedLow:    0.6,
	store.OutcomeLoggedCentral: 0.4,
	store.OutcomeLoggedLocal:   0.2,
	store.OutcomeNotDetected:   0.0,
}

// WeightTable layers per-organization overrides over the system default
// table. Lookup never falls through to a nullable row: an outcome
// without an override resolves to the default weight.
type WeightTable struct {
	overrides map[store.DetectionOutcome]float64
}

func NewWeightTable(overrides map[store.DetectionOutcome]float64) WeightTable {
	return WeightTable{overrides: overrides}
}

// Weight resolves the effective weight for an outcome. The second
// return is false for not_applicable and unknown outcomes.
func (t WeightTable) Weight(o store.DetectionOutcome) (float64, bool) {
	if o == store.OutcomeNotApplicable {
		return 0, false
	}
	if w, ok := t.overrides[o]; ok {
		return w, true
	}
	w, ok := DefaultWeights[o]
	return w, ok
}
