package metrics

import (
	"math"
	"sort"

	"osprey-ptx/core/store"
)

type techniqueScore struct {
	tactic             string
	effective          float64
	best               store.DetectionOutcome
	alerted            bool
	visible            bool
	detectSeconds      *int64
	investigateSeconds *int64
}

func (ts *techniqueScore) blocked() bool {
	return ts.best == store.OutcomeBlocked
}

// Compute derives the full scorecard from raw per-technique-per-tool
// outcome rows. It is a pure function: callers decide when to persist
// the result. Zero applicable techniques yield all-zero rates rather
// than a division error.
func Compute(rows []store.OutcomeRow, weights WeightTable) *store.EngagementMetrics {
	byTechnique := map[int64]*techniqueScore{}
	var order []int64
	for _, row := range rows {
		w, ok := weights.Weight(row.Outcome)
		if !ok {
			continue
		}
		ts := byTechnique[row.TechniqueID]
		if ts == nil {
			ts = &techniqueScore{
				tactic:             row.Tactic,
				effective:          -1,
				detectSeconds:      row.DetectSeconds,
				investigateSeconds: row.InvestigateSeconds,
			}
			byTechnique[row.TechniqueID] = ts
			order = append(order, row.TechniqueID)
		}
		// A single tool catching the technique counts as detected:
		// the technique's effective score is the max across tools.
		if w > ts.effective {
			ts.effective = w
			ts.best = row.Outcome
		}
		if row.Outcome.Alerted() {
			ts.alerted = true
		}
		if row.Outcome.Visible() {
			ts.visible = true
		}
	}

	m := &store.EngagementMetrics{
		TacticBreakdown: map[string]store.RateBreakdown{},
		ToolBreakdown:   map[string]store.RateBreakdown{},
	}

	var weightSum float64
	var detectTimes []int64
	var investigateSum, investigateCount int64
	for _, id := range order {
		ts := byTechnique[id]
		m.ApplicableCount++
		weightSum += ts.effective
		switch {
		case ts.blocked():
			m.BlockedCount++
		case ts.alerted:
			m.AlertedCount++
		case ts.visible:
			m.LoggedCount++
		default:
			m.NotDetectedCount++
		}
		if ts.detectSeconds != nil {
			detectTimes = append(detectTimes, *ts.detectSeconds)
		}
		if ts.investigateSeconds != nil {
			investigateSum += *ts.investigateSeconds
			investigateCount++
		}
	}

	if m.ApplicableCount > 0 {
		total := float64(m.ApplicableCount)
		prevented := 0
		alerted := 0
		visible := 0
		for _, id := range order {
			ts := byTechnique[id]
			if ts.blocked() {
				prevented++
			}
			if ts.alerted {
				alerted++
			}
			if ts.visible {
				visible++
			}
		}
		m.PreventionRate = round2(float64(prevented) / total * 100)
		m.DetectionRate = round2(float64(alerted) / total * 100)
		m.VisibilityRate = round2(float64(visible) / total * 100)
		m.ThreatResilienceScore = round2(weightSum / total * 100)
	}

	if len(detectTimes) > 0 {
		sort.Slice(detectTimes, func(i, j int) bool { return detectTimes[i] < detectTimes[j] })
		var sum int64
		for _, v := range detectTimes {
			sum += v
		}
		avg := round2(float64(sum) / float64(len(detectTimes)))
		med := round2(median(detectTimes))
		minV := detectTimes[0]
		maxV := detectTimes[len(detectTimes)-1]
		m.AvgDetectSeconds = &avg
		m.MedianDetectSeconds = &med
		m.MinDetectSeconds = &minV
		m.MaxDetectSeconds = &maxV
	}
	if investigateCount > 0 {
		avg := round2(float64(investigateSum) / float64(investigateCount))
		m.AvgInvestigateSeconds = &avg
	}

	m.TacticBreakdown = tacticBreakdown(order, byTechnique)
	m.ToolBreakdown = toolBreakdown(rows, weights)
	return m
}

// tacticBreakdown restricts the rate calculations to the techniques
// belonging to each tactic.
func tacticBreakdown(order []int64, byTechnique map[int64]*techniqueScore) map[string]store.RateBreakdown {
	type bucket struct {
		count     int
		prevented int
		alerted   int
		visible   int
		weightSum float64
	}
	buckets := map[string]*bucket{}
	for _, id := range order {
		ts := byTechnique[id]
		tactic := ts.tactic
		if tactic == "" {
			tactic = "unknown"
		}
		b := buckets[tactic]
		if b == nil {
			b = &bucket{}
			buckets[tactic] = b
		}
		b.count++
		b.weightSum += ts.effective
		if ts.blocked() {
			b.prevented++
		}
		if ts.alerted {
			b.alerted++
		}
		if ts.visible {
			b.visible++
		}
	}
	out := map[string]store.RateBreakdown{}
	for tactic, b := range buckets {
		total := float64(b.count)
		out[tactic] = store.RateBreakdown{
			ApplicableCount:       b.count,
			PreventionRate:        round2(float64(b.prevented) / total * 100),
			DetectionRate:         round2(float64(b.alerted) / total * 100),
			VisibilityRate:        round2(float64(b.visible) / total * 100),
			ThreatResilienceScore: round2(b.weightSum / total * 100),
		}
	}
	return out
}

// toolBreakdown applies the same rates to the outcomes belonging to
// each tool; a technique contributes one outcome per tool at most.
func toolBreakdown(rows []store.OutcomeRow, weights WeightTable) map[string]store.RateBreakdown {
	type bucket struct {
		count     int
		prevented int
		alerted   int
		visible   int
		weightSum float64
	}
	buckets := map[string]*bucket{}
	for _, row := range rows {
		w, ok := weights.Weight(row.Outcome)
		if !ok {
			continue
		}
		b := buckets[row.Tool]
		if b == nil {
			b = &bucket{}
			buckets[row.Tool] = b
		}
		b.count++
		b.weightSum += w
		if row.Outcome == store.OutcomeBlocked {
			b.prevented++
		}
		if row.Outcome.Alerted() {
			b.alerted++
		}
		if row.Outcome.Visible() {
			b.visible++
		}
	}
	out := map[string]store.RateBreakdown{}
	for tool, b := range buckets {
		total := float64(b.count)
		out[tool] = store.RateBreakdown{
			ApplicableCount:       b.count,
			PreventionRate:        round2(float64(b.prevented) / total * 100),
			DetectionRate:         round2(float64(b.alerted) / total * 100),
			VisibilityRate:        round2(float64(b.visible) / total * 100),
			ThreatResilienceScore: round2(b.weightSum / total * 100),
		}
	}
	return out
}

func median(sorted []int64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
