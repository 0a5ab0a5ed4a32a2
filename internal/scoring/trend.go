package scoring

import (
	"math"

	"github.com/thebtf/learnlog/pkg/models"
)

// DefaultTrendMinSamples is the smallest series ClassifyTrend will judge.
const DefaultTrendMinSamples = 6

// TrendThreshold is the mean difference beyond which a series is no longer
// stable.
const TrendThreshold = 0.2

// trendPrecision removes float noise so that a difference of exactly
// ±TrendThreshold classifies as stable.
const trendPrecision = 1e6

// TrendSummary explains a trend classification.
type TrendSummary struct {
	Trend      models.Trend `json:"trend"`
	Samples    int          `json:"samples"`
	OlderMean  float64      `json:"older_mean"`
	NewerMean  float64      `json:"newer_mean"`
	Difference float64      `json:"difference"`
}

// ClassifyTrend classifies a chronologically ordered (oldest first) series.
//
// The series is split into an older half and a newer half; with an odd
// length the extra sample goes to the older half. The newer mean minus the
// older mean above 0.2 is improving, below -0.2 declining, anything else
// stable. Series shorter than minSamples are insufficient_data. A
// non-positive minSamples uses DefaultTrendMinSamples.
func ClassifyTrend(samples []float64, minSamples int) models.Trend {
	return SummarizeTrend(samples, minSamples).Trend
}

// SummarizeTrend is ClassifyTrend with the intermediate means.
func SummarizeTrend(samples []float64, minSamples int) TrendSummary {
	if minSamples <= 0 {
		minSamples = DefaultTrendMinSamples
	}
	// Two halves need at least one sample each.
	minSamples = max(minSamples, 2)

	summary := TrendSummary{Samples: len(samples)}
	if len(samples) < minSamples {
		summary.Trend = models.TrendInsufficientData
		return summary
	}

	newerLen := len(samples) / 2
	older := samples[:len(samples)-newerLen]
	newer := samples[len(samples)-newerLen:]

	summary.OlderMean = mean(older)
	summary.NewerMean = mean(newer)
	summary.Difference = math.Round((summary.NewerMean-summary.OlderMean)*trendPrecision) / trendPrecision

	switch {
	case summary.Difference > TrendThreshold:
		summary.Trend = models.TrendImproving
	case summary.Difference < -TrendThreshold:
		summary.Trend = models.TrendDeclining
	default:
		summary.Trend = models.TrendStable
	}
	return summary
}

// TrendCounts tallies classifications across several series.
type TrendCounts struct {
	Improving        int `json:"improving"`
	Declining        int `json:"declining"`
	Stable           int `json:"stable"`
	InsufficientData int `json:"insufficient_data"`
}

// Add records one classification.
func (c *TrendCounts) Add(t models.Trend) {
	switch t {
	case models.TrendImproving:
		c.Improving++
	case models.TrendDeclining:
		c.Declining++
	case models.TrendStable:
		c.Stable++
	default:
		c.InsufficientData++
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
