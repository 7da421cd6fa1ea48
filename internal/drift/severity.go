package drift

import (
	"github.com/claimwatch/claimwatch/internal/config"
	"github.com/claimwatch/claimwatch/internal/model"
)

// Scorer maps a normalized drift magnitude and the dollar amount at stake to
// a severity band. Both inputs contribute monotonically: raising either while
// holding the other fixed never lowers the band.
type Scorer struct {
	magnitudeWeight  float64
	amountWeight     float64
	magnitudeCeiling float64
	amountCeilingUSD float64
}

// NewScorer creates a Scorer from drift config.
func NewScorer(cfg config.DriftConfig) *Scorer {
	return &Scorer{
		magnitudeWeight:  cfg.MagnitudeWeight,
		amountWeight:     cfg.AmountWeight,
		magnitudeCeiling: cfg.MagnitudeCeiling,
		amountCeilingUSD: cfg.AmountCeilingUSD,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Score blends the magnitude and amount components into a single [0,1] score.
func (s *Scorer) Score(magnitude, amountUSD float64) float64 {
	m := clamp01(magnitude / s.magnitudeCeiling)
	a := clamp01(amountUSD / s.amountCeilingUSD)
	return clamp01(s.magnitudeWeight*m + s.amountWeight*a)
}

// Band maps a blended score to a severity via fixed cut points.
func (s *Scorer) Band(score float64) model.Severity {
	switch {
	case score >= 0.75:
		return model.SeverityCritical
	case score >= 0.50:
		return model.SeverityHigh
	case score >= 0.25:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// Severity is Band(Score(...)).
func (s *Scorer) Severity(magnitude, amountUSD float64) model.Severity {
	return s.Band(s.Score(magnitude, amountUSD))
}
