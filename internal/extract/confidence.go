package extract

import (
	"math"
	"strings"

	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/model"
)

// temperatureScale is the fixed scalar for temperature calibration. Raw model
// confidences run hot; dividing logit-space by this pulls them toward the
// observed accuracy band.
const temperatureScale = 1.3

// CalibrateConfidence adjusts the model-reported confidence of a draft using
// the configured method, then clamps to [0,1].
func CalibrateConfidence(d *model.Decision, method config.CalibrationMethod) {
	switch method {
	case config.CalibrationTemperature:
		d.Confidence = temperatureCalibrated(d.Confidence)
	case config.CalibrationComposite:
		h := heuristicScore(*d)
		t := temperatureCalibrated(d.Confidence)
		d.Confidence = 0.5*t + 0.5*h
	default: // heuristic
		d.Confidence = 0.6*d.Confidence + 0.4*heuristicScore(*d)
	}
	d.ClampConfidence()
}

// temperatureCalibrated applies fixed-scalar temperature scaling in odds space.
func temperatureCalibrated(c float64) float64 {
	if c <= 0 {
		return 0
	}
	if c >= 1 {
		return 1
	}
	odds := c / (1 - c)
	scaled := math.Pow(odds, 1/temperatureScale)
	return scaled / (1 + scaled)
}

// heuristicScore rates draft completeness: length of the decision statement,
// presence of rationale, explicit options, and context all add signal.
func heuristicScore(d model.Decision) float64 {
	score := 0.2
	if len(strings.Fields(d.AgentDecision)) >= 4 {
		score += 0.2
	}
	if strings.TrimSpace(d.AgentRationale) != "" {
		score += 0.25
	}
	if len(d.Options) >= 2 {
		score += 0.2
	}
	if strings.TrimSpace(d.Context) != "" {
		score += 0.15
	}
	if score > 1 {
		score = 1
	}
	return score
}
