// internal/dsp/envelope.go
package dsp

import "math"

const (
	// noiseFloorMin keeps the noise estimate strictly positive so every
	// threshold and SNR derived from it stays finite.
	noiseFloorMin = 1e-9
	// thresholdOnMin is the lowest burst start threshold ever used.
	thresholdOnMin = 1e-8
)

// teagerEnergy computes the three-tap energy proxy s1² - s2·s0 for the
// window (s2 oldest, s0 current). Negative values, which appear around
// sharp curvature, are clamped to zero.
func teagerEnergy(s2, s1, s0 float64) float64 {
	e := s1*s1 - s2*s0
	if e < 0 {
		return 0
	}
	return e
}

// smoothingCoefficient returns the one-pole feedback coefficient
// exp(-1/(tau·fs)) for a time constant given in milliseconds.
func smoothingCoefficient(tauMs, sampleRate float64) float64 {
	return math.Exp(-1.0 / (tauMs * 0.001 * sampleRate))
}

// dbToLinear converts an amplitude ratio in decibels to a linear factor.
func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// tracker follows the energy signal with two cascaded one-pole smoothers:
// a fast envelope and a slow noise floor driven by the envelope.
type tracker struct {
	envCoeff   float64
	noiseCoeff float64

	envelope float64
	noise    float64
}

func (t *tracker) configure(tauEnvMs, tauNoiseMs, sampleRate float64) {
	t.envCoeff = smoothingCoefficient(tauEnvMs, sampleRate)
	t.noiseCoeff = smoothingCoefficient(tauNoiseMs, sampleRate)
}

func (t *tracker) reset() {
	t.envelope = 0
	t.noise = noiseFloorMin
}

// update feeds one energy sample through both smoothers.
func (t *tracker) update(e float64) {
	t.envelope += (1 - t.envCoeff) * (e - t.envelope)
	t.noise += (1 - t.noiseCoeff) * (t.envelope - t.noise)
	if t.noise < noiseFloorMin {
		t.noise = noiseFloorMin
	}
}

// settle is update with the noise floor following the envelope at the
// fast rate, so a warmup brings it to the ambient level within a few
// envelope time constants instead of the slow noise one.
func (t *tracker) settle(e float64) {
	t.envelope += (1 - t.envCoeff) * (e - t.envelope)
	t.noise += (1 - t.envCoeff) * (t.envelope - t.noise)
	if t.noise < noiseFloorMin {
		t.noise = noiseFloorMin
	}
}

// thresholds returns the burst start and end thresholds for the current
// noise floor. hysteresis > 1 keeps off strictly below on.
func (t *tracker) thresholds(minSNR, hysteresis float64) (on, off float64) {
	on = math.Max(t.noise*minSNR, thresholdOnMin)
	return on, on / hysteresis
}
