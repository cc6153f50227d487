// internal/dsp/gate.go
package dsp

import "math"

const (
	// minPeriodsForPrediction is how many periods the periodicity gate and
	// the rhythm part of the confidence need before they engage.
	minPeriodsForPrediction = 3
	// relockFactor accepts any candidate arriving after this many expected
	// periods, so a missed beat or a silence cannot lock the gate out.
	relockFactor = 2.5

	snrWeight    = 0.6
	rhythmWeight = 0.4
)

// prediction is the rhythm context of one candidate, shared between the
// periodicity gate and the confidence score.
type prediction struct {
	active    bool
	expected  float64 // median period
	tolerance float64
	since     float64 // time since the last accepted tick
}

// gate applies the echo, cooldown and periodicity gates in order. The first
// failing gate drops the candidate.
func (d *TickDetector) gate(candidate float64) (prediction, bool) {
	var p prediction

	if d.hasAccepted {
		if (candidate-d.lastPostedTime)*1000 < d.config.EchoGateMs {
			d.stats.EchoRejected++
			return p, false
		}
		if (candidate-d.lastAcceptedTime)*1000 < d.config.CooldownMs {
			d.stats.CooldownRejected++
			return p, false
		}
	}

	if d.periods.Len() < minPeriodsForPrediction {
		return p, true
	}

	p.active = true
	p.expected = d.periods.Median()
	p.tolerance = d.config.PredictionTolerance * p.expected
	p.since = candidate - d.lastAcceptedTime

	if math.Abs(p.since-p.expected) <= p.tolerance {
		return p, true
	}
	if p.since > relockFactor*p.expected {
		d.stats.Relocks++
		return p, true
	}
	d.stats.RhythmRejected++
	return p, false
}

// accept records an accepted candidate and its period.
func (d *TickDetector) accept(candidate float64) {
	if d.hasAccepted {
		d.periods.Push(candidate - d.lastAcceptedTime)
	}
	d.hasAccepted = true
	d.lastAcceptedTime = candidate
	d.lastPostedTime = candidate
	d.stats.Accepted++
}

// confidence scores an accepted candidate from the burst SNR and, once the
// rhythm is established, from how close it landed to the expected period.
func (d *TickDetector) confidence(p prediction) float64 {
	snr := d.burstPeak / math.Max(d.tracker.noise, noiseFloorMin)
	base := clamp(math.Log10(1+snr)/2, 0, 1)
	if !p.active {
		return base
	}

	prox := 1 - math.Min(1, math.Abs(p.since-p.expected)/(p.tolerance+1e-9))
	return clamp(snrWeight*base+rhythmWeight*prox, 0, 1)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
