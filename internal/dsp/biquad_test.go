// internal/dsp/biquad_test.go
package dsp

import (
	"math"
	"testing"
)

const filterTestSampleRate = 48000.0

// generateSineWave creates a sine wave with the given parameters
func generateSineWave(frequency, sampleRate float64, numSamples int, amplitude float32) []float32 {
	samples := make([]float32, numSamples)
	for i := range samples {
		samples[i] = amplitude * float32(math.Sin(2*math.Pi*frequency*float64(i)/sampleRate))
	}
	return samples
}

// steadyStateRMS filters the signal and measures the RMS of the second half
func steadyStateRMS(fc *FilterChain, in []float32) float64 {
	out := make([]float32, len(in))
	fc.Process(out, in)

	var sum float64
	half := out[len(out)/2:]
	for _, s := range half {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(half)))
}

func createTestFilterChain(t *testing.T) *FilterChain {
	t.Helper()
	fc, err := NewFilterChain(DefaultFilterConfig())
	if err != nil {
		t.Fatalf("Failed to create filter chain: %v", err)
	}
	return fc
}

func TestNewFilterChain_InvalidConfig(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*FilterConfig)
		want   error
	}{
		{"zero sample rate", func(c *FilterConfig) { c.SampleRate = 0 }, ErrInvalidSampleRate},
		{"negative sample rate", func(c *FilterConfig) { c.SampleRate = -1 }, ErrInvalidSampleRate},
		{"negative highpass", func(c *FilterConfig) { c.HighpassHz = -10 }, ErrInvalidCutoff},
		{"negative lowpass", func(c *FilterConfig) { c.LowpassHz = -10 }, ErrInvalidCutoff},
		{"NaN lowpass", func(c *FilterConfig) { c.LowpassHz = math.NaN() }, ErrInvalidCutoff},
		{"zero Q", func(c *FilterConfig) { c.Q = 0 }, ErrInvalidQ},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultFilterConfig()
			tc.modify(&cfg)
			if _, err := NewFilterChain(cfg); err != tc.want {
				t.Errorf("expected %v, got: %v", tc.want, err)
			}
		})
	}
}

func TestFilterChain_Passband(t *testing.T) {
	tests := []struct {
		name      string
		frequency float64
		minGain   float64
		maxGain   float64
	}{
		{"low rumble", 100, 0, 0.05},
		{"band centre", 2000, 0.9, 1.05},
		{"hiss", 15000, 0, 0.15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := createTestFilterChain(t)
			in := generateSineWave(tt.frequency, filterTestSampleRate, 9600, 0.5)

			gain := steadyStateRMS(fc, in) / (0.5 / math.Sqrt2)
			if gain < tt.minGain || gain > tt.maxGain {
				t.Errorf("gain at %v Hz = %.3f, want %.2f-%.2f", tt.frequency, gain, tt.minGain, tt.maxGain)
			}
		})
	}
}

func TestFilterChain_RemovesDC(t *testing.T) {
	fc := createTestFilterChain(t)
	in := make([]float32, 9600)
	for i := range in {
		in[i] = 0.3
	}

	if rms := steadyStateRMS(fc, in); rms > 1e-4 {
		t.Errorf("DC residue RMS = %v, want ~0", rms)
	}
}

func TestFilterChain_Bypass(t *testing.T) {
	cfg := DefaultFilterConfig()
	cfg.HighpassHz = 0
	cfg.LowpassHz = 0
	fc, err := NewFilterChain(cfg)
	if err != nil {
		t.Fatalf("NewFilterChain failed: %v", err)
	}

	in := []float32{0.1, -0.2, 0.3, 1, -1}
	out := make([]float32, len(in))
	fc.Process(out, in)
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("bypassed chain changed sample %d: %v -> %v", i, in[i], out[i])
		}
	}
}

func TestFilterChain_CutoffAboveNyquist(t *testing.T) {
	cfg := DefaultFilterConfig()
	cfg.SampleRate = 8000
	cfg.HighpassHz = 4000
	cfg.LowpassHz = 5000
	fc, err := NewFilterChain(cfg)
	if err != nil {
		t.Fatalf("NewFilterChain failed: %v", err)
	}

	in := generateSineWave(1000, 8000, 4000, 0.5)
	out := make([]float32, len(in))
	fc.Process(out, in)
	for i, s := range out {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) || math.Abs(float64(s)) > 2 {
			t.Fatalf("unstable output %v at sample %d", s, i)
		}
	}
	if !fc.lp.bypass {
		t.Error("low-pass above Nyquist should be bypassed")
	}
}

func TestFilterChain_InPlace(t *testing.T) {
	fcA := createTestFilterChain(t)
	fcB := createTestFilterChain(t)
	in := generateSineWave(1500, filterTestSampleRate, 1024, 0.4)

	out := make([]float32, len(in))
	fcA.Process(out, in)

	inPlace := append([]float32(nil), in...)
	fcB.Process(inPlace, inPlace)

	for i := range out {
		if out[i] != inPlace[i] {
			t.Fatalf("in-place output differs at %d: %v vs %v", i, inPlace[i], out[i])
		}
	}
}

func TestFilterChain_ProcessLengths(t *testing.T) {
	fc := createTestFilterChain(t)

	if n := fc.Process(make([]float32, 4), make([]float32, 10)); n != 4 {
		t.Errorf("Process() = %d, want 4", n)
	}
	if n := fc.Process(make([]float32, 10), make([]float32, 3)); n != 3 {
		t.Errorf("Process() = %d, want 3", n)
	}
	if n := fc.Process(nil, nil); n != 0 {
		t.Errorf("Process() = %d, want 0", n)
	}
}

func TestFilterChain_StatePersistsAcrossBlocks(t *testing.T) {
	whole := createTestFilterChain(t)
	split := createTestFilterChain(t)
	in := generateSineWave(3000, filterTestSampleRate, 1000, 0.5)

	want := make([]float32, len(in))
	whole.Process(want, in)

	got := make([]float32, len(in))
	split.Process(got[:333], in[:333])
	split.Process(got[333:], in[333:])

	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("sample %d differs across block boundary: %v vs %v", i, got[i], want[i])
		}
	}
}

func TestFilterChain_SetCutoffsAppliesAtNextBlock(t *testing.T) {
	fc := createTestFilterChain(t)
	in := generateSineWave(3000, filterTestSampleRate, 9600, 0.5)

	before := steadyStateRMS(fc, in)

	fc.SetLowpass(1000)
	fc.SetHighpass(200)
	fc.SetHighpass(-5) // ignored
	fc.Reset()

	after := steadyStateRMS(fc, in)
	if after > before/2 {
		t.Errorf("RMS at 3 kHz after lowering low-pass: %v, before: %v", after, before)
	}

	cfg := fc.Config()
	if cfg.HighpassHz != 200 || cfg.LowpassHz != 1000 {
		t.Errorf("Config() cutoffs = %v/%v, want 200/1000", cfg.HighpassHz, cfg.LowpassHz)
	}
}

func TestFilterChain_NonFiniteInput(t *testing.T) {
	fc := createTestFilterChain(t)
	in := []float32{float32(math.NaN()), float32(math.Inf(1)), 0.5, -0.5}
	out := make([]float32, len(in))

	fc.Process(out, in)
	for i, s := range out {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			t.Errorf("sample %d = %v, want finite", i, s)
		}
	}
}

func TestFilterChain_ProcessDoesNotAllocate(t *testing.T) {
	fc := createTestFilterChain(t)
	in := generateSineWave(2000, filterTestSampleRate, 512, 0.5)
	out := make([]float32, len(in))

	allocs := testing.AllocsPerRun(100, func() {
		fc.Process(out, in)
	})
	if allocs != 0 {
		t.Errorf("Process() allocates %v times, want 0", allocs)
	}
}
