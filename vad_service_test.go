package main

import (
	"errors"
	"testing"
	"time"
)

// scriptedScorer returns a fixed probability per call and records the
// windows it was asked to score.
type scriptedScorer struct {
	probs   []float64
	calls   int
	windows [][]float32
	resets  int
	loadErr error
}

func (s *scriptedScorer) Load() error { return s.loadErr }

func (s *scriptedScorer) Score(window []float32) (float64, error) {
	w := make([]float32, len(window))
	copy(w, window)
	s.windows = append(s.windows, w)
	p := 0.0
	if s.calls < len(s.probs) {
		p = s.probs[s.calls]
	} else if len(s.probs) > 0 {
		p = s.probs[len(s.probs)-1]
	}
	s.calls++
	return p, nil
}

func (s *scriptedScorer) ResetState()  { s.resets++ }
func (s *scriptedScorer) Close() error { return nil }

// fakeClock lets tests drive the detector's notion of wall-clock time.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestVAD(s vadScorer, clock *fakeClock) *VADService {
	v := newVADServiceWithScorer(s, vadThreshold, vadSilenceDuration, vadMinSpeechDuration)
	v.now = clock.now
	return v
}

func speechBlock() []int16 {
	b := make([]int16, vadWindowSamples)
	for i := range b {
		b[i] = 8000
	}
	return b
}

func TestVADLoadFailureIsModelUnavailable(t *testing.T) {
	v := newVADServiceWithScorer(&scriptedScorer{loadErr: errors.New("download failed")}, 0.5, time.Second, 0)
	err := v.Load()
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestVADResetClearsSessionState(t *testing.T) {
	scorer := &scriptedScorer{probs: []float64{0.9}}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	v := newTestVAD(scorer, clock)

	if _, err := v.IsSpeech(speechBlock()); err != nil {
		t.Fatal(err)
	}
	if !v.SpeechDetected() {
		t.Fatal("expected speech detected before reset")
	}

	v.Reset()

	if v.SpeechDetected() {
		t.Error("speech flag survived reset")
	}
	if v.ShouldStop() {
		t.Error("shouldStop true immediately after reset")
	}
	if scorer.resets != 1 {
		t.Errorf("scorer state resets = %d, want 1", scorer.resets)
	}
}

func TestVADShouldStopFalseWithoutSpeech(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	v := newTestVAD(&scriptedScorer{probs: []float64{0.1}}, clock)

	// Minutes of sub-threshold audio must never trigger a stop.
	for i := 0; i < 50; i++ {
		if _, err := v.IsSpeech(speechBlock()); err != nil {
			t.Fatal(err)
		}
		clock.advance(5 * time.Second)
		if v.ShouldStop() {
			t.Fatalf("shouldStop true at iteration %d with no speech ever detected", i)
		}
	}
}

func TestVADThresholdBoundary(t *testing.T) {
	tests := []struct {
		name   string
		prob   float64
		speech bool
	}{
		{"well below", 0.2, false},
		{"just below", 0.4999, false},
		{"exactly at", 0.5, true},
		{"above", 0.8, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{t: time.Unix(1000, 0)}
			v := newTestVAD(&scriptedScorer{probs: []float64{tt.prob}}, clock)
			got, err := v.IsSpeech(speechBlock())
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.speech {
				t.Errorf("IsSpeech at prob %v = %v, want %v", tt.prob, got, tt.speech)
			}
		})
	}
}

func TestVADSilenceDoesNotClearSpeechFlag(t *testing.T) {
	scorer := &scriptedScorer{probs: []float64{0.9, 0.1, 0.1}}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	v := newTestVAD(scorer, clock)

	if _, err := v.IsSpeech(speechBlock()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		clock.advance(time.Second)
		if _, err := v.IsSpeech(speechBlock()); err != nil {
			t.Fatal(err)
		}
	}
	if !v.SpeechDetected() {
		t.Error("silence cleared the speech flag")
	}
}

func TestVADMinSpeechFiltersShortBursts(t *testing.T) {
	// A single instantaneous click: onset and last-speech coincide, so the
	// observed speech duration is zero and auto-stop must stay off no
	// matter how long the silence runs.
	scorer := &scriptedScorer{probs: []float64{0.9, 0.1}}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	v := newTestVAD(scorer, clock)

	if _, err := v.IsSpeech(speechBlock()); err != nil {
		t.Fatal(err)
	}
	clock.advance(10 * time.Second)
	if v.ShouldStop() {
		t.Error("click shorter than minimum speech duration triggered auto-stop")
	}
}

func TestVADAutoStopAfterSpeechThenSilence(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	scorer := &scriptedScorer{}
	v := newTestVAD(scorer, clock)

	// 500ms of speech across positive detections.
	scorer.probs = []float64{0.9}
	for i := 0; i < 6; i++ {
		if _, err := v.IsSpeech(speechBlock()); err != nil {
			t.Fatal(err)
		}
		clock.advance(100 * time.Millisecond)
	}
	if v.ShouldStop() {
		t.Fatal("shouldStop true while speech is ongoing")
	}

	// Silence accumulates; stop fires only once it reaches the configured
	// duration.
	clock.advance(vadSilenceDuration - 200*time.Millisecond)
	if v.ShouldStop() {
		t.Fatal("shouldStop fired before silence duration elapsed")
	}
	clock.advance(300 * time.Millisecond)
	if !v.ShouldStop() {
		t.Fatal("shouldStop did not fire after sustained silence")
	}
	// Pure function of state and clock: repeat calls agree.
	if !v.ShouldStop() {
		t.Fatal("shouldStop not stable across repeated polls")
	}
}

func TestVADSpeechResumptionResetsSilenceTimer(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	scorer := &scriptedScorer{probs: []float64{0.9}}
	v := newTestVAD(scorer, clock)

	for i := 0; i < 6; i++ {
		if _, err := v.IsSpeech(speechBlock()); err != nil {
			t.Fatal(err)
		}
		clock.advance(100 * time.Millisecond)
	}

	// Nearly enough silence, then speech resumes.
	clock.advance(vadSilenceDuration - 100*time.Millisecond)
	if _, err := v.IsSpeech(speechBlock()); err != nil {
		t.Fatal(err)
	}
	clock.advance(vadSilenceDuration / 2)
	if v.ShouldStop() {
		t.Error("resumed speech did not reset the silence timer")
	}
}

func TestVADBlockSplitIntoAnalysisWindows(t *testing.T) {
	scorer := &scriptedScorer{probs: []float64{0.3, 0.8}}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	v := newTestVAD(scorer, clock)

	// A 1024-sample capture block spans two 512-sample windows; only the
	// last window's probability is reported.
	block := make([]int16, audioBlockSize)
	prob, err := v.Score(block)
	if err != nil {
		t.Fatal(err)
	}
	if scorer.calls != 2 {
		t.Errorf("scorer calls = %d, want 2", scorer.calls)
	}
	if prob != 0.8 {
		t.Errorf("prob = %v, want last window's 0.8", prob)
	}
	for i, w := range scorer.windows {
		if len(w) != vadWindowSamples {
			t.Errorf("window %d length = %d, want %d", i, len(w), vadWindowSamples)
		}
	}
}

func TestVADPartialWindowZeroPadded(t *testing.T) {
	scorer := &scriptedScorer{probs: []float64{0.5}}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	v := newTestVAD(scorer, clock)

	block := make([]int16, 300)
	for i := range block {
		block[i] = 1000
	}
	if _, err := v.Score(block); err != nil {
		t.Fatal(err)
	}
	if scorer.calls != 1 {
		t.Fatalf("scorer calls = %d, want 1", scorer.calls)
	}
	w := scorer.windows[0]
	if len(w) != vadWindowSamples {
		t.Fatalf("padded window length = %d, want %d", len(w), vadWindowSamples)
	}
	for i := 300; i < vadWindowSamples; i++ {
		if w[i] != 0 {
			t.Fatalf("sample %d = %v, want zero padding", i, w[i])
		}
	}
}

func TestVADEmptyBlockScoresZero(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	v := newTestVAD(&scriptedScorer{probs: []float64{0.9}}, clock)
	prob, err := v.Score(nil)
	if err != nil {
		t.Fatal(err)
	}
	if prob != 0 {
		t.Errorf("prob = %v, want 0 for empty block", prob)
	}
}

func TestVADRejectsUnsupportedSampleRate(t *testing.T) {
	_, err := NewVADService("energy", "", 44100, 0.5, vadSilenceDuration, vadMinSpeechDuration)
	if err == nil {
		t.Fatal("expected error for 44.1kHz capture rate")
	}
}

func TestEnergyScorerLevels(t *testing.T) {
	e := newEnergyScorer()

	silent := make([]float32, vadWindowSamples)
	p, err := e.Score(silent)
	if err != nil {
		t.Fatal(err)
	}
	if p != 0 {
		t.Errorf("silent window prob = %v, want 0", p)
	}

	loud := make([]float32, vadWindowSamples)
	for i := range loud {
		loud[i] = 0.25
	}
	p, err = e.Score(loud)
	if err != nil {
		t.Fatal(err)
	}
	if p != 1.0 {
		t.Errorf("loud window prob = %v, want clamped 1.0", p)
	}
}
