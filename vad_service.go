package main

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrModelUnavailable is returned when the speech-scoring model cannot be
// acquired. Fatal to starting a session until a later load succeeds.
var ErrModelUnavailable = errors.New("vad: scoring model unavailable")

// vadScorer turns one fixed-size analysis window of normalized samples into
// a speech probability. Implementations keep whatever recurrent state their
// model needs between windows; ResetState zeroes it.
type vadScorer interface {
	Load() error
	Score(window []float32) (float64, error)
	ResetState()
	Close() error
}

// newVADScorer maps a config tag to a concrete scorer. Unknown tags fall
// back to silero with a warning so a typo in config.yaml degrades loudly
// instead of failing startup.
func newVADScorer(tag, modelPath string) vadScorer {
	switch tag {
	case "", "silero":
		return newSileroScorer(modelPath)
	case "energy":
		return newEnergyScorer()
	default:
		logger.Warnw("vad: unknown detector tag, using silero", "tag", tag)
		return newSileroScorer(modelPath)
	}
}

// VADService maintains the per-session speech/silence timeline and the
// auto-stop decision. All timing state has a single writer — the silence
// monitor loop — and is never touched from the audio callback context.
type VADService struct {
	scorer     vadScorer
	sampleRate int
	threshold  float64
	minSpeech  time.Duration
	silence    time.Duration

	// now is swapped for a fake clock in tests.
	now func() time.Time

	mu             sync.Mutex
	loaded         bool
	speechDetected bool
	speechStart    time.Time
	lastSpeech     time.Time
}

// NewVADService builds a detector for the given capture rate. Only 16kHz
// capture is supported: the analysis window size and the model are both
// fixed to it, and resampling here would hide a misconfigured device.
func NewVADService(tag, modelPath string, sampleRate int, threshold float64, silence, minSpeech time.Duration) (*VADService, error) {
	if sampleRate != audioSampleRate {
		return nil, fmt.Errorf("vad: unsupported sample rate %d (detector requires %d)", sampleRate, audioSampleRate)
	}
	if threshold <= 0 || threshold > 1 {
		threshold = vadThreshold
	}
	return &VADService{
		scorer:     newVADScorer(tag, modelPath),
		sampleRate: sampleRate,
		threshold:  threshold,
		minSpeech:  minSpeech,
		silence:    silence,
		now:        time.Now,
	}, nil
}

// newVADServiceWithScorer builds a detector around an injected scorer
// (tests only).
func newVADServiceWithScorer(s vadScorer, threshold float64, silence, minSpeech time.Duration) *VADService {
	return &VADService{
		scorer:     s,
		sampleRate: audioSampleRate,
		threshold:  threshold,
		minSpeech:  minSpeech,
		silence:    silence,
		now:        time.Now,
	}
}

// Load acquires the scoring model. Idempotent.
func (v *VADService) Load() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.loaded {
		return nil
	}
	if err := v.scorer.Load(); err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	v.loaded = true
	return nil
}

// Reset zeroes all per-session state, including the scorer's recurrent
// hidden state. Required before every session — stale state from a prior
// utterance skews the next one's probabilities.
func (v *VADService) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.speechDetected = false
	v.speechStart = time.Time{}
	v.lastSpeech = time.Time{}
	v.scorer.ResetState()
}

// Score converts one capture block into a speech probability. The block is
// split into fixed analysis windows; a final partial window is zero-padded.
// When a block spans multiple windows only the last window's probability is
// returned — sub-block granularity is an accepted loss.
func (v *VADService) Score(block []int16) (float64, error) {
	if len(block) == 0 {
		return 0, nil
	}
	samples := pcmToFloat32(block)

	var prob float64
	for off := 0; off < len(samples); off += vadWindowSamples {
		end := off + vadWindowSamples
		window := make([]float32, vadWindowSamples)
		if end > len(samples) {
			copy(window, samples[off:])
		} else {
			copy(window, samples[off:end])
		}
		p, err := v.scorer.Score(window)
		if err != nil {
			return 0, fmt.Errorf("vad: score: %w", err)
		}
		prob = p
	}
	return prob, nil
}

// IsSpeech scores a block and updates the speech timeline: first positive
// detection records the onset, every positive detection refreshes the last
// speech time. Sub-threshold blocks never clear speechDetected — silence
// does not erase the fact that speech occurred.
func (v *VADService) IsSpeech(block []int16) (bool, error) {
	prob, err := v.Score(block)
	if err != nil {
		return false, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if prob < v.threshold {
		return false, nil
	}
	t := v.now()
	if !v.speechDetected {
		v.speechDetected = true
		v.speechStart = t
	}
	v.lastSpeech = t
	return true, nil
}

// ShouldStop reports whether the session should auto-stop: speech occurred,
// lasted at least the minimum duration, and has been followed by enough
// silence. Pure read of state plus the clock; safe to poll repeatedly.
func (v *VADService) ShouldStop() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.speechDetected {
		return false
	}
	if v.lastSpeech.Sub(v.speechStart) < v.minSpeech {
		return false
	}
	return v.now().Sub(v.lastSpeech) >= v.silence
}

// SpeechDetected reports whether any speech was observed this session.
func (v *VADService) SpeechDetected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.speechDetected
}

// Close releases the scoring model.
func (v *VADService) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.loaded = false
	return v.scorer.Close()
}
