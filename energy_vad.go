package main

import "math"

// energySpeechRMS is the normalized RMS level mapped to probability 1.0.
// Tuned for close-mic dictation; quiet rooms sit well under 0.005.
const energySpeechRMS = 0.03

// energyScorer is a model-free fallback detector based on RMS loudness.
// Useful on machines without an onnxruntime shared library; noticeably
// worse than silero at rejecting keyboard noise.
type energyScorer struct{}

func newEnergyScorer() *energyScorer { return &energyScorer{} }

func (e *energyScorer) Load() error {
	logger.Infow("vad: using energy detector")
	return nil
}

func (e *energyScorer) Score(window []float32) (float64, error) {
	if len(window) == 0 {
		return 0, nil
	}
	var sum float64
	for _, v := range window {
		sum += float64(v) * float64(v)
	}
	rms := math.Sqrt(sum / float64(len(window)))
	return math.Min(1.0, rms/energySpeechRMS), nil
}

func (e *energyScorer) ResetState() {}

func (e *energyScorer) Close() error { return nil }
