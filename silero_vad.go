package main

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Silero v5 session geometry at 16kHz: one 512-sample window in, one
// probability out, with a recurrent [2,1,128] state tensor fed back between
// windows.
const (
	sileroStateLayers = 2
	sileroStateDim    = 128
)

var ortInitOnce sync.Once

// sileroScorer runs the Silero VAD ONNX model through onnxruntime.
type sileroScorer struct {
	modelPath string

	session  *ort.AdvancedSession
	input    *ort.Tensor[float32]
	state    *ort.Tensor[float32]
	sr       *ort.Tensor[int64]
	output   *ort.Tensor[float32]
	stateOut *ort.Tensor[float32]
}

func newSileroScorer(modelPath string) *sileroScorer {
	return &sileroScorer{modelPath: modelPath}
}

func (s *sileroScorer) Load() error {
	if s.session != nil {
		return nil
	}
	if _, err := os.Stat(s.modelPath); err != nil {
		return fmt.Errorf("model file %s: %w", s.modelPath, err)
	}

	var initErr error
	ortInitOnce.Do(func() {
		if lib := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY"); lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return fmt.Errorf("onnxruntime init: %w", initErr)
	}

	var err error
	s.input, err = ort.NewTensor(ort.NewShape(1, vadWindowSamples), make([]float32, vadWindowSamples))
	if err != nil {
		return fmt.Errorf("input tensor: %w", err)
	}
	s.state, err = ort.NewTensor(ort.NewShape(sileroStateLayers, 1, sileroStateDim),
		make([]float32, sileroStateLayers*sileroStateDim))
	if err != nil {
		s.destroyTensors()
		return fmt.Errorf("state tensor: %w", err)
	}
	s.sr, err = ort.NewTensor(ort.NewShape(1), []int64{audioSampleRate})
	if err != nil {
		s.destroyTensors()
		return fmt.Errorf("sr tensor: %w", err)
	}
	s.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		s.destroyTensors()
		return fmt.Errorf("output tensor: %w", err)
	}
	s.stateOut, err = ort.NewEmptyTensor[float32](ort.NewShape(sileroStateLayers, 1, sileroStateDim))
	if err != nil {
		s.destroyTensors()
		return fmt.Errorf("state output tensor: %w", err)
	}

	s.session, err = ort.NewAdvancedSession(s.modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{s.input, s.state, s.sr},
		[]ort.Value{s.output, s.stateOut},
		nil)
	if err != nil {
		s.destroyTensors()
		return fmt.Errorf("session: %w", err)
	}

	logger.Infow("vad: silero model loaded", "path", s.modelPath)
	return nil
}

func (s *sileroScorer) Score(window []float32) (float64, error) {
	if s.session == nil {
		return 0, fmt.Errorf("model not loaded")
	}
	if len(window) != vadWindowSamples {
		return 0, fmt.Errorf("window size %d, want %d", len(window), vadWindowSamples)
	}

	copy(s.input.GetData(), window)
	if err := s.session.Run(); err != nil {
		return 0, fmt.Errorf("inference: %w", err)
	}
	// Feed the recurrent state back for the next window.
	copy(s.state.GetData(), s.stateOut.GetData())

	return float64(s.output.GetData()[0]), nil
}

func (s *sileroScorer) ResetState() {
	if s.state == nil {
		return
	}
	data := s.state.GetData()
	for i := range data {
		data[i] = 0
	}
}

func (s *sileroScorer) Close() error {
	if s.session != nil {
		s.session.Destroy() //nolint:errcheck
		s.session = nil
	}
	s.destroyTensors()
	return nil
}

func (s *sileroScorer) destroyTensors() {
	if s.input != nil {
		s.input.Destroy() //nolint:errcheck
	}
	if s.state != nil {
		s.state.Destroy() //nolint:errcheck
	}
	if s.sr != nil {
		s.sr.Destroy() //nolint:errcheck
	}
	if s.output != nil {
		s.output.Destroy() //nolint:errcheck
	}
	if s.stateOut != nil {
		s.stateOut.Destroy() //nolint:errcheck
	}
	s.input, s.state, s.output, s.stateOut = nil, nil, nil, nil
	s.sr = nil
}
