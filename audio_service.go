package main

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// ErrDeviceUnavailable is returned when the input device cannot be opened
// (busy, missing, or permission denied).
var ErrDeviceUnavailable = errors.New("audio: input device unavailable")

// audioBackend abstracts the real PortAudio implementation.
// Allows unit tests to inject a mock without a real microphone.
//
// The onBlock callback is invoked from a driver-owned thread with a block
// the receiver owns (the backend copies out of the driver's transient
// buffer before calling). Stop must not return until the driver has
// quiesced and the callback can no longer fire.
type audioBackend interface {
	Open(sampleRate, channels, blockSize int, device string, onBlock func(block []int16)) error
	Start() error
	Stop() error
	Close() error
}

// realAudioBackend wraps gordonklaus/portaudio for production use.
type realAudioBackend struct {
	stream *portaudio.Stream
}

func (r *realAudioBackend) Open(sampleRate, channels, blockSize int, device string, onBlock func([]int16)) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}

	cb := func(in []int16) {
		// Copy the block — portaudio reuses the buffer after the callback returns.
		block := make([]int16, len(in))
		copy(block, in)
		onBlock(block)
	}

	var (
		stream *portaudio.Stream
		err    error
	)
	if device == "" {
		stream, err = portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), blockSize, cb)
	} else {
		stream, err = openNamedStream(sampleRate, channels, blockSize, device, cb)
	}
	if err != nil {
		portaudio.Terminate() //nolint:errcheck
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	r.stream = stream
	return nil
}

// openNamedStream opens a specific capture device by (substring) name.
func openNamedStream(sampleRate, channels, blockSize int, device string, cb func([]int16)) (*portaudio.Stream, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.MaxInputChannels < channels ||
			!strings.Contains(strings.ToLower(d.Name), strings.ToLower(device)) {
			continue
		}
		params := portaudio.LowLatencyParameters(d, nil)
		params.Input.Channels = channels
		params.SampleRate = float64(sampleRate)
		params.FramesPerBuffer = blockSize
		return portaudio.OpenStream(params, cb)
	}
	return nil, fmt.Errorf("no input device matching %q", device)
}

func (r *realAudioBackend) Start() error {
	if err := r.stream.Start(); err != nil {
		return fmt.Errorf("portaudio start stream: %w", err)
	}
	return nil
}

// Stop blocks until in-flight callbacks complete (portaudio drains the
// stream before returning), satisfying the quiesce guarantee.
func (r *realAudioBackend) Stop() error {
	if r.stream == nil {
		return nil
	}
	if err := r.stream.Stop(); err != nil {
		return fmt.Errorf("portaudio stop stream: %w", err)
	}
	return nil
}

func (r *realAudioBackend) Close() error {
	if r.stream == nil {
		return nil
	}
	err := r.stream.Close()
	r.stream = nil
	portaudio.Terminate() //nolint:errcheck
	return err
}

// AudioService owns the live input device and the per-session recording
// buffer: an append-only list of fixed-size blocks with a single writer
// (the driver callback). The buffer is concatenated and serialized to WAV
// exactly once, on Stop; late callbacks after Stop are dropped, and an
// append after finalization is an invariant violation logged at error level.
type AudioService struct {
	backend     audioBackend
	bus         *EventBus
	sampleRate  int
	device      string
	maxDuration time.Duration

	mu         sync.Mutex
	frames     [][]int16
	recording  bool
	finalized  bool
	warned     bool
	limitFired bool
	startTime  time.Time
	onLimit    func()
}

// NewAudioService creates an AudioService backed by the real PortAudio API.
// device selects the capture device by name substring; empty means default.
func NewAudioService(bus *EventBus, sampleRate int, device string) *AudioService {
	if sampleRate <= 0 {
		sampleRate = audioSampleRate
	}
	return &AudioService{
		backend:     &realAudioBackend{},
		bus:         bus,
		sampleRate:  sampleRate,
		device:      device,
		maxDuration: maxRecordingDuration,
	}
}

// newAudioServiceWithBackend creates an AudioService with an injectable
// backend (tests only).
func newAudioServiceWithBackend(b audioBackend, bus *EventBus) *AudioService {
	return &AudioService{
		backend:     b,
		bus:         bus,
		sampleRate:  audioSampleRate,
		maxDuration: maxRecordingDuration,
	}
}

// Start opens the input device and begins capturing blocks into the session
// buffer. onLimit is invoked exactly once, on its own goroutine, if the
// recording exceeds the maximum duration. Calling Start while already
// recording is a logged no-op, not an error.
func (s *AudioService) Start(onLimit func()) error {
	s.mu.Lock()
	if s.recording {
		s.mu.Unlock()
		logger.Warnw("audio: already recording")
		return nil
	}
	s.frames = nil
	s.finalized = false
	s.warned = false
	s.limitFired = false
	s.onLimit = onLimit
	s.mu.Unlock()

	if err := s.backend.Open(s.sampleRate, audioChannels, audioBlockSize, s.device, s.handleBlock); err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("audio: open: %w", err)
	}
	// The flag goes up before the driver starts: a callback firing while
	// Start is still returning must land in the buffer, not be dropped as
	// a stray.
	s.mu.Lock()
	s.recording = true
	s.startTime = time.Now()
	s.mu.Unlock()

	if err := s.backend.Start(); err != nil {
		s.mu.Lock()
		s.recording = false
		s.mu.Unlock()
		s.backend.Close() //nolint:errcheck
		return fmt.Errorf("audio: start: %w", err)
	}

	logger.Infow("audio: recording started", "rate", s.sampleRate, "device", s.device)
	return nil
}

// handleBlock runs on the driver callback context for every captured block.
func (s *AudioService) handleBlock(block []int16) {
	s.mu.Lock()
	if !s.recording {
		if s.finalized {
			logger.Errorw("audio: block delivered after buffer finalization — driver not quiesced")
		}
		s.mu.Unlock()
		return
	}
	elapsed := time.Since(s.startTime)

	if elapsed >= s.maxDuration {
		// Stopping the device from inside its own callback deadlocks the
		// driver, so the forced stop is dispatched to a fresh goroutine.
		fire := !s.limitFired
		s.limitFired = true
		onLimit := s.onLimit
		s.mu.Unlock()
		if fire && onLimit != nil {
			logger.Warnw("audio: max recording duration reached, forcing stop",
				"limit", s.maxDuration)
			go onLimit()
		}
		return
	}

	if elapsed >= recordingWarningTime && !s.warned {
		s.warned = true
		s.bus.Emit(evtRecordingWarning, map[string]interface{}{
			"elapsed": elapsed.Seconds(),
		})
	}

	s.frames = append(s.frames, block)
	s.mu.Unlock()

	// Advisory loudness telemetry for the UI; not part of the capture contract.
	s.bus.Emit(evtAudioLevel, map[string]interface{}{"level": blockLevel(block)})
}

// Stop closes the device, waits for the driver to quiesce, and finalizes
// the buffer into a WAV container. Returns nil bytes if no blocks were
// captured. Safe to call when not recording (no-op).
func (s *AudioService) Stop() ([]byte, time.Duration, error) {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		logger.Debugw("audio: stop called while not recording")
		return nil, 0, nil
	}
	// Flip the flag first so a callback racing with device shutdown is
	// dropped instead of appended.
	s.recording = false
	start := s.startTime
	s.mu.Unlock()

	if err := s.backend.Stop(); err != nil {
		return nil, 0, fmt.Errorf("audio: stop: %w", err)
	}
	if err := s.backend.Close(); err != nil {
		logger.Warnw("audio: close warning", "err", err)
	}

	// Driver quiesced; finalize with exclusive ownership of the frames.
	s.mu.Lock()
	s.finalized = true
	frames := s.frames
	s.frames = nil
	s.mu.Unlock()

	duration := time.Since(start)
	if len(frames) == 0 {
		logger.Debugw("audio: no blocks captured")
		return nil, duration, nil
	}

	total := 0
	for _, f := range frames {
		total += len(f)
	}
	samples := make([]int16, 0, total)
	for _, f := range frames {
		samples = append(samples, f...)
	}

	logger.Infow("audio: recording stopped",
		"duration", duration.Round(10*time.Millisecond), "blocks", len(frames), "samples", total)
	return encodeWAV(samples, s.sampleRate), duration, nil
}

// LatestBlock returns the most recently captured block, or nil if none have
// arrived yet. Block contents are immutable once appended, so the returned
// slice is safe to read concurrently with capture.
func (s *AudioService) LatestBlock() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// IsRecording reports whether audio capture is currently active.
func (s *AudioService) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Duration returns the elapsed time of the active recording, or zero.
func (s *AudioService) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording {
		return 0
	}
	return time.Since(s.startTime)
}

// SampleRate returns the capture sample rate in Hz.
func (s *AudioService) SampleRate() int {
	return s.sampleRate
}

// blockLevel computes RMS loudness normalized to [0, 1] for UI feedback.
func blockLevel(block []int16) float64 {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, v := range block {
		f := float64(v)
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(block)))
	return math.Min(1.0, rms/32768.0*10.0)
}
