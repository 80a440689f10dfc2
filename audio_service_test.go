package main

import (
	"errors"
	"testing"
	"time"
)

// mockAudioBackend records lifecycle calls and lets tests push blocks as if
// they came from the driver.
type mockAudioBackend struct {
	opened, started, stopped, closed bool
	openErr, startErr                error
	onBlock                          func([]int16)
}

func (m *mockAudioBackend) Open(sampleRate, channels, blockSize int, device string, onBlock func([]int16)) error {
	if m.openErr != nil {
		return m.openErr
	}
	m.opened = true
	m.onBlock = onBlock
	return nil
}

func (m *mockAudioBackend) Start() error {
	if m.startErr != nil {
		return m.startErr
	}
	m.started = true
	return nil
}

func (m *mockAudioBackend) Stop() error {
	m.stopped = true
	return nil
}

func (m *mockAudioBackend) Close() error {
	m.closed = true
	return nil
}

func (m *mockAudioBackend) push(block []int16) {
	m.onBlock(block)
}

func constantBlock(n int, v int16) []int16 {
	b := make([]int16, n)
	for i := range b {
		b[i] = v
	}
	return b
}

func TestAudioOpenFailureAbortsStart(t *testing.T) {
	backend := &mockAudioBackend{openErr: ErrDeviceUnavailable}
	s := newAudioServiceWithBackend(backend, NewEventBus())

	err := s.Start(nil)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if s.IsRecording() {
		t.Error("recording flag set after failed open")
	}
}

func TestAudioStartFailureClosesBackend(t *testing.T) {
	backend := &mockAudioBackend{startErr: errors.New("stream start failed")}
	s := newAudioServiceWithBackend(backend, NewEventBus())

	if err := s.Start(nil); err == nil {
		t.Fatal("expected error from failing backend start")
	}
	if !backend.closed {
		t.Error("backend not closed after failed start")
	}
	if s.IsRecording() {
		t.Error("recording flag left set after failed start")
	}
}

// eagerStartBackend delivers a block from inside Start, like a driver whose
// callback fires before Start has returned to the caller.
type eagerStartBackend struct {
	mockAudioBackend
	block []int16
}

func (e *eagerStartBackend) Start() error {
	e.onBlock(e.block)
	return e.mockAudioBackend.Start()
}

func TestAudioBlockDuringStartIsKept(t *testing.T) {
	backend := &eagerStartBackend{block: constantBlock(audioBlockSize, 7)}
	s := newAudioServiceWithBackend(backend, NewEventBus())

	if err := s.Start(nil); err != nil {
		t.Fatal(err)
	}
	wav, _, err := s.Stop()
	if err != nil {
		t.Fatal(err)
	}
	info, err := decodeWAV(wav)
	if err != nil {
		t.Fatalf("leading block was dropped: %v", err)
	}
	if len(info.Samples) != audioBlockSize || info.Samples[0] != 7 {
		t.Errorf("samples = %d first = %d, want %d/%d",
			len(info.Samples), info.Samples[0], audioBlockSize, 7)
	}
}

func TestAudioCaptureStopRoundTrip(t *testing.T) {
	backend := &mockAudioBackend{}
	s := newAudioServiceWithBackend(backend, NewEventBus())

	if err := s.Start(nil); err != nil {
		t.Fatal(err)
	}
	if !s.IsRecording() {
		t.Fatal("not recording after start")
	}

	backend.push(constantBlock(audioBlockSize, 100))
	backend.push(constantBlock(audioBlockSize, 200))
	backend.push(constantBlock(audioBlockSize, 300))

	wav, _, err := s.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if !backend.stopped || !backend.closed {
		t.Error("backend not stopped and closed")
	}

	info, err := decodeWAV(wav)
	if err != nil {
		t.Fatalf("stop produced invalid WAV: %v", err)
	}
	if info.SampleRate != audioSampleRate || info.Channels != 1 || info.BitDepth != 16 {
		t.Errorf("wav format = %dHz/%dch/%dbit", info.SampleRate, info.Channels, info.BitDepth)
	}
	if len(info.Samples) != 3*audioBlockSize {
		t.Errorf("samples = %d, want %d", len(info.Samples), 3*audioBlockSize)
	}
	if info.Samples[0] != 100 || info.Samples[audioBlockSize] != 200 || info.Samples[2*audioBlockSize] != 300 {
		t.Error("blocks concatenated out of order")
	}
}

func TestAudioStopWithoutStartIsNoop(t *testing.T) {
	s := newAudioServiceWithBackend(&mockAudioBackend{}, NewEventBus())
	wav, dur, err := s.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if wav != nil || dur != 0 {
		t.Errorf("stop without start returned (%d bytes, %v)", len(wav), dur)
	}
}

func TestAudioDoubleStartIsNoop(t *testing.T) {
	backend := &mockAudioBackend{}
	s := newAudioServiceWithBackend(backend, NewEventBus())

	if err := s.Start(nil); err != nil {
		t.Fatal(err)
	}
	backend.push(constantBlock(audioBlockSize, 42))

	// Second start must not reset the session buffer.
	if err := s.Start(nil); err != nil {
		t.Fatal(err)
	}
	wav, _, err := s.Stop()
	if err != nil {
		t.Fatal(err)
	}
	info, err := decodeWAV(wav)
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Samples) != audioBlockSize {
		t.Errorf("samples = %d, want %d (buffer reset by re-entrant start?)", len(info.Samples), audioBlockSize)
	}
}

func TestAudioEmptyCaptureReturnsNil(t *testing.T) {
	s := newAudioServiceWithBackend(&mockAudioBackend{}, NewEventBus())
	if err := s.Start(nil); err != nil {
		t.Fatal(err)
	}
	wav, _, err := s.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if wav != nil {
		t.Errorf("expected nil WAV for zero captured blocks, got %d bytes", len(wav))
	}
}

func TestAudioLateBlockAfterStopDropped(t *testing.T) {
	backend := &mockAudioBackend{}
	s := newAudioServiceWithBackend(backend, NewEventBus())

	if err := s.Start(nil); err != nil {
		t.Fatal(err)
	}
	backend.push(constantBlock(audioBlockSize, 1))
	if _, _, err := s.Stop(); err != nil {
		t.Fatal(err)
	}

	// A callback racing past Stop must be dropped, not appended.
	backend.push(constantBlock(audioBlockSize, 2))
	if got := s.LatestBlock(); got != nil {
		t.Errorf("late block was appended to a finalized buffer")
	}
}

func TestAudioDurationGuardFiresOnce(t *testing.T) {
	backend := &mockAudioBackend{}
	limit := make(chan struct{}, 4)
	s := newAudioServiceWithBackend(backend, NewEventBus())

	if err := s.Start(func() { limit <- struct{}{} }); err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	s.startTime = time.Now().Add(-maxRecordingDuration - time.Second)
	s.mu.Unlock()

	before := s.LatestBlock()
	backend.push(constantBlock(audioBlockSize, 5))
	backend.push(constantBlock(audioBlockSize, 5))

	select {
	case <-limit:
	case <-time.After(time.Second):
		t.Fatal("duration guard did not fire")
	}
	select {
	case <-limit:
		t.Fatal("duration guard fired more than once")
	case <-time.After(50 * time.Millisecond):
	}
	if got := s.LatestBlock(); len(got) != len(before) {
		t.Error("over-limit block was appended to the buffer")
	}
}

func TestAudioWarningEventEmittedOnce(t *testing.T) {
	backend := &mockAudioBackend{}
	bus := NewEventBus()
	warnings := 0
	bus.On(evtRecordingWarning, func(Event) { warnings++ })

	s := newAudioServiceWithBackend(backend, bus)
	if err := s.Start(nil); err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	s.startTime = time.Now().Add(-recordingWarningTime - time.Second)
	s.mu.Unlock()

	backend.push(constantBlock(audioBlockSize, 5))
	backend.push(constantBlock(audioBlockSize, 5))

	if warnings != 1 {
		t.Errorf("warning events = %d, want exactly 1", warnings)
	}
}

func TestAudioLevelTelemetry(t *testing.T) {
	backend := &mockAudioBackend{}
	bus := NewEventBus()
	var levels []float64
	bus.On(evtAudioLevel, func(e Event) {
		levels = append(levels, e.Data["level"].(float64))
	})

	s := newAudioServiceWithBackend(backend, bus)
	if err := s.Start(nil); err != nil {
		t.Fatal(err)
	}
	backend.push(make([]int16, audioBlockSize))        // silence
	backend.push(constantBlock(audioBlockSize, 32767)) // full scale

	if len(levels) != 2 {
		t.Fatalf("level events = %d, want 2", len(levels))
	}
	if levels[0] != 0 {
		t.Errorf("silent block level = %v, want 0", levels[0])
	}
	if levels[1] != 1.0 {
		t.Errorf("full-scale block level = %v, want clamped 1.0", levels[1])
	}
}

func TestBlockLevelBounds(t *testing.T) {
	if got := blockLevel(nil); got != 0 {
		t.Errorf("empty block level = %v", got)
	}
	low := blockLevel(constantBlock(audioBlockSize, 100))
	high := blockLevel(constantBlock(audioBlockSize, 10000))
	if !(low > 0 && low < high && high <= 1.0) {
		t.Errorf("level ordering violated: low=%v high=%v", low, high)
	}
}
