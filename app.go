package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Controller states.
const (
	stateIdle       = "idle"
	stateRecording  = "recording"
	stateProcessing = "processing"
	stateError      = "error"
)

// Stop reasons attached to recording.stopped events. All three take the
// same transition; the reason is informational.
const (
	stopReasonManual   = "manual"
	stopReasonSilence  = "silence"
	stopReasonDuration = "duration-limit"
)

// App is the dictation controller: it binds capture, voice-activity
// detection and the downstream pipeline into the Idle → Recording →
// Processing → Idle state machine. Error is reachable from Processing and
// always falls back to Idle — never a terminal state.
type App struct {
	bus      *EventBus
	config   *ConfigService
	audio    *AudioService
	vad      *VADService
	stt      sttBackend
	refiner  *RefineService
	output   *OutputService
	snippets *SnippetService
	dict     *DictionaryService
	adaptive *AdaptiveService
	history  *HistoryService
	models   *ModelService

	mu          sync.Mutex
	state       string
	starting    bool
	monitorStop chan struct{}

	monitorInterval time.Duration
}

// NewApp wires the controller. Any of refiner, adaptive, history may be nil
// or disabled; the pipeline skips them.
func NewApp(bus *EventBus, config *ConfigService, audio *AudioService, vad *VADService,
	stt sttBackend, refiner *RefineService, output *OutputService, snippets *SnippetService,
	dict *DictionaryService, adaptive *AdaptiveService, history *HistoryService,
	models *ModelService) *App {
	return &App{
		bus:             bus,
		config:          config,
		audio:           audio,
		vad:             vad,
		stt:             stt,
		refiner:         refiner,
		output:          output,
		snippets:        snippets,
		dict:            dict,
		adaptive:        adaptive,
		history:         history,
		models:          models,
		state:           stateIdle,
		monitorInterval: monitorInterval,
	}
}

// State returns the current controller state.
func (a *App) State() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *App) setState(next string) {
	a.mu.Lock()
	prev := a.state
	a.state = next
	a.mu.Unlock()
	if prev != next {
		logger.Infow("state: transition", "from", prev, "to", next)
		a.bus.Emit(evtStateChange, map[string]interface{}{"old": prev, "new": next})
	}
}

// Toggle is the hotkey entry point. Idle starts a session; Recording stops
// it; Processing ignores the press (the previous utterance is still in
// flight).
func (a *App) Toggle() {
	switch a.State() {
	case stateIdle:
		a.startRecording()
	case stateRecording:
		a.stopRecording(stopReasonManual)
	case stateProcessing:
		logger.Infow("app: trigger ignored, still processing previous dictation")
	default:
		logger.Infow("app: trigger ignored", "state", a.State())
	}
}

// startRecording performs Idle → Recording. Any failure leaves the state
// at Idle with no partial capture or monitor running.
//
// Triggers arrive from the hotkey listener, the tray click loop and the
// dashboard on independent goroutines, so the transition is claimed under
// a.mu before any work starts: only the first caller proceeds, the rest
// bail out.
func (a *App) startRecording() {
	a.mu.Lock()
	if a.state != stateIdle || a.starting {
		a.mu.Unlock()
		logger.Debugw("app: start ignored, session already underway")
		return
	}
	a.starting = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.starting = false
		a.mu.Unlock()
	}()

	if err := a.vad.Load(); err != nil {
		if errors.Is(err, ErrModelUnavailable) && a.models != nil {
			logger.Infow("app: fetching voice-activity model")
			if fetchErr := a.models.EnsureVADModel(); fetchErr == nil {
				err = a.vad.Load()
			}
		}
		if err != nil {
			logger.Errorw("app: voice-activity model unavailable", "err", err)
			notify("Dictation unavailable", "Voice activity model could not be loaded.")
			return
		}
	}

	// Fresh per-session detector state; stale hidden state skews the next
	// utterance's probabilities.
	a.vad.Reset()

	if err := a.audio.Start(func() { a.stopRecording(stopReasonDuration) }); err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			notify("Microphone unavailable", "Could not open the input device.")
		} else {
			notify("Recording failed", err.Error())
		}
		logger.Errorw("app: recording start failed", "err", err)
		return
	}

	stop := make(chan struct{})
	a.mu.Lock()
	a.monitorStop = stop
	a.mu.Unlock()

	a.setState(stateRecording)
	a.bus.Emit(evtRecordingStarted, nil)
	go a.silenceMonitor(stop)
}

// silenceMonitor polls the detector while recording. It is not the only
// path to stop — manual and duration-limit stops close stopCh — so every
// iteration checks liveness and the loop exits without calling stop again.
func (a *App) silenceMonitor(stopCh <-chan struct{}) {
	ticker := time.NewTicker(a.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		block := a.audio.LatestBlock()
		if block == nil {
			continue // no blocks captured yet
		}
		if _, err := a.vad.IsSpeech(block); err != nil {
			logger.Warnw("app: voice-activity scoring failed", "err", err)
			continue
		}
		if a.vad.ShouldStop() {
			a.stopRecording(stopReasonSilence)
			return
		}
	}
}

// stopRecording performs Recording → Processing and hands the finalized
// buffer to the pipeline. Safe to call from any stop path; only the first
// caller takes the transition.
func (a *App) stopRecording(reason string) {
	a.mu.Lock()
	if a.state != stateRecording {
		a.mu.Unlock()
		return
	}
	a.state = stateProcessing
	if a.monitorStop != nil {
		close(a.monitorStop)
		a.monitorStop = nil
	}
	a.mu.Unlock()
	logger.Infow("state: transition", "from", stateRecording, "to", stateProcessing)
	a.bus.Emit(evtStateChange, map[string]interface{}{"old": stateRecording, "new": stateProcessing})

	wav, duration, err := a.audio.Stop()
	a.bus.Emit(evtRecordingStopped, map[string]interface{}{
		"reason": reason, "duration": duration.Seconds(),
	})

	if err != nil {
		logger.Errorw("app: capture finalize failed", "err", err)
		notify("Recording failed", err.Error())
		a.setState(stateIdle)
		return
	}
	if wav == nil {
		logger.Debugw("app: no audio captured")
		a.bus.Emit(evtAudioSilence, nil)
		a.setState(stateIdle)
		return
	}

	// The pipeline runs on its own goroutine so slow inference never blocks
	// the capture machinery or the hotkey handler.
	go a.runPipeline(wav, duration)
}

// runPipeline carries one finalized utterance through transcription,
// snippet expansion, refinement, injection, history and adaptive learning.
// A failure is reported and isolated to this utterance; the controller
// passes through Error and returns to Idle either way.
func (a *App) runPipeline(wav []byte, duration time.Duration) {
	ctx := context.Background()
	cfg := a.config.Get()

	fail := func(summary string, err error) {
		logger.Errorw("app: pipeline failed", "stage", summary, "err", err)
		notify("Dictation failed", summary)
		a.setState(stateError)
		a.bus.Emit(evtSTTError, map[string]interface{}{"error": err.Error()})
		a.setState(stateIdle)
	}

	if !a.stt.IsLoaded() {
		// Loading may block for seconds; tell observers before, not after.
		a.bus.Emit(evtSTTLoading, nil)
		err := a.stt.Load()
		if errors.Is(err, ErrModelNotFound) && a.models != nil {
			logger.Infow("app: fetching transcription model", "model", cfg.STT.Model)
			if fetchErr := a.models.EnsureWhisperModel(cfg.STT.Model); fetchErr != nil {
				fail("Transcription model download failed.", fetchErr)
				return
			}
			err = a.stt.Load()
		}
		if err != nil {
			fail("Transcription model could not be loaded.", err)
			return
		}
	}

	a.bus.Emit(evtSTTStarted, nil)
	prompt := ""
	if a.dict != nil {
		prompt = a.dict.BuildInitialPrompt(cfg.Adaptive.PromotionThreshold)
	}
	raw, err := a.stt.Transcribe(ctx, wav, cfg.STT.Language, prompt)
	if err != nil {
		fail("Transcription failed.", err)
		return
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		logger.Infow("app: empty transcription, nothing to inject")
		a.bus.Emit(evtAudioSilence, nil)
		a.setState(stateIdle)
		return
	}
	a.bus.Emit(evtSTTComplete, map[string]interface{}{
		"text": raw, "language": cfg.STT.Language,
	})

	text := raw
	if a.snippets != nil {
		text = a.snippets.Expand(text)
	}

	refined := text
	if a.refiner != nil && a.refiner.Enabled() {
		var corrections map[string]string
		if a.dict != nil {
			corrections = a.dict.PromotedCorrections(cfg.Adaptive.PromotionThreshold)
		}
		refined = a.refiner.Refine(ctx, text, corrections)
	}

	injectErr := a.output.Inject(refined)

	// History is written even when injection fails; the text is recoverable
	// from the dashboard either way.
	if a.history != nil && cfg.History.Enabled {
		stored := ""
		if refined != raw {
			stored = refined
		}
		if _, err := a.history.Add(raw, stored, duration, activeWindowName(), cfg.STT.Language); err != nil {
			logger.Warnw("app: history write failed", "err", err)
		}
	}

	if injectErr != nil {
		fail("Text injection failed — the text is on your clipboard.", injectErr)
		return
	}
	if a.adaptive != nil {
		a.adaptive.StartWatching(refined)
	}

	a.setState(stateIdle)
}

// Shutdown stops any active session and releases resources.
func (a *App) Shutdown() {
	a.mu.Lock()
	if a.monitorStop != nil {
		close(a.monitorStop)
		a.monitorStop = nil
	}
	a.mu.Unlock()

	if a.audio.IsRecording() {
		if _, _, err := a.audio.Stop(); err != nil {
			logger.Warnw("app: shutdown capture stop failed", "err", err)
		}
	}
	if a.stt != nil {
		a.stt.Unload() //nolint:errcheck
	}
	if a.vad != nil {
		a.vad.Close() //nolint:errcheck
	}
	if a.dict != nil {
		a.dict.Close() //nolint:errcheck
	}
	if a.history != nil {
		a.history.Close() //nolint:errcheck
	}
	a.setState(stateIdle)
	a.bus.Clear()
}
