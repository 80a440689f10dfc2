package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getlantern/systray"
)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			fmt.Printf("%s %s\n", appName, version)
			return
		}
	}

	if err := initLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "logging init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	config := NewConfigService()
	if err := config.Load(); err != nil {
		logger.Fatalw("main: config load failed", "err", err)
	}
	cfg := config.Get()

	bus := NewEventBus()
	models := NewModelService(bus)

	audio := NewAudioService(bus, cfg.Audio.SampleRate, cfg.Audio.Device)
	vad, err := NewVADService(cfg.Audio.Detector, models.VADModelPath(),
		cfg.Audio.SampleRate, cfg.Audio.SilenceThreshold,
		time.Duration(cfg.Audio.SilenceDuration*float64(time.Second)),
		vadMinSpeechDuration)
	if err != nil {
		logger.Fatalw("main: voice-activity detector init failed", "err", err)
	}

	stt := newSTTBackend(cfg.STT)
	refiner := NewRefineService(cfg.AI)
	output := NewOutputService(bus, cfg.Injection)

	dict := NewDictionaryService()
	if err := dict.Load(); err != nil {
		logger.Warnw("main: dictionary load failed", "err", err)
	}
	if err := dict.Watch(); err != nil {
		logger.Warnw("main: dictionary watch unavailable", "err", err)
	}

	snippets := NewSnippetService()
	if err := snippets.Load(); err != nil {
		logger.Warnw("main: snippets load failed", "err", err)
	}

	var history *HistoryService
	if cfg.History.Enabled {
		history, err = NewHistoryService(cfg.History)
		if err != nil {
			logger.Warnw("main: history unavailable", "err", err)
			history = nil
		}
	}

	adaptive := NewAdaptiveService(bus, dict, output, cfg.Adaptive)
	app := NewApp(bus, config, audio, vad, stt, refiner, output, snippets,
		dict, adaptive, history, models)

	ctx, cancel := context.WithCancel(context.Background())
	hotkeys := NewHotkeyService()
	if err := hotkeys.Start(ctx, cfg.Hotkey.Dictation, app.Toggle); err != nil {
		// The tray menu and dashboard can still toggle dictation, so a taken
		// or invalid key is not fatal.
		logger.Errorw("main: hotkey registration failed", "combo", cfg.Hotkey.Dictation, "err", err)
		notify("Hotkey unavailable",
			fmt.Sprintf("Could not register %s; use the tray menu to dictate.", FormatHotkey(cfg.Hotkey.Dictation)))
	}

	// Fetch missing models in the background so the first dictation does not
	// stall on a multi-hundred-megabyte download.
	go func() {
		if err := models.Prefetch(cfg.STT.Model); err != nil {
			logger.Warnw("main: model prefetch failed", "err", err)
		}
	}()

	var web *WebServer
	if cfg.Web.Enabled {
		web = NewWebServer(app, bus, config, history, dict, snippets, models, hotkeys)
		go func() {
			if err := web.Start(cfg.Web.Port); err != nil {
				logger.Errorw("main: dashboard server failed", "err", err)
			}
		}()
	}

	if cfg.FirstRun {
		notify("Welcome to "+appName,
			fmt.Sprintf("Press %s to start dictating.", FormatHotkey(hotkeys.Combo())))
		cfg.FirstRun = false
		if err := config.Update(cfg); err != nil {
			logger.Warnw("main: first-run flag save failed", "err", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infow("main: signal received, shutting down", "signal", sig.String())
		systray.Quit()
	}()

	logger.Infow("main: started", "version", version, "hotkey", hotkeys.Combo())

	// systray.Run blocks until Quit; teardown happens in the exit callback.
	runSystray(app, hotkeys, cfg.Web.Port, func() {
		cancel()
		hotkeys.Stop()
		if web != nil {
			shutdownCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
			if err := web.Shutdown(shutdownCtx); err != nil {
				logger.Warnw("main: dashboard shutdown failed", "err", err)
			}
			done()
		}
		app.Shutdown()
		logger.Infow("main: shutdown complete")
	})
}
