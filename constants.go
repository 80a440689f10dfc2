package main

import (
	"os"
	"path/filepath"
	"time"
)

const (
	appName = "linux-whispr"
	version = "0.1.0"
)

// Audio capture defaults. Whisper and Silero both expect 16kHz mono.
const (
	audioSampleRate = 16000 // Hz
	audioChannels   = 1     // mono
	audioBlockSize  = 1024  // samples per driver callback
)

// VAD defaults.
const (
	vadWindowSamples     = 512 // Silero analysis window at 16kHz (~32ms)
	vadThreshold         = 0.5
	vadSilenceDuration   = 2 * time.Second        // silence before auto-stop
	vadMinSpeechDuration = 300 * time.Millisecond // filters clicks/coughs
)

// Recording limits.
const (
	maxRecordingDuration = 360 * time.Second // hard ceiling, 6 minutes
	recordingWarningTime = 330 * time.Second // 5:30 advisory warning
	monitorInterval      = 100 * time.Millisecond
)

// Adaptive dictionary defaults.
const (
	correctionWatchWindow        = 15 * time.Second
	correctionPollInterval       = 2 * time.Second
	correctionPromotionThreshold = 2
)

const (
	historyRetentionDays  = 30
	webDefaultPort        = 7865
	clipboardRestoreDelay = 500 * time.Millisecond
	defaultDictationKey   = "f12"
	defaultWhisperModel   = "base"
)

// configDir returns the XDG config directory for the app.
func configDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName)
}

// dataDir returns the XDG data directory (models, history database).
func dataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, appName)
}

// cacheDir returns the XDG cache directory (VAD model).
func cacheDir() string {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, appName)
}
