package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// AudioConfig controls capture and voice-activity detection.
type AudioConfig struct {
	SampleRate       int     `yaml:"sample_rate" json:"sample_rate"`
	Device           string  `yaml:"device" json:"device"` // empty = default device
	Detector         string  `yaml:"detector" json:"detector"`
	SilenceThreshold float64 `yaml:"silence_threshold" json:"silence_threshold"`
	SilenceDuration  float64 `yaml:"silence_duration" json:"silence_duration"` // seconds
}

// STTConfig selects and tunes the transcription backend.
type STTConfig struct {
	Backend  string `yaml:"backend" json:"backend"` // "whisper" | "openai" | "groq"
	Model    string `yaml:"model" json:"model"`
	Language string `yaml:"language" json:"language"` // ISO 639-1, "auto" for detection
	Threads  int    `yaml:"threads" json:"threads"`   // 0 = runtime default
}

// AIConfig controls optional LLM text refinement.
type AIConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Backend      string `yaml:"backend" json:"backend"` // "openai" | "groq"
	Model        string `yaml:"model" json:"model"`
	CustomPrompt string `yaml:"custom_prompt" json:"custom_prompt"`
}

// HotkeyConfig binds the global trigger.
type HotkeyConfig struct {
	Dictation string `yaml:"dictation" json:"dictation"` // e.g. "f12", "ctrl+alt+d"
}

// InjectionConfig controls how transcribed text reaches the focused window.
type InjectionConfig struct {
	Method            string  `yaml:"method" json:"method"` // "auto" | "wtype" | "xdotool" | "ydotool" | "clipboard-only"
	PreserveClipboard bool    `yaml:"preserve_clipboard" json:"preserve_clipboard"`
	RestoreDelay      float64 `yaml:"clipboard_restore_delay" json:"clipboard_restore_delay"` // seconds
}

// HistoryConfig controls the transcription history store.
type HistoryConfig struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	RetentionDays int  `yaml:"retention_days" json:"retention_days"`
}

// AdaptiveConfig controls clipboard-based correction learning.
type AdaptiveConfig struct {
	Enabled            bool `yaml:"enabled" json:"enabled"`
	WatchWindow        int  `yaml:"watch_window" json:"watch_window"` // seconds
	PromotionThreshold int  `yaml:"promotion_threshold" json:"promotion_threshold"`
}

// WebConfig controls the local dashboard.
type WebConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Port    int  `yaml:"port" json:"port"`
}

// Config is the root application configuration, persisted as YAML under the
// XDG config directory.
type Config struct {
	Audio     AudioConfig     `yaml:"audio" json:"audio"`
	STT       STTConfig       `yaml:"stt" json:"stt"`
	AI        AIConfig        `yaml:"ai" json:"ai"`
	Hotkey    HotkeyConfig    `yaml:"hotkey" json:"hotkey"`
	Injection InjectionConfig `yaml:"injection" json:"injection"`
	History   HistoryConfig   `yaml:"history" json:"history"`
	Adaptive  AdaptiveConfig  `yaml:"adaptive" json:"adaptive"`
	Web       WebConfig       `yaml:"web" json:"web"`
	FirstRun  bool            `yaml:"first_run" json:"first_run"`
}

// defaultConfig returns a Config with every field at its default.
func defaultConfig() Config {
	return Config{
		Audio: AudioConfig{
			SampleRate:       audioSampleRate,
			Detector:         "silero",
			SilenceThreshold: vadThreshold,
			SilenceDuration:  vadSilenceDuration.Seconds(),
		},
		STT: STTConfig{
			Backend:  "whisper",
			Model:    defaultWhisperModel,
			Language: "auto",
		},
		AI: AIConfig{
			Backend: "openai",
		},
		Hotkey: HotkeyConfig{
			Dictation: defaultDictationKey,
		},
		Injection: InjectionConfig{
			Method:       "auto",
			RestoreDelay: clipboardRestoreDelay.Seconds(),
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: historyRetentionDays,
		},
		Adaptive: AdaptiveConfig{
			Enabled:            true,
			WatchWindow:        int(correctionWatchWindow.Seconds()),
			PromotionThreshold: correctionPromotionThreshold,
		},
		Web: WebConfig{
			Enabled: true,
			Port:    webDefaultPort,
		},
		FirstRun: true,
	}
}

// ConfigService loads and persists the application configuration.
type ConfigService struct {
	mu   sync.RWMutex
	path string
	cfg  Config
}

// NewConfigService creates a service reading from the default XDG location.
func NewConfigService() *ConfigService {
	return &ConfigService{
		path: filepath.Join(configDir(), "config.yaml"),
		cfg:  defaultConfig(),
	}
}

// newConfigServiceWithPath creates a service bound to an explicit file
// (tests only).
func newConfigServiceWithPath(path string) *ConfigService {
	return &ConfigService{path: path, cfg: defaultConfig()}
}

// Load reads the config file over a fresh defaults struct, so missing keys
// keep their defaults and unknown keys are ignored. A missing file is not
// an error; a malformed file falls back to full defaults with a warning.
func (c *ConfigService) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg = defaultConfig()
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		logger.Infow("config: no file found, using defaults", "path", c.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", c.path, err)
	}

	if err := yaml.Unmarshal(data, &c.cfg); err != nil {
		logger.Warnw("config: malformed file, using defaults", "path", c.path, "err", err)
		c.cfg = defaultConfig()
		return nil
	}
	logger.Infow("config: loaded", "path", c.path)
	return nil
}

// Save writes the current config atomically (temp file + rename) so a crash
// mid-write never leaves a truncated config behind.
func (c *ConfigService) Save() error {
	c.mu.RLock()
	cfg := c.cfg
	c.mu.RUnlock()

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "config-*.yaml")
	if err != nil {
		return fmt.Errorf("config: temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()           //nolint:errcheck
		os.Remove(tmp.Name()) //nolint:errcheck
		return fmt.Errorf("config: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return fmt.Errorf("config: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return fmt.Errorf("config: rename: %w", err)
	}
	logger.Infow("config: saved", "path", c.path)
	return nil
}

// Get returns a copy of the current configuration.
func (c *ConfigService) Get() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Update replaces the configuration and persists it.
func (c *ConfigService) Update(cfg Config) error {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	return c.Save()
}

// Path returns the backing file location.
func (c *ConfigService) Path() string {
	return c.path
}
