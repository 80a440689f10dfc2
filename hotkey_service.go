package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.design/x/hotkey"
)

// ErrHotkeyConflict is returned when the hotkey is already registered by
// another application.
var ErrHotkeyConflict = errors.New("hotkey: key combination already registered by another application")

// ErrHotkeyInvalid is returned when the hotkey string cannot be parsed.
var ErrHotkeyInvalid = errors.New("hotkey: invalid key combination")

// hotkeyBackend abstracts the real hotkey implementation so tests can use a
// mock.
type hotkeyBackend interface {
	Register() error
	Unregister() error
	Keydown() <-chan struct{}
}

// realHotkeyBackend wraps golang.design/x/hotkey. The hotkey.Hotkey is
// created lazily in Register() to avoid spawning CGo goroutines at
// construction time, which would leak into unit tests.
type realHotkeyBackend struct {
	hk        *hotkey.Hotkey
	mods      []hotkey.Modifier
	key       hotkey.Key
	keyCh     chan struct{}
	closeOnce sync.Once
}

func newRealBackendFromCombo(combo string) (*realHotkeyBackend, error) {
	mods, key, err := parseHotkey(combo)
	if err != nil {
		return nil, err
	}
	return &realHotkeyBackend{mods: mods, key: key}, nil
}

func (r *realHotkeyBackend) Register() error {
	r.hk = hotkey.New(r.mods, r.key)
	if err := r.hk.Register(); err != nil {
		_ = r.hk.Unregister()
		r.hk = nil
		return ErrHotkeyConflict
	}
	// Buffered relay so rapid presses never block the X event pump.
	r.keyCh = make(chan struct{}, 4)
	src := r.hk.Keydown()
	go func() {
		for range src {
			select {
			case r.keyCh <- struct{}{}:
			default: // drop if buffer full
			}
		}
		r.closeOnce.Do(func() { close(r.keyCh) })
	}()
	return nil
}

func (r *realHotkeyBackend) Unregister() error {
	if r.hk == nil {
		return nil
	}
	return r.hk.Unregister()
}

func (r *realHotkeyBackend) Keydown() <-chan struct{} {
	return r.keyCh
}

// HotkeyService manages the global dictation trigger.
type HotkeyService struct {
	mu             sync.Mutex
	backend        hotkeyBackend
	combo          string
	registered     atomic.Bool
	doneCh         chan struct{}
	parentCtx      context.Context
	cancel         context.CancelFunc
	onTrigger      func()
	backendFactory func(string) (hotkeyBackend, error)
}

// NewHotkeyService creates a HotkeyService backed by the real X11 hotkey
// API with the default trigger key.
func NewHotkeyService() *HotkeyService {
	return &HotkeyService{
		combo: defaultDictationKey,
		backendFactory: func(c string) (hotkeyBackend, error) {
			return newRealBackendFromCombo(c)
		},
	}
}

// newHotkeyServiceWithBackend creates a HotkeyService with a custom backend
// (tests only).
func newHotkeyServiceWithBackend(b hotkeyBackend) *HotkeyService {
	return &HotkeyService{
		backend: b,
		combo:   defaultDictationKey,
		backendFactory: func(c string) (hotkeyBackend, error) {
			if _, _, err := parseHotkey(c); err != nil {
				return nil, err
			}
			return b, nil
		},
	}
}

// Start registers the hotkey and launches a listener goroutine calling
// onTrigger on every press. The goroutine exits when ctx is cancelled.
// Returns ErrHotkeyConflict if the key is taken by another app.
func (s *HotkeyService) Start(ctx context.Context, combo string, onTrigger func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if combo == "" {
		combo = s.combo
	}
	if s.backend == nil || combo != s.combo {
		b, err := s.backendFactory(combo)
		if err != nil {
			return err
		}
		s.backend = b
		s.combo = combo
	}

	if err := s.backend.Register(); err != nil {
		return err
	}
	s.onTrigger = onTrigger
	s.parentCtx = ctx
	s.listenLocked(ctx, s.backend, s.combo, onTrigger)
	logger.Infow("hotkey: registered", "combo", s.combo)
	return nil
}

// listenLocked starts the listener goroutine. Caller holds s.mu.
func (s *HotkeyService) listenLocked(ctx context.Context, b hotkeyBackend, combo string, onTrigger func()) {
	listenCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.registered.Store(true)
	doneCh := make(chan struct{})
	s.doneCh = doneCh
	keydown := b.Keydown()

	go func() {
		defer func() {
			b.Unregister() //nolint:errcheck
			s.registered.Store(false)
			logger.Infow("hotkey: unregistered", "combo", combo)
			close(doneCh)
		}()
		for {
			select {
			case <-listenCtx.Done():
				return
			case _, ok := <-keydown:
				if !ok {
					return
				}
				logger.Debugw("hotkey: triggered", "combo", combo)
				if onTrigger != nil {
					onTrigger()
				}
			}
		}
	}()
}

// Reregister swaps to a new combo at runtime. The new key is registered
// before the old one is released, so on any error the original binding
// stays live.
func (s *HotkeyService) Reregister(newCombo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newBackend, err := s.backendFactory(newCombo)
	if err != nil {
		return err
	}
	if err := newBackend.Register(); err != nil {
		return err
	}
	if s.cancel != nil {
		s.cancel()
	}
	logger.Infow("hotkey: re-registered", "old", s.combo, "new", newCombo)

	s.backend = newBackend
	s.combo = newCombo
	parent := s.parentCtx
	if parent == nil {
		parent = context.Background()
	}
	s.listenLocked(parent, newBackend, newCombo, s.onTrigger)
	return nil
}

// Stop unregisters the hotkey and waits briefly for the listener goroutine
// to exit so no CGo callbacks are in flight during shutdown.
func (s *HotkeyService) Stop() {
	s.mu.Lock()
	doneCh := s.doneCh
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if doneCh != nil {
		select {
		case <-doneCh:
		case <-time.After(200 * time.Millisecond):
			logger.Warnw("hotkey: stop timed out waiting for listener exit")
		}
	}
}

// IsRegistered reports whether the hotkey is currently registered.
func (s *HotkeyService) IsRegistered() bool {
	return s.registered.Load()
}

// Combo returns the currently active combo string.
func (s *HotkeyService) Combo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.combo
}

// ── parseHotkey ──────────────────────────────────────────────────────────────
// Parses a combo string like "f12", "ctrl+alt+d" or "super+space" into
// golang.design/x/hotkey modifiers + key.

var modMap = map[string]hotkey.Modifier{
	"ctrl":    hotkey.ModCtrl,
	"control": hotkey.ModCtrl,
	"alt":     hotkey.Mod1,
	"shift":   hotkey.ModShift,
	"super":   hotkey.Mod4,
	"meta":    hotkey.Mod4,
	"win":     hotkey.Mod4,
}

var keyMap = map[string]hotkey.Key{
	"space":  hotkey.KeySpace,
	"tab":    hotkey.KeyTab,
	"return": hotkey.KeyReturn,
	"enter":  hotkey.KeyReturn,
	"a":      hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD,
	"e": hotkey.KeyE, "f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH,
	"i": hotkey.KeyI, "j": hotkey.KeyJ, "k": hotkey.KeyK, "l": hotkey.KeyL,
	"m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO, "p": hotkey.KeyP,
	"q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
	"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX,
	"y": hotkey.KeyY, "z": hotkey.KeyZ,
	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3,
	"4": hotkey.Key4, "5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7,
	"8": hotkey.Key8, "9": hotkey.Key9,
	"f1": hotkey.KeyF1, "f2": hotkey.KeyF2, "f3": hotkey.KeyF3, "f4": hotkey.KeyF4,
	"f5": hotkey.KeyF5, "f6": hotkey.KeyF6, "f7": hotkey.KeyF7, "f8": hotkey.KeyF8,
	"f9": hotkey.KeyF9, "f10": hotkey.KeyF10, "f11": hotkey.KeyF11, "f12": hotkey.KeyF12,
}

// isFunctionKey reports whether name is f1..f12. Function keys are allowed
// as bare triggers without a modifier.
func isFunctionKey(name string) bool {
	if len(name) < 2 || name[0] != 'f' {
		return false
	}
	_, ok := keyMap[name]
	return ok && name != "f" // "f" alone is the letter key
}

// parseHotkey parses a combo string into hotkey modifiers and key.
// Non-function keys require at least one modifier — a bare letter would
// swallow normal typing system-wide.
func parseHotkey(combo string) ([]hotkey.Modifier, hotkey.Key, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(combo)), "+")
	keyPart := parts[len(parts)-1]
	modParts := parts[:len(parts)-1]

	key, ok := keyMap[keyPart]
	if !ok {
		return nil, 0, fmt.Errorf("%w: unknown key %q", ErrHotkeyInvalid, keyPart)
	}

	var mods []hotkey.Modifier
	seen := map[string]bool{}
	for _, m := range modParts {
		if seen[m] {
			continue
		}
		seen[m] = true
		mod, ok := modMap[m]
		if !ok {
			return nil, 0, fmt.Errorf("%w: unknown modifier %q", ErrHotkeyInvalid, m)
		}
		mods = append(mods, mod)
	}
	if len(mods) == 0 && !isFunctionKey(keyPart) {
		return nil, 0, fmt.Errorf("%w: %q needs at least one modifier", ErrHotkeyInvalid, combo)
	}
	return mods, key, nil
}

// FormatHotkey converts a combo string to a display string,
// e.g. "ctrl+alt+d" → "Ctrl+Alt+D", "f12" → "F12".
func FormatHotkey(combo string) string {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(combo)), "+")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, strings.ToUpper(p[:1])+p[1:])
	}
	return strings.Join(out, "+")
}
