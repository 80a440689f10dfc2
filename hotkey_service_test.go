package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mockHotkeyBackend simulates key presses through a channel.
type mockHotkeyBackend struct {
	registerErr  error
	registered   bool
	unregistered bool
	keyCh        chan struct{}
}

func newMockHotkeyBackend() *mockHotkeyBackend {
	return &mockHotkeyBackend{keyCh: make(chan struct{}, 4)}
}

func (m *mockHotkeyBackend) Register() error {
	if m.registerErr != nil {
		return m.registerErr
	}
	m.registered = true
	return nil
}

func (m *mockHotkeyBackend) Unregister() error {
	m.unregistered = true
	return nil
}

func (m *mockHotkeyBackend) Keydown() <-chan struct{} {
	return m.keyCh
}

func (m *mockHotkeyBackend) press() {
	m.keyCh <- struct{}{}
}

func TestHotkeyStartAndTrigger(t *testing.T) {
	backend := newMockHotkeyBackend()
	s := newHotkeyServiceWithBackend(backend)

	triggers := make(chan struct{}, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx, "f12", func() { triggers <- struct{}{} }); err != nil {
		t.Fatal(err)
	}
	if !s.IsRegistered() {
		t.Fatal("not registered after start")
	}

	backend.press()
	select {
	case <-triggers:
	case <-time.After(time.Second):
		t.Fatal("trigger not delivered")
	}
}

func TestHotkeyStartConflict(t *testing.T) {
	backend := newMockHotkeyBackend()
	backend.registerErr = ErrHotkeyConflict
	s := newHotkeyServiceWithBackend(backend)

	err := s.Start(context.Background(), "f12", func() {})
	if !errors.Is(err, ErrHotkeyConflict) {
		t.Fatalf("expected ErrHotkeyConflict, got %v", err)
	}
	if s.IsRegistered() {
		t.Error("registered flag set after conflict")
	}
}

func TestHotkeyStopUnregisters(t *testing.T) {
	backend := newMockHotkeyBackend()
	s := newHotkeyServiceWithBackend(backend)

	if err := s.Start(context.Background(), "f12", func() {}); err != nil {
		t.Fatal(err)
	}
	s.Stop()

	if s.IsRegistered() {
		t.Error("still registered after stop")
	}
	if !backend.unregistered {
		t.Error("backend not unregistered")
	}
}

func TestHotkeyInvalidComboRejected(t *testing.T) {
	backend := newMockHotkeyBackend()
	s := newHotkeyServiceWithBackend(backend)

	err := s.Start(context.Background(), "notakey", func() {})
	if !errors.Is(err, ErrHotkeyInvalid) {
		t.Fatalf("expected ErrHotkeyInvalid, got %v", err)
	}
}

func TestHotkeyReregisterInvalidKeepsOld(t *testing.T) {
	backend := newMockHotkeyBackend()
	s := newHotkeyServiceWithBackend(backend)

	if err := s.Start(context.Background(), "f12", func() {}); err != nil {
		t.Fatal(err)
	}
	if err := s.Reregister("bogus+++"); err == nil {
		t.Fatal("expected error for bogus combo")
	}
	if s.Combo() != "f12" {
		t.Errorf("combo = %q, old binding should survive", s.Combo())
	}
	if !s.IsRegistered() {
		t.Error("old binding unregistered after failed swap")
	}
}

func TestParseHotkey(t *testing.T) {
	tests := []struct {
		combo string
		valid bool
	}{
		{"f12", true},
		{"F12", true},
		{"ctrl+alt+d", true},
		{"super+space", true},
		{"shift+f5", true},
		{"d", false},           // bare letter would swallow typing
		{"space", false},       // bare non-function key
		{"bogus+d", false},      // unknown modifier
		{"ctrl+unknown", false}, // unknown key
	}
	for _, tt := range tests {
		t.Run(tt.combo, func(t *testing.T) {
			_, _, err := parseHotkey(tt.combo)
			if tt.valid && err != nil {
				t.Errorf("parseHotkey(%q) unexpected error: %v", tt.combo, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("parseHotkey(%q) expected error", tt.combo)
			}
		})
	}
}

func TestFormatHotkey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"f12", "F12"},
		{"ctrl+alt+d", "Ctrl+Alt+D"},
		{"super+space", "Super+Space"},
	}
	for _, tt := range tests {
		if got := FormatHotkey(tt.in); got != tt.want {
			t.Errorf("FormatHotkey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
