package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrNoInjectionTool is returned when no paste-simulation tool is installed
// and the configured method is not clipboard-only.
var ErrNoInjectionTool = errors.New("output: no text injection tool found")

// outputBackend abstracts the clipboard and paste-simulation tools so tests
// run without a display server.
type outputBackend interface {
	ReadClipboard() (string, error)
	WriteClipboard(text string) error
	Paste(method string) error
}

// realOutputBackend shells out to the session's clipboard and input tools.
type realOutputBackend struct {
	clipTool string // "wl-clipboard" | "xclip" | "xsel"
}

func (r *realOutputBackend) ReadClipboard() (string, error) {
	var cmd *exec.Cmd
	switch r.clipTool {
	case "wl-clipboard":
		cmd = exec.Command("wl-paste", "--no-newline")
	case "xclip":
		cmd = exec.Command("xclip", "-selection", "clipboard", "-o")
	case "xsel":
		cmd = exec.Command("xsel", "--clipboard", "--output")
	default:
		return "", fmt.Errorf("output: no clipboard tool available")
	}
	out, err := cmd.Output()
	if err != nil {
		// An empty clipboard exits non-zero on xclip/wl-paste.
		return "", nil
	}
	return string(out), nil
}

func (r *realOutputBackend) WriteClipboard(text string) error {
	var cmd *exec.Cmd
	switch r.clipTool {
	case "wl-clipboard":
		cmd = exec.Command("wl-copy")
	case "xclip":
		cmd = exec.Command("xclip", "-selection", "clipboard")
	case "xsel":
		cmd = exec.Command("xsel", "--clipboard", "--input")
	default:
		return fmt.Errorf("output: no clipboard tool available")
	}
	cmd.Stdin = strings.NewReader(text)
	if r.clipTool == "xclip" {
		// xclip forks and stays alive to serve the selection; Run would
		// block until another client reads the clipboard.
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("output: xclip: %w", err)
		}
		time.Sleep(50 * time.Millisecond)
		return nil
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("output: %s: %w — %s", r.clipTool, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (r *realOutputBackend) Paste(method string) error {
	if _, err := exec.LookPath(method); err != nil {
		return fmt.Errorf("%w: %s not installed", ErrNoInjectionTool, method)
	}
	var cmd *exec.Cmd
	switch method {
	case "xdotool":
		// Give the clipboard tool time to start serving the selection.
		time.Sleep(150 * time.Millisecond)
		cmd = exec.Command("xdotool", "key", "--clearmodifiers", "ctrl+v")
	case "wtype":
		time.Sleep(50 * time.Millisecond)
		cmd = exec.Command("wtype", "-M", "ctrl", "-k", "v", "-m", "ctrl")
	case "ydotool":
		time.Sleep(50 * time.Millisecond)
		// Raw keycodes: ctrl down, v down, v up, ctrl up.
		cmd = exec.Command("ydotool", "key", "29:1", "47:1", "47:0", "29:0")
	default:
		return fmt.Errorf("output: unknown injection method %q", method)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("output: %s: %w — %s", method, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// OutputService delivers transcribed text to the focused window: write it
// to the clipboard, simulate Ctrl+V, then optionally restore the previous
// clipboard after a delay.
type OutputService struct {
	backend      outputBackend
	bus          *EventBus
	method       string
	preserve     bool
	restoreDelay time.Duration
}

// NewOutputService resolves tools from config and the running session type.
func NewOutputService(bus *EventBus, cfg InjectionConfig) *OutputService {
	method := cfg.Method
	if method == "" || method == "auto" {
		method = detectPasteTool()
		if method == "" {
			logger.Warnw("output: no injection tool detected, clipboard-only mode")
			method = "clipboard-only"
		}
	}
	delay := time.Duration(cfg.RestoreDelay * float64(time.Second))
	if delay <= 0 {
		delay = clipboardRestoreDelay
	}
	logger.Infow("output: ready", "method", method, "clipboard", detectClipboardTool())
	return &OutputService{
		backend:      &realOutputBackend{clipTool: detectClipboardTool()},
		bus:          bus,
		method:       method,
		preserve:     cfg.PreserveClipboard,
		restoreDelay: delay,
	}
}

// newOutputServiceWithBackend wires in a custom backend (tests only).
func newOutputServiceWithBackend(b outputBackend, bus *EventBus, method string, preserve bool) *OutputService {
	return &OutputService{
		backend:      b,
		bus:          bus,
		method:       method,
		preserve:     preserve,
		restoreDelay: time.Millisecond,
	}
}

// Inject places text at the cursor. On paste failure the text is left on
// the clipboard for a manual paste and an inject.error event fires.
func (s *OutputService) Inject(text string) error {
	if text == "" {
		return fmt.Errorf("output: empty text, nothing to inject")
	}

	var saved string
	if s.preserve {
		saved, _ = s.backend.ReadClipboard()
	}

	if err := s.backend.WriteClipboard(text); err != nil {
		s.bus.Emit(evtInjectError, map[string]interface{}{"error": err.Error()})
		return err
	}

	if s.method == "clipboard-only" {
		logger.Infow("output: copied to clipboard", "chars", len(text))
		s.bus.Emit(evtInjectComplete, map[string]interface{}{"chars": len(text)})
		return nil
	}

	if err := s.backend.Paste(s.method); err != nil {
		logger.Warnw("output: paste failed, text left on clipboard", "err", err)
		s.bus.Emit(evtInjectError, map[string]interface{}{"error": err.Error()})
		return err
	}

	if s.preserve && saved != "" {
		go func() {
			time.Sleep(s.restoreDelay)
			if err := s.backend.WriteClipboard(saved); err != nil {
				logger.Warnw("output: clipboard restore failed", "err", err)
			}
		}()
	}

	logger.Infow("output: injected", "chars", len(text), "method", s.method)
	s.bus.Emit(evtInjectComplete, map[string]interface{}{"chars": len(text)})
	return nil
}

// ReadClipboard exposes the clipboard to the adaptive learner.
func (s *OutputService) ReadClipboard() (string, error) {
	return s.backend.ReadClipboard()
}

// activeWindowName returns the focused window's title for history tagging.
// X11 only; on Wayland or without xdotool it returns "".
func activeWindowName() string {
	if sessionIsWayland() {
		return ""
	}
	cmd := exec.Command("xdotool", "getactivewindow", "getwindowname")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// sessionIsWayland reports whether the desktop session runs on Wayland.
func sessionIsWayland() bool {
	return os.Getenv("WAYLAND_DISPLAY") != "" ||
		strings.EqualFold(os.Getenv("XDG_SESSION_TYPE"), "wayland")
}

// detectPasteTool picks the best installed paste-simulation tool for the
// session type. Returns "" if none is found.
func detectPasteTool() string {
	var order []string
	if sessionIsWayland() {
		order = []string{"wtype", "ydotool"}
	} else {
		order = []string{"xdotool", "ydotool"}
	}
	for _, tool := range order {
		if _, err := exec.LookPath(tool); err == nil {
			return tool
		}
	}
	return ""
}

// detectClipboardTool picks the best installed clipboard tool.
func detectClipboardTool() string {
	if sessionIsWayland() {
		if _, err := exec.LookPath("wl-copy"); err == nil {
			return "wl-clipboard"
		}
	}
	for _, tool := range []string{"xclip", "xsel"} {
		if _, err := exec.LookPath(tool); err == nil {
			return tool
		}
	}
	return ""
}
