package main

import (
	_ "embed"
	"fmt"
	"os/exec"

	"github.com/getlantern/systray"
)

//go:embed assets/icon.png
var iconBytes []byte

// runSystray owns the process main loop: systray.Run blocks until Quit.
// onExit runs after the tray is torn down.
func runSystray(app *App, hotkeys *HotkeyService, webPort int, onExit func()) {
	systray.Run(func() { onSystrayReady(app, hotkeys, webPort) }, onExit)
}

func onSystrayReady(app *App, hotkeys *HotkeyService, webPort int) {
	systray.SetIcon(iconBytes)
	systray.SetTitle(appName)
	systray.SetTooltip(fmt.Sprintf("%s — press %s to dictate", appName, FormatHotkey(hotkeys.Combo())))

	mToggle := systray.AddMenuItem("Start dictation", "Toggle recording")
	systray.AddSeparator()
	mDashboard := systray.AddMenuItem("Open dashboard", "Open the web dashboard")
	systray.AddSeparator()
	mQuit := systray.AddMenuItem("Quit", "Exit "+appName)

	// Mirror controller state into the menu label.
	app.bus.On(evtStateChange, func(e Event) {
		if e.Data == nil {
			return
		}
		switch e.Data["new"] {
		case stateRecording:
			mToggle.SetTitle("Stop dictation")
		case stateIdle:
			mToggle.SetTitle("Start dictation")
		case stateProcessing:
			mToggle.SetTitle("Transcribing…")
		}
	})

	go func() {
		for {
			select {
			case <-mToggle.ClickedCh:
				app.Toggle()
			case <-mDashboard.ClickedCh:
				openDashboard(webPort)
			case <-mQuit.ClickedCh:
				systray.Quit()
				return
			}
		}
	}()
}

// openDashboard opens the local dashboard in the default browser.
func openDashboard(port int) {
	url := fmt.Sprintf("http://127.0.0.1:%d/", port)
	if err := exec.Command("xdg-open", url).Start(); err != nil {
		logger.Warnw("systray: open dashboard failed", "url", url, "err", err)
	}
}
