package main

import (
	"os/exec"
	"sync"
)

var notifyOnce sync.Once
var notifyAvailable bool

// notify shows a desktop notification via notify-send. Fire and forget: a
// missing binary or a failed send is logged at debug and otherwise ignored.
func notify(summary, body string) {
	notifyOnce.Do(func() {
		_, err := exec.LookPath("notify-send")
		notifyAvailable = err == nil
		if !notifyAvailable {
			logger.Debugw("notify: notify-send not installed, notifications disabled")
		}
	})
	if !notifyAvailable {
		return
	}
	go func() {
		cmd := exec.Command("notify-send", "--app-name", appName, "--expire-time", "3000", summary, body)
		if err := cmd.Run(); err != nil {
			logger.Debugw("notify: send failed", "err", err)
		}
	}()
}
