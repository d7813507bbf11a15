// Package ui is the optional system tray frontend. It mirrors export
// progress and offers cancel/quit without opening the web UI.
package ui

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"
)

type Tray struct {
	logger *slog.Logger

	statusItem *systray.MenuItem
	cancelItem *systray.MenuItem

	mu sync.Mutex

	onCancel func()
	onQuit   func()
}

type TrayConfig struct {
	Logger   *slog.Logger
	OnCancel func()
	OnQuit   func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		logger:   cfg.Logger,
		onCancel: cfg.OnCancel,
		onQuit:   cfg.OnQuit,
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes())
	systray.SetTitle("Groove Slider")
	systray.SetTooltip("Groove Slider")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current export status")
	t.statusItem.Disable()

	systray.AddSeparator()

	t.cancelItem = systray.AddMenuItem("Cancel Export", "Cancel the running export")
	t.cancelItem.Disable()

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Groove Slider")

	go func() {
		for {
			select {
			case <-t.cancelItem.ClickedCh:
				t.handleCancel()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) handleCancel() {
	t.mu.Lock()
	onCancel := t.onCancel
	t.mu.Unlock()

	if onCancel != nil {
		t.logger.Info("export cancel requested from tray")
		onCancel()
	}
}

// UpdateExport reflects export progress in the menu. Safe to call from the
// orchestrator's progress goroutine.
func (t *Tray) UpdateExport(percent int, stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.statusItem == nil {
		return
	}

	switch stage {
	case "complete":
		t.statusItem.SetTitle("Status: Export complete")
		t.cancelItem.Disable()
	case "failed":
		t.statusItem.SetTitle("Status: Export failed")
		t.cancelItem.Disable()
	case "cancelled":
		t.statusItem.SetTitle("Status: Export cancelled")
		t.cancelItem.Disable()
	case "idle", "":
		t.statusItem.SetTitle("Status: Idle")
		t.cancelItem.Disable()
	default:
		t.statusItem.SetTitle(fmt.Sprintf("Status: Exporting %d%%", percent))
		t.cancelItem.Enable()
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}
