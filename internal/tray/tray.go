// Package tray provides an optional desktop system tray for picam.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"
)

// Tray represents the system tray menu.
type Tray struct {
	onPreview func()
	onQuit    func()
	clients   int
	mu        sync.RWMutex

	// Menu items stored for later updates
	menuClients *systray.MenuItem
}

// New creates a new Tray instance.
func New() *Tray {
	return &Tray{}
}

// OnPreview sets the callback function to be called when the preview menu item is clicked.
func (t *Tray) OnPreview(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPreview = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called and must run on the main thread.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit removes the tray icon and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("picam")
	systray.SetTooltip("picam camera stream")

	t.mu.Lock()
	t.menuClients = systray.AddMenuItem(clientsTitle(t.clients), "Connected stream clients")
	t.menuClients.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuPreview := systray.AddMenuItem("Open Preview...", "Open the stream in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Stop streaming and quit")

	go func() {
		for {
			select {
			case <-menuPreview.ClickedCh:
				t.handlePreview()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// handlePreview handles the preview menu item click.
func (t *Tray) handlePreview() {
	t.mu.RLock()
	callback := t.onPreview
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetClients updates the connected client count shown in the menu.
func (t *Tray) SetClients(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.clients = n
	if t.menuClients != nil {
		t.menuClients.SetTitle(clientsTitle(n))
	}
}

// Clients returns the last client count set.
func (t *Tray) Clients() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.clients
}

func clientsTitle(n int) string {
	if n == 1 {
		return "1 viewer"
	}
	return fmt.Sprintf("%d viewers", n)
}
