// Package tray provides a system tray menu for controlling the scanner.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
)

const lastResultWidth = 32

// Tray represents the system tray application.
type Tray struct {
	onScanToggle  func(scanning bool) error
	onTorchToggle func(on bool) error
	onRescan      func()
	onOpenViewer  func()
	onQuit        func()
	scanning      bool
	torch         bool
	mu            sync.RWMutex

	// Menu items stored for later updates
	menuScan       *systray.MenuItem
	menuTorch      *systray.MenuItem
	menuLastResult *systray.MenuItem
}

// New creates a new Tray. scanning is the state shown until the first toggle.
func New(scanning bool) *Tray {
	return &Tray{scanning: scanning}
}

// OnScanToggle sets the callback run when scanning is paused or resumed
// from the menu. When it fails the menu keeps its previous state.
func (t *Tray) OnScanToggle(fn func(scanning bool) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onScanToggle = fn
}

// OnTorchToggle sets the callback run when the torch item is clicked.
func (t *Tray) OnTorchToggle(fn func(on bool) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTorchToggle = fn
}

// OnRescan sets the callback run when the rescan item is clicked.
func (t *Tray) OnRescan(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRescan = fn
}

// OnOpenViewer sets the callback run when the viewer item is clicked.
func (t *Tray) OnOpenViewer(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpenViewer = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, func() {})
}

// Quit stops a running tray.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Scanview")
	systray.SetTooltip("Scanview QR Scanner")

	t.mu.Lock()
	t.menuScan = systray.AddMenuItem(scanTitle(t.scanning), "Pause or resume scanning")
	t.menuTorch = systray.AddMenuItem(torchTitle(t.torch), "Switch the camera torch")
	menuRescan := systray.AddMenuItem("Scan Again", "Scan for the next code")
	systray.AddSeparator()

	t.menuLastResult = systray.AddMenuItem("Last: none", "Last scanned code")
	t.menuLastResult.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuViewer := systray.AddMenuItem("Open Viewer...", "Open the live viewer in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Scanview")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuScan.ClickedCh:
				t.handleScanToggle()
			case <-t.menuTorch.ClickedCh:
				t.handleTorchToggle()
			case <-menuRescan.ClickedCh:
				t.handleRescan()
			case <-menuViewer.ClickedCh:
				t.handleOpenViewer()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				systray.Quit()
				return
			}
		}
	}()
}

// handleScanToggle handles the scan menu item click.
func (t *Tray) handleScanToggle() {
	t.mu.RLock()
	next := !t.scanning
	callback := t.onScanToggle
	t.mu.RUnlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		if err := callback(next); err != nil {
			return
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.scanning = next
	if t.menuScan != nil {
		t.menuScan.SetTitle(scanTitle(next))
	}
}

// handleTorchToggle handles the torch menu item click.
func (t *Tray) handleTorchToggle() {
	t.mu.RLock()
	next := !t.torch
	callback := t.onTorchToggle
	t.mu.RUnlock()

	if callback != nil {
		if err := callback(next); err != nil {
			return
		}
	}

	t.SetTorch(next)
}

func (t *Tray) handleRescan() {
	t.mu.RLock()
	callback := t.onRescan
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleOpenViewer() {
	t.mu.RLock()
	callback := t.onOpenViewer
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// SetTorch updates the torch item, for changes made outside the menu.
func (t *Tray) SetTorch(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.torch = on
	if t.menuTorch != nil {
		t.menuTorch.SetTitle(torchTitle(on))
	}
}

// SetLastResult updates the last result display in the menu.
func (t *Tray) SetLastResult(text string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuLastResult != nil {
		t.menuLastResult.SetTitle(lastResultTitle(text))
	}
}

// IsScanning returns the scanning state shown in the menu.
func (t *Tray) IsScanning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.scanning
}

// Torch returns the torch state shown in the menu.
func (t *Tray) Torch() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.torch
}

func scanTitle(scanning bool) string {
	if scanning {
		return "● Scanning"
	}
	return "○ Paused"
}

func torchTitle(on bool) string {
	if on {
		return "Torch: on"
	}
	return "Torch: off"
}

func lastResultTitle(text string) string {
	if text == "" {
		return "Last: none"
	}
	r := []rune(text)
	if len(r) > lastResultWidth {
		text = string(r[:lastResultWidth-1]) + "…"
	}
	return "Last: " + text
}
