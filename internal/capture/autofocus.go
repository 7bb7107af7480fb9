package capture

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

// DefaultFocusInterval is the pause between auto-focus passes.
const DefaultFocusInterval = 2 * time.Second

// Focus modes that need the camera to be asked to focus again and again.
var managedFocusModes = []string{FocusModeAuto, FocusModeMacro}

// AutoFocusManager keeps the camera focused while previewing by triggering a
// focus pass, waiting for it to finish, then waiting interval before the
// next one. Continuous and fixed focus modes need no help and leave it idle.
//
// Start and Stop are called by Manager under its lock.
type AutoFocusManager struct {
	driver   Driver
	interval time.Duration
	active   bool

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewAutoFocusManager binds a focus loop to drv. focusMode is the mode the
// camera was configured with.
func NewAutoFocusManager(drv Driver, focusMode string, interval time.Duration) *AutoFocusManager {
	if interval <= 0 {
		interval = DefaultFocusInterval
	}
	active := slices.Contains(managedFocusModes, focusMode)
	slog.Debug("capture: auto-focus bound", "mode", focusMode, "managed", active)

	return &AutoFocusManager{
		driver:   drv,
		interval: interval,
		active:   active,
	}
}

// Start begins the focus loop. It is a no-op when the loop is already running
// or the focus mode does not need managing.
func (a *AutoFocusManager) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active || a.stopCh != nil {
		return
	}

	a.stopCh = make(chan struct{})
	a.wg.Add(1)
	go a.run(a.stopCh)
}

// Stop cancels any pending focus request and waits for the loop to exit. It
// is safe to call more than once.
func (a *AutoFocusManager) Stop() {
	a.mu.Lock()
	stopCh := a.stopCh
	a.stopCh = nil
	a.mu.Unlock()

	if stopCh == nil {
		return
	}

	close(stopCh)
	a.wg.Wait()

	// The loop has exited, so nothing can issue a new request after this.
	if err := a.driver.CancelAutoFocus(); err != nil {
		slog.Warn("capture: cancel auto-focus failed", "error", err)
	}
}

// Running reports whether the loop is active.
func (a *AutoFocusManager) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopCh != nil
}

func (a *AutoFocusManager) run(stopCh <-chan struct{}) {
	defer a.wg.Done()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		done := make(chan bool, 1)
		err := a.driver.AutoFocus(func(success bool) {
			select {
			case done <- success:
			default:
			}
		})

		if err != nil {
			slog.Warn("capture: auto-focus request failed", "error", err)
		} else {
			select {
			case <-stopCh:
				return
			case ok := <-done:
				if !ok {
					slog.Debug("capture: auto-focus pass did not converge")
				}
			}
		}

		timer := time.NewTimer(a.interval)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
