package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/ayusman/scanview/internal/capture"
	"github.com/ayusman/scanview/internal/config"
	"github.com/ayusman/scanview/internal/decode"
	"github.com/ayusman/scanview/internal/server"
	"github.com/ayusman/scanview/internal/session"
	"github.com/ayusman/scanview/internal/store"
	"github.com/ayusman/scanview/internal/tray"
)

func main() {
	configPath := flag.String("config", "scanview.yaml", "path to the YAML config file")
	noTray := flag.Bool("no-tray", false, "run without the system tray")
	paused := flag.Bool("paused", false, "start with scanning paused")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scanview: %v\n", err)
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.Log.Level)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(cfg, *noTray, *paused); err != nil {
		slog.Error("scanview: exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, noTray, paused bool) error {
	if dir := filepath.Dir(cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}
	st, err := store.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer st.Close()

	settings := st.Settings()
	applySettings(&cfg, settings)

	screen := image.Pt(cfg.Screen.Width, cfg.Screen.Height)
	manager := capture.NewManager(&capture.DeviceOpener{
		DeviceID: cfg.Camera.Device,
		FPS:      cfg.Camera.FPS,
		MaxZoom:  cfg.Camera.MaxZoom,
	}, capture.Options{
		WidthScale:    cfg.Framing.WidthScale,
		FocusInterval: cfg.Focus.Interval,
	})
	if cfg.Framing.ManualWidth > 0 && cfg.Framing.ManualHeight > 0 {
		manager.SetManualFramingRect(cfg.Framing.ManualWidth, cfg.Framing.ManualHeight)
	}

	surface := server.NewStreamSurface(screen)
	sess, err := session.New(session.Config{
		Manager:         manager,
		Surface:         surface,
		Overlay:         session.CanvasOverlay(screen),
		Decoder:         decode.NewQRDecoder(decode.DefaultConfig()),
		Continuous:      cfg.Scan.Continuous,
		ResumeDelay:     cfg.Scan.ResumeDelay,
		RequestTimeout:  cfg.Scan.RequestTimeout,
		SuppressRepeats: cfg.Scan.SuppressRepeats,
		ChangeThreshold: cfg.Scan.ChangeThreshold,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	// Zoom is lost with the camera handle, so restore it on every resume.
	resume := func() error {
		if err := sess.Resume(); err != nil {
			return err
		}
		if zoom, err := settings.Int(store.KeyZoom); err == nil {
			if err := manager.SetZoom(zoom); err != nil {
				slog.Warn("scanview: could not restore zoom", "zoom", zoom, "error", err)
			}
		}
		return nil
	}

	srv := server.New(server.Config{
		StaticDir: cfg.Server.StaticDir,
		Store:     st,
		Session:   sess,
		Stream:    surface,
	})
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("scanview: starting server", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if !paused {
		if err := resume(); err != nil {
			slog.Error("scanview: could not start scanning", "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if noTray {
		select {
		case <-ctx.Done():
		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
		}
	} else {
		go func() {
			if err := <-serveErr; err != nil {
				slog.Error("scanview: server failed", "error", err)
				stop()
			}
		}()
		runTray(ctx, sess, manager, resume, "http://"+cfg.Server.Addr, !paused)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("scanview: server shutdown", "error", err)
	}
	return nil
}

// runTray blocks until the tray quits or ctx is done.
func runTray(ctx context.Context, sess *session.Session, manager *capture.Manager, resume func() error, viewerURL string, scanning bool) {
	t := tray.New(scanning)

	unsubscribe := sess.Subscribe(func(res *decode.Result) {
		t.SetLastResult(res.Text)
	})
	defer unsubscribe()

	t.OnScanToggle(func(scanning bool) error {
		if scanning {
			return resume()
		}
		return sess.Pause()
	})
	t.OnTorchToggle(manager.SetTorch)
	t.OnRescan(sess.Rescan)
	t.OnOpenViewer(func() {
		if err := openBrowser(viewerURL); err != nil {
			slog.Warn("scanview: could not open viewer", "url", viewerURL, "error", err)
		}
	})

	go func() {
		<-ctx.Done()
		t.Quit()
	}()
	t.Run()
}

// applySettings overrides cfg with preferences saved from a previous run.
func applySettings(cfg *config.Config, settings *store.SettingsRepository) {
	if scale, err := settings.Float(store.KeyWidthScale); err == nil {
		if scale > 0 && scale <= 1 {
			cfg.Framing.WidthScale = scale
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("scanview: ignoring saved width scale", "error", err)
	}

	width, werr := settings.Int(store.KeyManualWidth)
	height, herr := settings.Int(store.KeyManualHeight)
	if werr == nil && herr == nil && width > 0 && height > 0 {
		cfg.Framing.ManualWidth = width
		cfg.Framing.ManualHeight = height
	}

	if continuous, err := settings.Bool(store.KeyContinuous); err == nil {
		cfg.Scan.Continuous = continuous
	}
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
