package session

import (
	"errors"
	"log/slog"
	"time"

	"github.com/ayusman/scanview/internal/capture"
	"github.com/ayusman/scanview/internal/decode"
)

// run requests one frame at a time, decodes it and asks for the next.
func (s *Session) run(stopCh <-chan struct{}) {
	defer s.wg.Done()

	frames := make(chan capture.Frame, 1)
	suppressing := false

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		// A frame that arrived after its request timed out is stale.
		select {
		case <-frames:
		default:
		}

		if !s.manager.RequestFrame(frames) {
			if !sleep(stopCh, retryInterval) {
				return
			}
			continue
		}

		var frame capture.Frame
		timer := time.NewTimer(s.cfg.RequestTimeout)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
			slog.Debug("session: frame request timed out", "session", s.id)
			continue
		case frame = <-frames:
			timer.Stop()
		}
		s.countFrame()

		if suppressing {
			changed, percent, err := s.gate.Changed(frame)
			if err != nil {
				slog.Warn("session: scene comparison failed", "session", s.id, "error", err)
			} else if !changed {
				continue
			}
			slog.Debug("session: scene changed", "session", s.id, "percent", percent)
			suppressing = false
		}

		res, ok := s.decodeFrame(frame)
		if !ok {
			continue
		}
		s.deliver(res)

		if !s.cfg.Continuous {
			s.setState(StateHolding)
			select {
			case <-stopCh:
				return
			case <-s.rescanCh:
				s.setState(StateScanning)
			}
			continue
		}

		if s.gate != nil {
			if err := s.gate.Mark(frame); err != nil {
				slog.Warn("session: could not keep scene baseline", "session", s.id, "error", err)
			} else {
				suppressing = true
			}
		}
		if !sleep(stopCh, s.cfg.ResumeDelay) {
			return
		}
	}
}

// decodeFrame crops frame to the scan region and decodes it.
func (s *Session) decodeFrame(frame capture.Frame) (*decode.Result, bool) {
	src, err := s.manager.BuildLuminanceSource(frame.Data, frame.Width, frame.Height)
	if errors.Is(err, capture.ErrNoFramingRect) {
		// Manual framing drops the screen rectangle; place it again.
		if err := s.placeFramingRect(); err != nil {
			slog.Debug("session: scan region not placed", "session", s.id, "error", err)
			return nil, false
		}
		src, err = s.manager.BuildLuminanceSource(frame.Data, frame.Width, frame.Height)
	}
	if err != nil {
		slog.Debug("session: frame not usable", "session", s.id, "seq", frame.Seq, "error", err)
		return nil, false
	}

	res, err := s.decoder.Decode(src)
	switch {
	case errors.Is(err, decode.ErrNoCode):
		return nil, false
	case err != nil:
		slog.Warn("session: decode failed", "session", s.id, "seq", frame.Seq, "error", err)
		return nil, false
	case res == nil:
		return nil, false
	}
	return res, true
}

// sleep waits d and reports false when stopCh closed first.
func sleep(stopCh <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-stopCh:
		return false
	case <-timer.C:
		return true
	}
}
