package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// elementWait bounds how long a post selector may take to appear before
// falling back to a full-page capture.
const elementWait = 5 * time.Second

// RodOptions selects the browser. RemoteURL connects to a running Chrome
// instead of launching one.
type RodOptions struct {
	RemoteURL string `yaml:"remote_url"`
	Bin       string `yaml:"bin"`
}

// RodShooter drives headless Chromium with stealth pages.
type RodShooter struct {
	browser *rod.Browser
	lnch    *launcher.Launcher
	log     *slog.Logger
}

// RodOpener returns an Opener that launches or connects to Chrome per run.
func RodOpener(opts RodOptions, logger *slog.Logger) Opener {
	return func(ctx context.Context) (Shooter, error) {
		return OpenRod(ctx, opts, logger)
	}
}

// OpenRod starts a RodShooter.
func OpenRod(ctx context.Context, opts RodOptions, logger *slog.Logger) (*RodShooter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &RodShooter{log: logger}

	wsURL := opts.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true).Set("disable-blink-features", "AutomationControlled")
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		u, err := l.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("capture: launch: %w", err)
		}
		wsURL = u
		s.lnch = l
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if s.lnch != nil {
			s.lnch.Cleanup()
		}
		return nil, fmt.Errorf("capture: connect: %w", err)
	}
	s.browser = b
	return s, nil
}

// Shoot opens a stealth page, sizes the viewport, navigates and captures
// the post element when present, the full page otherwise.
func (s *RodShooter) Shoot(ctx context.Context, url string, vp Viewport, selector string) ([]byte, error) {
	page, err := stealth.Page(s.browser)
	if err != nil {
		return nil, fmt.Errorf("capture: create tab: %w", err)
	}
	defer page.Close()

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1,
		Mobile:            vp.Mobile,
	}).Call(page); err != nil {
		s.log.Warn("capture: set viewport", "err", err)
	}

	if err := page.Context(ctx).Navigate(url); err != nil {
		return nil, fmt.Errorf("capture: navigate %s: %w", url, err)
	}
	if err := page.Context(ctx).WaitLoad(); err != nil {
		s.log.Warn("capture: wait load timeout", "url", url, "err", err)
	}

	if selector != "" {
		if el, err := page.Context(ctx).Timeout(elementWait).Element(selector); err == nil {
			if png, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0); err == nil {
				return png, nil
			}
		}
	}
	return page.Context(ctx).Screenshot(true, nil)
}

// Close shuts the browser down and removes a launched Chrome's profile.
func (s *RodShooter) Close() error {
	var err error
	if s.browser != nil {
		err = s.browser.Close()
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
	}
	return err
}
