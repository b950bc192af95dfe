// Package capture renders viral candidate pages and saves them as PNG
// evidence in the session's files directory.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/WessleyAI/pulse/engine/domain"
	"github.com/WessleyAI/pulse/pkg/fn"
)

// FilesDir is the session subdirectory that holds screenshots.
const FilesDir = "files"

// Viewport is a browser window size.
type Viewport struct {
	Width, Height int
	Mobile        bool
}

var viewports = map[domain.Platform]Viewport{
	domain.PlatformInstagram: {Width: 414, Height: 896, Mobile: true},
	domain.PlatformTwitter:   {Width: 1200, Height: 800},
	domain.PlatformLinkedIn:  {Width: 1200, Height: 900},
	domain.PlatformYouTube:   {Width: 1280, Height: 720},
}

var defaultViewport = Viewport{Width: 1920, Height: 1080}

// ViewportFor returns the window size used for a platform.
func ViewportFor(p domain.Platform) Viewport {
	if v, ok := viewports[p]; ok {
		return v
	}
	return defaultViewport
}

var selectors = map[domain.Platform]string{
	domain.PlatformInstagram: "article",
	domain.PlatformTwitter:   "[data-testid='tweet']",
	domain.PlatformYouTube:   "#player-container",
}

// SelectorFor returns the post element selector, "" for a full-page capture.
func SelectorFor(p domain.Platform) string { return selectors[p] }

// Shooter renders one page to PNG bytes.
type Shooter interface {
	Shoot(ctx context.Context, url string, vp Viewport, selector string) ([]byte, error)
	Close() error
}

// Opener starts a Shooter for one capture run.
type Opener func(ctx context.Context) (Shooter, error)

// Options configures pacing.
type Options struct {
	Interval   time.Duration `yaml:"interval"`
	NavTimeout time.Duration `yaml:"nav_timeout"`
}

// DefaultOptions paces captures 2s apart with a 30s navigation timeout.
func DefaultOptions() Options {
	return Options{Interval: 2 * time.Second, NavTimeout: 30 * time.Second}
}

// Capturer screenshots ranked candidates.
type Capturer struct {
	open Opener
	opts Options
	log  *slog.Logger
}

func NewCapturer(open Opener, opts Options, logger *slog.Logger) *Capturer {
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = def.NavTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Capturer{open: open, opts: opts, log: logger}
}

// Capture saves one PNG per candidate with a positive score to
// <sessionDir>/files/<platform>_post_<NNN>.png. Per-item failures are
// counted; the phase error is set only when the browser cannot start or the
// files directory cannot be created.
func (c *Capturer) Capture(ctx context.Context, sessionDir string, items []domain.ScoredItem) domain.ScreenshotPhase {
	var phase domain.ScreenshotPhase
	todo := fn.Filter(items, func(it domain.ScoredItem) bool { return it.Score > 0 })
	if len(todo) == 0 {
		return phase
	}

	dir := filepath.Join(sessionDir, FilesDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		phase.Error = fmt.Sprintf("create files dir: %v", err)
		phase.FailedCount = len(todo)
		return phase
	}

	shooter, err := c.open(ctx)
	if err != nil {
		phase.Error = fmt.Sprintf("start browser: %v", err)
		phase.FailedCount = len(todo)
		return phase
	}
	defer func() {
		if err := shooter.Close(); err != nil {
			c.log.Warn("close browser", "err", err)
		}
	}()

	limiter := rate.NewLimiter(rate.Every(c.opts.Interval), 1)
	for i, it := range todo {
		if err := limiter.Wait(ctx); err != nil {
			phase.FailedCount += len(todo) - i
			phase.Error = err.Error()
			break
		}
		shot, err := c.captureOne(ctx, shooter, dir, i+1, it)
		if err != nil {
			phase.FailedCount++
			c.log.Warn("screenshot failed", "url", it.URL, "platform", it.Platform, "err", err)
			continue
		}
		phase.Captured = append(phase.Captured, shot)
		phase.CapturedCount++
	}

	c.log.Info("screenshots done", "captured", phase.CapturedCount, "failed", phase.FailedCount)
	return phase
}

func (c *Capturer) captureOne(ctx context.Context, s Shooter, dir string, index int, it domain.ScoredItem) (domain.Screenshot, error) {
	if !strings.HasPrefix(it.URL, "http://") && !strings.HasPrefix(it.URL, "https://") {
		return domain.Screenshot{}, fmt.Errorf("invalid url %q", it.URL)
	}

	navCtx, cancel := context.WithTimeout(ctx, c.opts.NavTimeout)
	defer cancel()

	png, err := s.Shoot(navCtx, it.URL, ViewportFor(it.Platform), SelectorFor(it.Platform))
	if err != nil {
		return domain.Screenshot{}, err
	}
	if len(png) == 0 {
		return domain.Screenshot{}, fmt.Errorf("empty screenshot")
	}

	platform := string(it.Platform)
	if platform == "" {
		platform = "web"
	}
	name := fmt.Sprintf("%s_post_%03d.png", platform, index)
	if err := os.WriteFile(filepath.Join(dir, name), png, 0o644); err != nil {
		return domain.Screenshot{}, fmt.Errorf("write %s: %w", name, err)
	}

	return domain.Screenshot{
		Platform: it.Platform,
		URL:      it.URL,
		Title:    it.Title,
		Filename: FilesDir + "/" + name,
		Score:    it.Score,
		Metrics:  it.Metrics,
	}, nil
}

// Cleanup deletes screenshots older than maxAge under root, which holds one
// directory per session, and removes files directories left empty.
func Cleanup(root string, maxAge time.Duration, now time.Time) (int, error) {
	sessions, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("capture: cleanup: %w", err)
	}

	cutoff := now.Add(-maxAge)
	removed := 0
	for _, s := range sessions {
		if !s.IsDir() {
			continue
		}
		dir := filepath.Join(root, s.Name(), FilesDir)
		pngs, _ := filepath.Glob(filepath.Join(dir, "*.png"))
		for _, p := range pngs {
			info, err := os.Stat(p)
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(p); err == nil {
				removed++
			}
		}
		// Fails harmlessly when the directory still has files.
		_ = os.Remove(dir)
	}
	return removed, nil
}
