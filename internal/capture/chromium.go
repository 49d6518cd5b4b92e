package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"epd4in2b/internal/epd"
)

// Default capture parameters. The viewport matches the panel so pages can be
// laid out pixel for pixel.
const (
	DefaultWidth   = epd.Width
	DefaultHeight  = epd.Height
	DefaultTimeout = 30 * time.Second

	settleDelay = 500 * time.Millisecond
)

// Options defines parameters for a Chromium-based screenshot capture.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/frame".
	URL string

	// ReadySelector, if set, is a CSS selector that must be visible before
	// the screenshot is taken, e.g. `[data-ready="true"]`.
	ReadySelector string

	// Width and Height are the viewport dimensions in pixels. Zero selects
	// the panel size.
	Width  int
	Height int

	// Timeout bounds the entire capture operation.
	Timeout time.Duration
}

func (o *Options) applyDefaults() error {
	if o.URL == "" {
		return fmt.Errorf("capture: URL is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

func (o Options) tasks(buf *[]byte) chromedp.Tasks {
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(o.Width), int64(o.Height)),
		chromedp.Navigate(o.URL),
	}
	if o.ReadySelector != "" {
		tasks = append(tasks, chromedp.WaitVisible(o.ReadySelector, chromedp.ByQuery))
	}
	// Small extra delay to allow final paints.
	tasks = append(tasks,
		chromedp.Sleep(settleDelay),
		chromedp.FullScreenshot(buf, 100),
	)
	return tasks
}

// CapturePNG launches a headless Chromium instance via chromedp, navigates to
// opts.URL and returns a full-color PNG screenshot of the viewport.
//
// Packing into panel planes is left to the caller (see convert.PackBytes).
func CapturePNG(parentCtx context.Context, opts Options) ([]byte, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	if err := chromedp.Run(ctx, opts.tasks(&png)); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	if len(png) == 0 {
		return nil, fmt.Errorf("capture: empty screenshot of %s", opts.URL)
	}
	return png, nil
}
