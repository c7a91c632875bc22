// internal/browser/executor.go
package browser

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// PageExecutor is the contract for low-level page control. The manager's
// action logic is written against this interface so tests run without a
// browser; cdpExecutor is the production implementation.
type PageExecutor interface {
	// Navigate loads a URL and waits for the load event.
	Navigate(ctx context.Context, url string) error

	// NavigateBack goes back one entry in session history.
	NavigateBack(ctx context.Context) error

	// CaptureScreenshot grabs a PNG of the current viewport.
	CaptureScreenshot(ctx context.Context) ([]byte, error)

	// DispatchMouse sends one raw mouse event.
	DispatchMouse(ctx context.Context, p *input.DispatchMouseEventParams) error

	// DispatchKey sends one raw key event.
	DispatchKey(ctx context.Context, p *input.DispatchKeyEventParams) error

	// InsertText types a string into the focused element.
	InsertText(ctx context.Context, text string) error

	// Evaluate runs a JavaScript expression, optionally unmarshaling the
	// result into res.
	Evaluate(ctx context.Context, expr string, res any) error

	// Location returns the current page URL.
	Location(ctx context.Context) (string, error)
}

// cdpExecutor drives the remote page over CDP via chromedp. The tab context
// carries the chromedp target; each call combines it with the operational
// context so both session teardown and per-call deadlines are honored.
type cdpExecutor struct {
	tab    context.Context
	logger *zap.Logger
}

var _ PageExecutor = (*cdpExecutor)(nil)

func newCDPExecutor(tab context.Context, logger *zap.Logger) *cdpExecutor {
	return &cdpExecutor{tab: tab, logger: logger.Named("cdp")}
}

// run executes chromedp actions on the tab, bounded by the operational ctx.
func (e *cdpExecutor) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(e.tab, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (e *cdpExecutor) Navigate(ctx context.Context, url string) error {
	return e.run(ctx, chromedp.Navigate(url))
}

func (e *cdpExecutor) NavigateBack(ctx context.Context) error {
	return e.run(ctx, chromedp.NavigateBack())
}

func (e *cdpExecutor) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := e.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(c)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (e *cdpExecutor) DispatchMouse(ctx context.Context, p *input.DispatchMouseEventParams) error {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return e.run(opCtx, chromedp.ActionFunc(func(c context.Context) error {
		return p.Do(c)
	}))
}

func (e *cdpExecutor) DispatchKey(ctx context.Context, p *input.DispatchKeyEventParams) error {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return e.run(opCtx, chromedp.ActionFunc(func(c context.Context) error {
		return p.Do(c)
	}))
}

func (e *cdpExecutor) InsertText(ctx context.Context, text string) error {
	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return e.run(opCtx, chromedp.ActionFunc(func(c context.Context) error {
		return input.InsertText(text).Do(c)
	}))
}

func (e *cdpExecutor) Evaluate(ctx context.Context, expr string, res any) error {
	return e.run(ctx, chromedp.Evaluate(expr, res))
}

func (e *cdpExecutor) Location(ctx context.Context) (string, error) {
	var loc string
	if err := e.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// combineContext creates a context that carries parent's values (including
// the chromedp target) but is canceled when either context ends.
func combineContext(parent, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
