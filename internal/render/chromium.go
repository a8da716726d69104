package render

import (
	"context"
	"log/slog"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/shineum/inkpost/internal/fault"
)

// engine is a running browser able to open pages. Close releases the
// browser and everything started to run it.
type engine interface {
	NewPage() (page, error)
	Close() error
}

type page interface {
	SetContent(html string) error
	PDF(opts pdfOptions) ([]byte, error)
	Close() error
}

type pdfOptions struct {
	Format          string
	Margin          string
	PrintBackground bool
}

// launcher starts a fresh engine.
type launcher func() (engine, error)

// Chromium renders HTML with a headless Chromium driven by playwright. Each
// call starts its own browser and shuts it down before returning, so no
// state is shared between renders.
type Chromium struct {
	cfg    Config
	launch launcher
	policy *bluemonday.Policy
}

// NewChromium creates a Chromium renderer.
func NewChromium(cfg Config) *Chromium {
	cfg = cfg.withDefaults()
	return newChromiumWithLauncher(cfg, playwrightLauncher(cfg))
}

// newChromiumWithLauncher creates a Chromium renderer with a custom engine
// launcher, used for testing.
func newChromiumWithLauncher(cfg Config, launch launcher) *Chromium {
	cfg = cfg.withDefaults()
	c := &Chromium{cfg: cfg, launch: launch}
	if cfg.Sanitize {
		c.policy = newPolicy()
	}
	return c
}

// Render prints html to a PDF. Cancelling ctx closes the engine so blocked
// browser calls return promptly.
func (c *Chromium) Render(ctx context.Context, html string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fault.Wrap(fault.RenderFailure, err, "render cancelled")
	}
	if c.policy != nil {
		html = c.policy.Sanitize(html)
	}

	eng, err := c.launch()
	if err != nil {
		return nil, fault.Wrap(fault.RenderFailure, err, "could not start rendering engine")
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := eng.Close(); err != nil {
				slog.Warn("failed to shut down rendering engine", "error", err)
			}
		})
	}
	defer release()
	stop := context.AfterFunc(ctx, release)
	defer stop()

	pg, err := eng.NewPage()
	if err != nil {
		return nil, c.failure(ctx, err, "could not open page")
	}
	defer func() {
		if err := pg.Close(); err != nil {
			slog.Debug("failed to close page", "error", err)
		}
	}()

	if err := pg.SetContent(html); err != nil {
		return nil, c.failure(ctx, err, "could not load content")
	}

	pdf, err := pg.PDF(pdfOptions{
		Format:          c.cfg.PageFormat,
		Margin:          c.cfg.Margin,
		PrintBackground: true,
	})
	if err != nil {
		return nil, c.failure(ctx, err, "could not print document")
	}
	if err := ctx.Err(); err != nil {
		return nil, fault.Wrap(fault.RenderFailure, err, "render cancelled")
	}
	return pdf, nil
}

// failure reports err, preferring the context error when the engine was
// torn down by cancellation.
func (c *Chromium) failure(ctx context.Context, err error, message string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fault.Wrap(fault.RenderFailure, ctxErr, "render cancelled")
	}
	return fault.Wrap(fault.RenderFailure, err, message)
}
