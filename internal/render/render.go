// Package render converts HTML mail bodies into printable PDF documents.
package render

import (
	"context"
)

// Renderer turns an HTML fragment into PDF bytes.
type Renderer interface {
	Render(ctx context.Context, html string) ([]byte, error)
}

// Func adapts a plain function to the Renderer interface.
type Func func(ctx context.Context, html string) ([]byte, error)

// Render calls f(ctx, html).
func (f Func) Render(ctx context.Context, html string) ([]byte, error) {
	return f(ctx, html)
}

const (
	DefaultPageFormat = "A4"
	DefaultMargin     = "1cm"
)

// Config controls the Chromium renderer.
type Config struct {
	// PageFormat is a paper format understood by Chromium, e.g. "A4" or "Letter".
	PageFormat string
	// Margin is applied to all four sides, e.g. "1cm".
	Margin string
	// Sanitize strips scripts and unsafe markup before the HTML is loaded.
	Sanitize bool
	// DriverDirectory overrides where the playwright driver is looked up.
	DriverDirectory string
	// ExecutablePath points at a Chromium binary instead of the bundled one.
	ExecutablePath string
}

func (c Config) withDefaults() Config {
	if c.PageFormat == "" {
		c.PageFormat = DefaultPageFormat
	}
	if c.Margin == "" {
		c.Margin = DefaultMargin
	}
	return c
}
