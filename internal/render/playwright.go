package render

import (
	"errors"
	"fmt"

	"github.com/playwright-community/playwright-go"
)

// Install downloads the playwright driver and the Chromium build it pins.
func Install(cfg Config) error {
	if err := playwright.Install(runOptions(cfg)); err != nil {
		return fmt.Errorf("could not install playwright chromium: %w", err)
	}
	return nil
}

func runOptions(cfg Config) *playwright.RunOptions {
	return &playwright.RunOptions{
		DriverDirectory:     cfg.DriverDirectory,
		SkipInstallBrowsers: cfg.ExecutablePath != "",
		Browsers:            []string{"chromium"},
	}
}

// playwrightLauncher starts a driver, a headless Chromium and a browser
// context with JavaScript disabled. Anything started before a failure is
// shut down again.
func playwrightLauncher(cfg Config) launcher {
	return func() (engine, error) {
		pw, err := playwright.Run(runOptions(cfg))
		if err != nil {
			return nil, fmt.Errorf("could not start playwright: %w", err)
		}

		launchOpts := playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(true),
		}
		if cfg.ExecutablePath != "" {
			launchOpts.ExecutablePath = playwright.String(cfg.ExecutablePath)
		}
		browser, err := pw.Chromium.Launch(launchOpts)
		if err != nil {
			pw.Stop()
			return nil, fmt.Errorf("could not launch chromium: %w", err)
		}

		bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
			JavaScriptEnabled: playwright.Bool(false),
		})
		if err != nil {
			browser.Close()
			pw.Stop()
			return nil, fmt.Errorf("could not create browser context: %w", err)
		}

		return &playwrightEngine{pw: pw, browser: browser, context: bctx}, nil
	}
}

type playwrightEngine struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
}

func (e *playwrightEngine) NewPage() (page, error) {
	p, err := e.context.NewPage()
	if err != nil {
		return nil, err
	}
	return &playwrightPage{page: p}, nil
}

func (e *playwrightEngine) Close() error {
	return errors.Join(
		e.context.Close(),
		e.browser.Close(),
		e.pw.Stop(),
	)
}

type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) SetContent(html string) error {
	return p.page.SetContent(html)
}

func (p *playwrightPage) PDF(opts pdfOptions) ([]byte, error) {
	return p.page.PDF(playwright.PagePdfOptions{
		Format:          playwright.String(opts.Format),
		PrintBackground: playwright.Bool(opts.PrintBackground),
		Margin: &playwright.Margin{
			Top:    playwright.String(opts.Margin),
			Right:  playwright.String(opts.Margin),
			Bottom: playwright.String(opts.Margin),
			Left:   playwright.String(opts.Margin),
		},
	})
}

func (p *playwrightPage) Close() error {
	return p.page.Close()
}
