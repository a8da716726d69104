package render

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/inkpost/internal/fault"
)

type fakeEngine struct {
	mu         sync.Mutex
	closed     int
	closedCh   chan struct{}
	page       *fakePage
	newPageErr error
}

func newFakeEngine() *fakeEngine {
	e := &fakeEngine{closedCh: make(chan struct{})}
	e.page = &fakePage{engine: e, pdf: []byte("%PDF-1.7")}
	return e
}

func (e *fakeEngine) NewPage() (page, error) {
	if e.newPageErr != nil {
		return nil, e.newPageErr
	}
	return e.page, nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	if e.closed == 1 {
		close(e.closedCh)
	}
	return nil
}

func (e *fakeEngine) closeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

type fakePage struct {
	engine     *fakeEngine
	content    string
	opts       pdfOptions
	pdf        []byte
	contentErr error
	pdfErr     error
	blockPDF   bool
	closed     int
}

func (p *fakePage) SetContent(html string) error {
	p.content = html
	return p.contentErr
}

func (p *fakePage) PDF(opts pdfOptions) ([]byte, error) {
	p.opts = opts
	if p.blockPDF {
		<-p.engine.closedCh
		return nil, errors.New("target closed")
	}
	return p.pdf, p.pdfErr
}

func (p *fakePage) Close() error {
	p.closed++
	return nil
}

func newTestChromium(cfg Config, eng *fakeEngine) (*Chromium, *int) {
	launches := 0
	c := newChromiumWithLauncher(cfg, func() (engine, error) {
		launches++
		return eng, nil
	})
	return c, &launches
}

func TestChromium_Render(t *testing.T) {
	eng := newFakeEngine()
	c, launches := newTestChromium(Config{}, eng)

	pdf, err := c.Render(context.Background(), "<h1>Report</h1>")
	require.NoError(t, err)

	assert.Equal(t, []byte("%PDF-1.7"), pdf)
	assert.Equal(t, 1, *launches)
	assert.Equal(t, "<h1>Report</h1>", eng.page.content)
	assert.Equal(t, pdfOptions{Format: "A4", Margin: "1cm", PrintBackground: true}, eng.page.opts)
	assert.Equal(t, 1, eng.page.closed)
	assert.Equal(t, 1, eng.closeCount())
}

func TestChromium_RenderCustomPage(t *testing.T) {
	eng := newFakeEngine()
	c, _ := newTestChromium(Config{PageFormat: "Letter", Margin: "0.5in"}, eng)

	_, err := c.Render(context.Background(), "<p>hi</p>")
	require.NoError(t, err)
	assert.Equal(t, "Letter", eng.page.opts.Format)
	assert.Equal(t, "0.5in", eng.page.opts.Margin)
}

func TestChromium_FreshEnginePerRender(t *testing.T) {
	eng := newFakeEngine()
	c, launches := newTestChromium(Config{}, eng)

	for i := 0; i < 3; i++ {
		_, err := c.Render(context.Background(), "<p>hi</p>")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, *launches)
}

func TestChromium_LaunchFailure(t *testing.T) {
	c := newChromiumWithLauncher(Config{}, func() (engine, error) {
		return nil, errors.New("chromium not installed")
	})

	_, err := c.Render(context.Background(), "<p>hi</p>")
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.RenderFailure))
	assert.Contains(t, err.Error(), "chromium not installed")
}

func TestChromium_ReleasesOnEveryFailure(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(e *fakeEngine)
		wantPageClose int
	}{
		{
			name:          "page",
			setup:         func(e *fakeEngine) { e.newPageErr = errors.New("no page") },
			wantPageClose: 0,
		},
		{
			name:          "content",
			setup:         func(e *fakeEngine) { e.page.contentErr = errors.New("bad content") },
			wantPageClose: 1,
		},
		{
			name:          "print",
			setup:         func(e *fakeEngine) { e.page.pdfErr = errors.New("print failed") },
			wantPageClose: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			tt.setup(eng)
			c, _ := newTestChromium(Config{}, eng)

			_, err := c.Render(context.Background(), "<p>hi</p>")
			require.Error(t, err)
			assert.True(t, fault.Is(err, fault.RenderFailure))
			assert.Equal(t, 1, eng.closeCount(), "engine closes")
			assert.Equal(t, tt.wantPageClose, eng.page.closed, "page closes")
		})
	}
}

func TestChromium_CancelClosesEngine(t *testing.T) {
	eng := newFakeEngine()
	eng.page.blockPDF = true
	c, _ := newTestChromium(Config{}, eng)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.Render(ctx, "<p>slow</p>")
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, fault.Is(err, fault.RenderFailure))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("render did not return after cancellation")
	}
	assert.Equal(t, 1, eng.closeCount())
}

func TestChromium_AlreadyCancelled(t *testing.T) {
	eng := newFakeEngine()
	c, launches := newTestChromium(Config{}, eng)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Render(ctx, "<p>hi</p>")
	assert.True(t, fault.Is(err, fault.RenderFailure))
	assert.Equal(t, 0, *launches)
}

func TestChromium_Sanitize(t *testing.T) {
	eng := newFakeEngine()
	c, _ := newTestChromium(Config{Sanitize: true}, eng)

	_, err := c.Render(context.Background(), `<p class="lead">hi</p><script>alert(1)</script><img src="data:image/png;base64,iVBORw0KGgo=">`)
	require.NoError(t, err)

	assert.NotContains(t, eng.page.content, "<script")
	assert.Contains(t, eng.page.content, `class="lead"`)
	assert.True(t, strings.Contains(eng.page.content, "data:image/png"), "inline images survive: %s", eng.page.content)
}

func TestFunc(t *testing.T) {
	var r Renderer = Func(func(ctx context.Context, html string) ([]byte, error) {
		return []byte("pdf:" + html), nil
	})

	out, err := r.Render(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "pdf:x", string(out))
}
