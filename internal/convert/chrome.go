package convert

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"docdiff/internal/config"
)

// ChromePDF renders HTML to PDF in a headless Chrome started per export.
type ChromePDF struct {
	execPath  string
	noSandbox bool
	paper     config.PaperSize
	margin    float64
	timeout   time.Duration
}

// NewChromePDF builds the exporter from the pdf section of cfg.
func NewChromePDF(cfg config.Config) *ChromePDF {
	paper, ok := cfg.PDF.PaperSizes[cfg.PDF.DefaultPaper]
	if !ok {
		paper = config.PaperSize{Width: 8.27, Height: 11.69}
	}
	return &ChromePDF{
		execPath:  cfg.PDF.ChromePath,
		noSandbox: cfg.PDF.ChromeNoSandbox,
		paper:     paper,
		margin:    cfg.PDF.Margin,
		timeout:   time.Duration(cfg.PDF.TimeoutSecs) * time.Second,
	}
}

// Export renders html and writes the PDF bytes to outPath.
func (c *ChromePDF) Export(ctx context.Context, html string, format Format, outPath string) error {
	if format.Name != FormatPDF.Name {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format.Name)
	}
	pdf, err := c.render(ctx, html)
	if err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	if err := os.WriteFile(outPath, pdf, 0o600); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func (c *ChromePDF) render(ctx context.Context, html string) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "chromedata-*")
	if err != nil {
		return nil, fmt.Errorf("cannot create temp profile dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	allocatorOptions := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(tmpDir),
		// Software rendering only; minimal containers have no GPU stack.
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-gpu-compositing", true),
		chromedp.Flag("disable-features", "Vulkan,UseSkiaRenderer"),
		chromedp.Flag("use-gl", "swiftshader"),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if c.execPath != "" {
		allocatorOptions = append(allocatorOptions, chromedp.ExecPath(c.execPath))
	}
	if c.noSandbox {
		allocatorOptions = append(allocatorOptions, chromedp.Flag("no-sandbox", true))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocatorOptions...)
	defer cancelAlloc()
	chromeCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	if c.timeout > 0 {
		chromeCtx, cancel = context.WithTimeout(chromeCtx, c.timeout)
		defer cancel()
	}

	return renderInTab(chromeCtx, html, c.paper, c.margin)
}

// renderInTab loads html into the tab bound to ctx and prints it.
func renderInTab(ctx context.Context, html string, paper config.PaperSize, margin float64) ([]byte, error) {
	var pdfBuf []byte
	err := chromedp.Run(ctx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frame, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frame.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdfBuf, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(paper.Width).
				WithPaperHeight(paper.Height).
				WithMarginTop(margin).
				WithMarginBottom(margin).
				WithMarginLeft(margin).
				WithMarginRight(margin).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, err
	}
	return pdfBuf, nil
}
