package parser

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
)

// renderPageHTML loads the page in headless Chrome so script-built content
// is present, then returns the document HTML.
func renderPageHTML(ctx context.Context, urlStr string, timeout time.Duration, waitSelector string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserAgent(defaultUserAgent),
	)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	if err := chromedp.Run(browserCtx, chromedp.Navigate(urlStr)); err != nil {
		return "", err
	}

	// soft waits: a page that never settles still yields whatever HTML it has
	readyCtx, readyCancel := context.WithTimeout(browserCtx, 10*time.Second)
	_ = chromedp.Run(readyCtx, chromedp.WaitReady("body", chromedp.ByQuery))
	readyCancel()

	if waitSelector != "" {
		selCtx, selCancel := context.WithTimeout(browserCtx, 15*time.Second)
		_ = chromedp.Run(selCtx, chromedp.WaitVisible(waitSelector, chromedp.ByQuery))
		selCancel()
	}

	var html string
	if err := chromedp.Run(browserCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}
