package domains

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpp "github.com/chromedp/cdproto/page"
)

// Page exposes the CDP Page domain actions used by the simulator.
type Page interface {
	CaptureScreenshot(ctx context.Context) ([]byte, error)
	Enable(context.Context) error
	Navigate(ctx context.Context, url, referrer, frameID string) (docID string, err error)
}

var _ Page = &page{}

type page struct {
	exec cdp.Executor
}

// NewPage returns a new CDP Page domain wrapper.
func NewPage(exec cdp.Executor) Page {
	return &page{exec}
}

func (p *page) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	action := cdpp.CaptureScreenshot().WithFormat(cdpp.CaptureScreenshotFormatPng)
	buf, err := action.Do(cdp.WithExecutor(ctx, p.exec))
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}

	return buf, nil
}

func (p *page) Enable(ctx context.Context) error {
	action := cdpp.Enable()
	if err := action.Do(cdp.WithExecutor(ctx, p.exec)); err != nil {
		return fmt.Errorf("enabling page CDP domain: %w", err)
	}

	return nil
}

// Navigate executes the CDP Page.navigate command. A navigation that the
// browser reports as failed (e.g. DNS errors) is returned as an error.
func (p *page) Navigate(ctx context.Context, url, referrer, frameID string) (string, error) {
	action := cdpp.Navigate(url).WithReferrer(referrer)
	if frameID != "" {
		action = action.WithFrameID(cdp.FrameID(frameID))
	}

	_, documentID, errorText, err := action.Do(cdp.WithExecutor(ctx, p.exec))
	if err != nil {
		return "", fmt.Errorf("%s at %q: %w", errorText, url, err)
	}
	if errorText != "" {
		return "", fmt.Errorf("navigating to %q: %w", url, errors.New(errorText))
	}

	return documentID.String(), nil
}
