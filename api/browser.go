package api

import (
	"context"
)

// Browser is the public interface of a launched CDP browser.
type Browser interface {
	Close(ctx context.Context) error
	IsConnected() bool
	NewPage(ctx context.Context) (Page, error)
	Pid() int
	Version(ctx context.Context) (string, error)
}

// Page is the public interface of a single browser tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Evaluate runs expression in the page and decodes its JSON value
	// into res. res may be nil.
	Evaluate(ctx context.Context, expression string, res interface{}) error
	Query(ctx context.Context, sel Selector) (ElementHandle, error)
	QueryAll(ctx context.Context, sel Selector) ([]ElementHandle, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// ElementHandle is a reference to a DOM element living in a page.
type ElementHandle interface {
	Click(ctx context.Context) error
	ContextClick(ctx context.Context) error
	// Dispose releases the page-side reference to the element.
	Dispose(ctx context.Context) error
	Query(ctx context.Context, sel Selector) (ElementHandle, error)
	QueryAll(ctx context.Context, sel Selector) ([]ElementHandle, error)
	Text(ctx context.Context) (string, error)
}
