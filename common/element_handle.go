package common

import (
	"context"
	"fmt"

	cdpi "github.com/chromedp/cdproto/input"
	cdpr "github.com/chromedp/cdproto/runtime"

	"github.com/grafana/pausesim/api"
	"github.com/grafana/pausesim/common/js"
)

// Ensure ElementHandle implements the api.ElementHandle interface.
var _ api.ElementHandle = &ElementHandle{}

// ElementHandle references a DOM element through its remote object ID.
type ElementHandle struct {
	page     *Page
	objectID string
	selector api.Selector
}

func newElementHandle(p *Page, objectID string, sel api.Selector) *ElementHandle {
	return &ElementHandle{
		page:     p,
		objectID: objectID,
		selector: sel,
	}
}

// Click clicks the element by script. It works even when the element is
// covered by an overlay, such as the player controls fading out.
func (h *ElementHandle) Click(ctx context.Context) error {
	if _, err := h.call(ctx, js.ElementClickScript, false); err != nil {
		return fmt.Errorf("clicking %s: %w", h.selector, err)
	}

	return nil
}

// ContextClick right-clicks the center of the element with a real mouse
// event, so that the page's own context menu is opened.
func (h *ElementHandle) ContextClick(ctx context.Context) error {
	var center struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	obj, err := h.call(ctx, js.ElementCenterScript, true)
	if err != nil {
		return fmt.Errorf("locating %s on screen: %w", h.selector, err)
	}
	if err := decodeRemoteValue(obj, &center); err != nil {
		return err
	}

	h.page.logger.Debugf("ElementHandle:ContextClick", "sel:%s x:%.0f y:%.0f", h.selector, center.X, center.Y)

	if err := h.page.client.Input.Click(h.page.session(ctx), center.X, center.Y, cdpi.Right); err != nil {
		return fmt.Errorf("right-clicking %s: %w", h.selector, err)
	}

	return nil
}

// Dispose releases the element's remote object.
func (h *ElementHandle) Dispose(ctx context.Context) error {
	return h.page.client.Runtime.ReleaseObject(h.page.session(ctx), h.objectID)
}

// Query returns the first descendant of the element matching sel.
func (h *ElementHandle) Query(ctx context.Context, sel api.Selector) (api.ElementHandle, error) {
	return h.page.queryNth(ctx, h.objectID, sel, 0)
}

// QueryAll returns every descendant of the element matching sel.
func (h *ElementHandle) QueryAll(ctx context.Context, sel api.Selector) ([]api.ElementHandle, error) {
	return h.page.queryAll(ctx, h.objectID, sel)
}

// Text returns the rendered text of the element.
func (h *ElementHandle) Text(ctx context.Context) (string, error) {
	var text string
	obj, err := h.call(ctx, js.ElementTextScript, true)
	if err != nil {
		return "", fmt.Errorf("reading text of %s: %w", h.selector, err)
	}
	if err := decodeRemoteValue(obj, &text); err != nil {
		return "", err
	}

	return text, nil
}

func (h *ElementHandle) call(ctx context.Context, fn string, byValue bool) (*cdpr.RemoteObject, error) {
	obj, err := h.page.client.Runtime.CallFunctionOn(h.page.session(ctx), h.objectID, fn, byValue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrScriptExecution, err)
	}

	return obj, nil
}
