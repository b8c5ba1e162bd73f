// Package pagetest provides in-memory fakes of the browser interfaces.
//
// Page expressions are evaluated by a goja runtime that exposes a minimal
// document with the video player on it. Elements are plain Go values that
// are registered under the CSS text of the selector that finds them.
package pagetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/grafana/pausesim/api"
)

// Ensure the fakes implement the browser interfaces.
var (
	_ api.Page          = &Page{}
	_ api.ElementHandle = &Element{}
)

const documentScript = `
var __playerState = -1;
var __playerError = "";
var __hasPlayer = true;
var document = {
	getElementById: function(id) {
		if (id !== "movie_player" || !__hasPlayer) {
			return null;
		}
		return {
			getPlayerState: function() {
				if (__playerError !== "") {
					throw new Error(__playerError);
				}
				return __playerState;
			}
		};
	}
};
`

// Page is a fake api.Page.
type Page struct {
	mu sync.Mutex
	vm *goja.Runtime

	elements map[string][]*Element
	queries  map[string]int

	// NavigateErr is returned by Navigate when set.
	NavigateErr error
	// ScreenshotErr is returned by Screenshot when set.
	ScreenshotErr error
	// ScreenshotData is returned by Screenshot.
	ScreenshotData []byte

	navigated []string
}

// NewPage returns an empty page with a player in the unstarted state.
func NewPage() *Page {
	vm := goja.New()
	if _, err := vm.RunString(documentScript); err != nil {
		panic(fmt.Sprintf("pagetest: setting up document: %v", err))
	}

	return &Page{
		vm:             vm,
		elements:       make(map[string][]*Element),
		queries:        make(map[string]int),
		ScreenshotData: []byte("\x89PNG\r\n\x1a\n"),
	}
}

// SetPlayerState sets the code the player reports.
func (p *Page) SetPlayerState(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.set("__playerState", code)
}

// ClearPlayerState makes the player report null as its state.
func (p *Page) ClearPlayerState() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.set("__playerState", nil)
}

// FailPlayerState makes the player throw msg when asked for its state.
// An empty msg makes it work again.
func (p *Page) FailPlayerState(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.set("__playerError", msg)
}

// RemovePlayer removes the player element from the document.
func (p *Page) RemovePlayer() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.set("__hasPlayer", false)
}

func (p *Page) set(name string, v interface{}) {
	if err := p.vm.Set(name, v); err != nil {
		panic(fmt.Sprintf("pagetest: setting %s: %v", name, err))
	}
}

// Add registers elements that match sel, after any already registered.
func (p *Page) Add(sel api.Selector, els ...*Element) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := sel.CSSText()
	p.elements[k] = append(p.elements[k], els...)
}

// Remove unregisters every element that matches sel.
func (p *Page) Remove(sel api.Selector) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.elements, sel.CSSText())
}

// Queries returns how many times sel was queried on the page.
func (p *Page) Queries(sel api.Selector) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.queries[sel.CSSText()]
}

// Navigated returns the URLs passed to Navigate.
func (p *Page) Navigated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.navigated...)
}

// Navigate records url.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.navigated = append(p.navigated, url)

	return nil
}

// Evaluate runs expression in the goja runtime and decodes the result into
// res through JSON, the way values cross the CDP boundary.
func (p *Page) Evaluate(ctx context.Context, expression string, res interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	v, err := p.vm.RunString(expression)
	if err != nil {
		var exc *goja.Exception
		if errors.As(err, &exc) {
			return fmt.Errorf("%w: %s", api.ErrScriptExecution, exc.Value().String())
		}
		return fmt.Errorf("%w: %v", api.ErrScriptExecution, err)
	}
	if res == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}

	buf, err := json.Marshal(v.Export())
	if err != nil {
		return fmt.Errorf("%w: encoding result: %v", api.ErrScriptExecution, err)
	}
	if err := json.Unmarshal(buf, res); err != nil {
		return fmt.Errorf("%w: decoding result: %v", api.ErrScriptExecution, err)
	}

	return nil
}

// Query returns the first element registered for sel.
func (p *Page) Query(ctx context.Context, sel api.Selector) (api.ElementHandle, error) {
	els, err := p.QueryAll(ctx, sel)
	if err != nil {
		return nil, err
	}
	return els[0], nil
}

// QueryAll returns every element registered for sel.
func (p *Page) QueryAll(ctx context.Context, sel api.Selector) ([]api.ElementHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k := sel.CSSText()
	p.queries[k]++

	return handles(p.elements[k], sel)
}

// Screenshot returns ScreenshotData.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}

	return append([]byte(nil), p.ScreenshotData...), nil
}

func handles(els []*Element, sel api.Selector) ([]api.ElementHandle, error) {
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", api.ErrElementNotFound, sel)
	}
	hs := make([]api.ElementHandle, len(els))
	for i, el := range els {
		hs[i] = el
	}
	return hs, nil
}
