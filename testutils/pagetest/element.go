package pagetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/grafana/pausesim/api"
)

// Element is a fake api.ElementHandle.
type Element struct {
	mu sync.Mutex

	text     string
	textErr  error
	children map[string][]*Element

	// OnClick and OnContextClick run, without the element locked, when the
	// element is clicked. A returned error fails the click.
	OnClick        func() error
	OnContextClick func() error

	clicks        int
	contextClicks int
	disposed      int
}

// NewElement returns an element with the given text.
func NewElement(text string) *Element {
	return &Element{
		text:     text,
		children: make(map[string][]*Element),
	}
}

// SetText changes the element's text.
func (e *Element) SetText(text string) {
	e.lock()
	defer e.unlock()

	e.text = text
}

// FailText makes Text return err. A nil err makes it work again.
func (e *Element) FailText(err error) {
	e.lock()
	defer e.unlock()

	e.textErr = err
}

// Add registers descendants of e that match sel.
func (e *Element) Add(sel api.Selector, els ...*Element) *Element {
	e.lock()
	defer e.unlock()

	k := sel.CSSText()
	e.children[k] = append(e.children[k], els...)

	return e
}

// Clicks returns how many times the element was clicked.
func (e *Element) Clicks() int {
	e.lock()
	defer e.unlock()

	return e.clicks
}

// ContextClicks returns how many times the element was right-clicked.
func (e *Element) ContextClicks() int {
	e.lock()
	defer e.unlock()

	return e.contextClicks
}

// Disposed returns how many times the element's handle was released.
func (e *Element) Disposed() int {
	e.lock()
	defer e.unlock()

	return e.disposed
}

func (e *Element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.lock()
	e.clicks++
	fn := e.OnClick
	e.unlock()

	if fn != nil {
		return fn()
	}
	return nil
}

func (e *Element) ContextClick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.lock()
	e.contextClicks++
	fn := e.OnContextClick
	e.unlock()

	if fn != nil {
		return fn()
	}
	return nil
}

func (e *Element) Dispose(context.Context) error {
	e.lock()
	defer e.unlock()

	e.disposed++
	return nil
}

func (e *Element) Query(ctx context.Context, sel api.Selector) (api.ElementHandle, error) {
	els, err := e.QueryAll(ctx, sel)
	if err != nil {
		return nil, err
	}
	return els[0], nil
}

func (e *Element) QueryAll(ctx context.Context, sel api.Selector) ([]api.ElementHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.lock()
	defer e.unlock()

	return handles(e.children[sel.CSSText()], sel)
}

func (e *Element) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.lock()
	defer e.unlock()

	if e.textErr != nil {
		return "", fmt.Errorf("%w: %v", api.ErrScriptExecution, e.textErr)
	}
	return e.text, nil
}

func (e *Element) lock()   { e.mu.Lock() }
func (e *Element) unlock() { e.mu.Unlock() }
