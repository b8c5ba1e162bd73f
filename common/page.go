package common

import (
	"context"
	"encoding/json"
	"fmt"

	cdpr "github.com/chromedp/cdproto/runtime"

	"github.com/grafana/pausesim/api"
	"github.com/grafana/pausesim/cdp"
	"github.com/grafana/pausesim/common/js"
	"github.com/grafana/pausesim/log"
)

// Ensure Page implements the api.Page interface.
var _ api.Page = &Page{}

// Page is a browser tab, driven through its own flat CDP session.
type Page struct {
	client    *cdp.Client
	sessionID string
	targetID  string

	logger *log.Logger
}

// NewPage returns a Page for the target attached under sessionID.
func NewPage(client *cdp.Client, sessionID, targetID string, logger *log.Logger) *Page {
	return &Page{
		client:    client,
		sessionID: sessionID,
		targetID:  targetID,
		logger:    logger,
	}
}

func (p *Page) enable(ctx context.Context) error {
	return p.client.Page.Enable(p.session(ctx))
}

// session routes commands sent with ctx to this page's target.
func (p *Page) session(ctx context.Context) context.Context {
	return cdp.WithSessionID(ctx, p.sessionID)
}

// Navigate loads url in the page's main frame.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.logger.Debugf("Page:Navigate", "sid:%v tid:%v url:%q", p.sessionID, p.targetID, url)

	if _, err := p.client.Page.Navigate(p.session(ctx), url, "", ""); err != nil {
		return err
	}

	return nil
}

// Evaluate runs expression in the page and decodes its value into res.
// Results of undefined or null leave res untouched.
func (p *Page) Evaluate(ctx context.Context, expression string, res interface{}) error {
	obj, err := p.client.Runtime.Evaluate(p.session(ctx), expression, true)
	if err != nil {
		return fmt.Errorf("%w: %v", api.ErrScriptExecution, err)
	}

	return decodeRemoteValue(obj, res)
}

// Query returns the first element in the document matching sel.
func (p *Page) Query(ctx context.Context, sel api.Selector) (api.ElementHandle, error) {
	doc, err := p.document(ctx)
	if err != nil {
		return nil, err
	}
	defer p.release(ctx, doc)

	return p.queryNth(ctx, doc, sel, 0)
}

// QueryAll returns every element in the document matching sel.
func (p *Page) QueryAll(ctx context.Context, sel api.Selector) ([]api.ElementHandle, error) {
	doc, err := p.document(ctx)
	if err != nil {
		return nil, err
	}
	defer p.release(ctx, doc)

	return p.queryAll(ctx, doc, sel)
}

// Screenshot captures the visible part of the page as a PNG image.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	return p.client.Page.CaptureScreenshot(p.session(ctx))
}

func (p *Page) document(ctx context.Context) (string, error) {
	obj, err := p.client.Runtime.Evaluate(p.session(ctx), "document", false)
	if err != nil {
		return "", fmt.Errorf("%w: getting document: %v", api.ErrScriptExecution, err)
	}
	if obj.ObjectID == "" {
		return "", fmt.Errorf("%w: document has no object reference", api.ErrScriptExecution)
	}

	return string(obj.ObjectID), nil
}

func (p *Page) queryNth(ctx context.Context, rootID string, sel api.Selector, n int) (api.ElementHandle, error) {
	obj, err := p.client.Runtime.CallFunctionOn(
		p.session(ctx), rootID, js.QueryNthScript, false, sel.CSSText(), n,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: querying %s: %v", api.ErrScriptExecution, sel, err)
	}
	if obj.ObjectID == "" {
		return nil, fmt.Errorf("%w: %s", api.ErrElementNotFound, sel)
	}

	return newElementHandle(p, string(obj.ObjectID), sel), nil
}

func (p *Page) queryAll(ctx context.Context, rootID string, sel api.Selector) ([]api.ElementHandle, error) {
	var count int
	obj, err := p.client.Runtime.CallFunctionOn(
		p.session(ctx), rootID, js.QueryCountScript, true, sel.CSSText(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: counting %s: %v", api.ErrScriptExecution, sel, err)
	}
	if err := decodeRemoteValue(obj, &count); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: %s", api.ErrElementNotFound, sel)
	}

	handles := make([]api.ElementHandle, 0, count)
	for i := 0; i < count; i++ {
		h, err := p.queryNth(ctx, rootID, sel, i)
		if err != nil {
			// The DOM changed under us; return what's still there.
			p.logger.Debugf("Page:queryAll", "sel:%s n:%d: %v", sel, i, err)
			break
		}
		handles = append(handles, h)
	}
	if len(handles) == 0 {
		return nil, fmt.Errorf("%w: %s", api.ErrElementNotFound, sel)
	}

	return handles, nil
}

func (p *Page) release(ctx context.Context, objectID string) {
	if err := p.client.Runtime.ReleaseObject(p.session(ctx), objectID); err != nil {
		p.logger.Debugf("Page:release", "objectID:%s: %v", objectID, err)
	}
}

func decodeRemoteValue(obj *cdpr.RemoteObject, res interface{}) error {
	if res == nil || obj == nil {
		return nil
	}
	if obj.Type == cdpr.TypeUndefined || len(obj.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(obj.Value, res); err != nil {
		return fmt.Errorf("%w: decoding %s result: %v", api.ErrScriptExecution, obj.Type, err)
	}

	return nil
}
