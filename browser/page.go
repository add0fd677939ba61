package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Page wraps a Rod page (or an iframe's page) with selector-based helpers.
// Every blocking call is bounded by ctx; callers pass a deadline.
type Page struct {
	rp *rod.Page
}

// Wrap adapts a Rod page.
func Wrap(p *rod.Page) *Page { return &Page{rp: p} }

// Rod returns the underlying Rod page.
func (p *Page) Rod() *rod.Page { return p.rp }

// Navigate loads url and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	rp := p.rp.Context(ctx)
	if err := rp.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate: %w", err)
	}
	if err := rp.WaitLoad(); err != nil {
		return fmt.Errorf("browser: wait load: %w", err)
	}
	return nil
}

// Reload reloads the page and waits for the load event.
func (p *Page) Reload(ctx context.Context) error {
	rp := p.rp.Context(ctx)
	if err := rp.Reload(); err != nil {
		return fmt.Errorf("browser: reload: %w", err)
	}
	if err := rp.WaitLoad(); err != nil {
		return fmt.Errorf("browser: wait load: %w", err)
	}
	return nil
}

// URL returns the current page URL, or "" when it cannot be read.
func (p *Page) URL() string {
	info, err := p.rp.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Has reports whether sel matches an element right now, without waiting.
func (p *Page) Has(sel string) bool {
	has, _, err := p.rp.Has(sel)
	return err == nil && has
}

// Count returns the number of elements matching sel right now.
func (p *Page) Count(sel string) int {
	els, err := p.rp.Elements(sel)
	if err != nil {
		return 0
	}
	return len(els)
}

func (p *Page) element(ctx context.Context, sel string) (*rod.Element, error) {
	el, err := p.rp.Context(ctx).Element(sel)
	if err != nil {
		return nil, fmt.Errorf("browser: element %s: %w", sel, err)
	}
	return el, nil
}

// Wait blocks until sel matches an element.
func (p *Page) Wait(ctx context.Context, sel string) error {
	_, err := p.element(ctx, sel)
	return err
}

// WaitVisible blocks until sel matches a visible element.
func (p *Page) WaitVisible(ctx context.Context, sel string) error {
	el, err := p.element(ctx, sel)
	if err != nil {
		return err
	}
	if err := el.Context(ctx).WaitVisible(); err != nil {
		return fmt.Errorf("browser: wait visible %s: %w", sel, err)
	}
	return nil
}

// Click scrolls sel into view and clicks it once it is interactable.
func (p *Page) Click(ctx context.Context, sel string) error {
	el, err := p.element(ctx, sel)
	if err != nil {
		return err
	}
	el = el.Context(ctx)
	if err := el.ScrollIntoView(); err != nil {
		return fmt.Errorf("browser: scroll %s: %w", sel, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %s: %w", sel, err)
	}
	return nil
}

// Fill replaces the content of the input matched by sel.
func (p *Page) Fill(ctx context.Context, sel, text string) error {
	el, err := p.element(ctx, sel)
	if err != nil {
		return err
	}
	el = el.Context(ctx)
	if err := el.ScrollIntoView(); err != nil {
		return fmt.Errorf("browser: scroll %s: %w", sel, err)
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("browser: select %s: %w", sel, err)
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("browser: input %s: %w", sel, err)
	}
	return nil
}

// Value returns the value property of the input matched by sel.
func (p *Page) Value(ctx context.Context, sel string) (string, error) {
	el, err := p.element(ctx, sel)
	if err != nil {
		return "", err
	}
	v, err := el.Context(ctx).Property("value")
	if err != nil {
		return "", fmt.Errorf("browser: value %s: %w", sel, err)
	}
	return v.Str(), nil
}

// OuterHTML returns the serialized markup of the element matched by sel.
func (p *Page) OuterHTML(ctx context.Context, sel string) (string, error) {
	el, err := p.element(ctx, sel)
	if err != nil {
		return "", err
	}
	html, err := el.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("browser: html %s: %w", sel, err)
	}
	return html, nil
}

// Screenshot captures the element matched by sel as PNG.
func (p *Page) Screenshot(ctx context.Context, sel string) ([]byte, error) {
	el, err := p.element(ctx, sel)
	if err != nil {
		return nil, err
	}
	return screenshot(ctx, el)
}

// ScreenshotAll captures every element matched by sel as PNG, in document order.
func (p *Page) ScreenshotAll(ctx context.Context, sel string) ([][]byte, error) {
	els, err := p.rp.Context(ctx).Elements(sel)
	if err != nil {
		return nil, fmt.Errorf("browser: elements %s: %w", sel, err)
	}
	out := make([][]byte, 0, len(els))
	for _, el := range els {
		png, err := screenshot(ctx, el)
		if err != nil {
			return nil, err
		}
		out = append(out, png)
	}
	return out, nil
}

func screenshot(ctx context.Context, el *rod.Element) ([]byte, error) {
	el = el.Context(ctx)
	if err := el.ScrollIntoView(); err != nil {
		return nil, fmt.Errorf("browser: scroll: %w", err)
	}
	png, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return png, nil
}

// EvalBool evaluates a page-level function returning a boolean.
func (p *Page) EvalBool(ctx context.Context, js string, args ...any) (bool, error) {
	res, err := p.rp.Context(ctx).Eval(js, args...)
	if err != nil {
		return false, fmt.Errorf("browser: eval: %w", err)
	}
	return res.Value.Bool(), nil
}

// EvalString evaluates a page-level function returning a string.
func (p *Page) EvalString(ctx context.Context, js string, args ...any) (string, error) {
	res, err := p.rp.Context(ctx).Eval(js, args...)
	if err != nil {
		return "", fmt.Errorf("browser: eval: %w", err)
	}
	return res.Value.Str(), nil
}

// EvalOn evaluates js with `this` bound to the element matched by sel and
// decodes the JSON result into out.
func (p *Page) EvalOn(ctx context.Context, sel, js string, out any) error {
	el, err := p.element(ctx, sel)
	if err != nil {
		return err
	}
	res, err := el.Context(ctx).Eval(js)
	if err != nil {
		return fmt.Errorf("browser: eval on %s: %w", sel, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(res.Value.JSON("", "")), out); err != nil {
		return fmt.Errorf("browser: decode eval result: %w", err)
	}
	return nil
}

// Frame returns the document of the iframe matched by sel.
func (p *Page) Frame(ctx context.Context, sel string) (*Page, error) {
	el, err := p.element(ctx, sel)
	if err != nil {
		return nil, err
	}
	fp, err := el.Context(ctx).Frame()
	if err != nil {
		return nil, fmt.Errorf("browser: frame %s: %w", sel, err)
	}
	return &Page{rp: fp}, nil
}

// Cookies returns the cookies visible to the current page.
func (p *Page) Cookies() ([]*proto.NetworkCookie, error) {
	cs, err := p.rp.Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("browser: cookies: %w", err)
	}
	return cs, nil
}

// SetCookies installs cookies into the browser.
func (p *Page) SetCookies(cs []*proto.NetworkCookie) error {
	if len(cs) == 0 {
		return nil
	}
	if err := p.rp.SetCookies(proto.CookiesToParams(cs)); err != nil {
		return fmt.Errorf("browser: set cookies: %w", err)
	}
	return nil
}
