package zones

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/audasnap/svgsplit"
)

var errNoShapes = errors.New("zones: svg has no shapes")

// captureJS runs with `this` bound to an <svg> or <g>. It copies computed
// fill/stroke onto every node (linked stylesheets do not survive export),
// serializes the node as XML and, for groups, measures the shapes'
// bounding box.
const captureJS = `function () {
	const root = this;
	const tag = root.tagName.toLowerCase();
	const inline = (el) => {
		const cs = window.getComputedStyle(el);
		if (cs.fill && cs.fill !== 'none') el.setAttribute('fill', cs.fill);
		if (cs.stroke && cs.stroke !== 'none') el.setAttribute('stroke', cs.stroke);
		if (cs.strokeWidth && cs.strokeWidth !== '0px') el.setAttribute('stroke-width', cs.strokeWidth);
		for (const c of el.children) inline(c);
	};
	inline(root);
	let box = null;
	if (tag === 'g') {
		let minX = Infinity, minY = Infinity, maxX = -Infinity, maxY = -Infinity;
		for (const el of root.querySelectorAll('path, rect, circle')) {
			const b = el.getBBox();
			if (b.width > 0 && b.height > 0) {
				minX = Math.min(minX, b.x); minY = Math.min(minY, b.y);
				maxX = Math.max(maxX, b.x + b.width); maxY = Math.max(maxY, b.y + b.height);
			}
		}
		if (isFinite(minX) && isFinite(minY) && maxX > minX && maxY > minY) {
			box = [minX, minY, maxX - minX, maxY - minY];
		}
	}
	return {
		tag: tag,
		markup: new XMLSerializer().serializeToString(root),
		viewBox: root.getAttribute('viewBox') || '',
		width: root.getAttribute('width') || '',
		height: root.getAttribute('height') || '',
		shapes: root.querySelectorAll('path, rect, circle').length,
		box: box,
	};
}`

// stylesJS collects same-document CSS rules that can affect SVG shapes.
// Cross-origin sheets throw on cssRules access and are skipped.
const stylesJS = `() => {
	const keep = ['svg', 'path', 'rect', 'circle', 'g', '[fill]', '[stroke]'];
	let out = '';
	for (const sheet of document.styleSheets) {
		let rules;
		try { rules = sheet.cssRules; } catch (e) { continue; }
		for (const rule of rules) {
			if (rule.selectorText && keep.some((k) => rule.selectorText.includes(k))) {
				out += rule.cssText + '\n';
			}
		}
	}
	return out;
}`

// inlineAllJS inlines computed colours on every node under the selector,
// used before the pictogram grid markup is read.
const inlineAllJS = `(sel) => {
	const inline = (el) => {
		const cs = window.getComputedStyle(el);
		if (cs.fill && cs.fill !== 'none') el.setAttribute('fill', cs.fill);
		if (cs.stroke && cs.stroke !== 'none') el.setAttribute('stroke', cs.stroke);
		if (cs.strokeWidth && cs.strokeWidth !== '0px') el.setAttribute('stroke-width', cs.strokeWidth);
		for (const c of el.children) inline(c);
	};
	for (const el of document.querySelectorAll(sel)) inline(el);
	return true;
}`

// shapesReadyJS reports whether at least one element matches sel and every
// match is displayed and holds drawable shapes.
const shapesReadyJS = `(sel) => {
	const svgs = document.querySelectorAll(sel);
	if (svgs.length === 0) return false;
	for (const s of svgs) {
		const r = s.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) return false;
		if (s.querySelectorAll('path, rect, circle').length === 0) return false;
	}
	return true;
}`

type captured struct {
	Tag     string    `json:"tag"`
	Markup  string    `json:"markup"`
	ViewBox string    `json:"viewBox"`
	Width   string    `json:"width"`
	Height  string    `json:"height"`
	Shapes  int       `json:"shapes"`
	Box     []float64 `json:"box"`
}

// Capture serializes the <svg> or <g> matched by sel into a standalone
// SVG document with inlined colours, harvested page styles and explicit
// geometry. The result is well-formed XML.
func Capture(ctx context.Context, f Frame, sel string) ([]byte, error) {
	var c captured
	if err := f.EvalOn(ctx, sel, captureJS, &c); err != nil {
		return nil, err
	}
	if c.Tag != "svg" && c.Tag != "g" {
		return nil, fmt.Errorf("zones: capture %s: unsupported element <%s>", sel, c.Tag)
	}
	if c.Tag == "g" && c.Shapes == 0 {
		return nil, errNoShapes
	}

	styles, err := f.EvalString(ctx, stylesJS)
	if err != nil {
		styles = ""
	}
	return svgsplit.Assemble(documentFor(c, styles))
}

func documentFor(c captured, styles string) svgsplit.Document {
	d := svgsplit.Document{Markup: c.Markup, Styles: styles}
	if c.Tag == "g" {
		if len(c.Box) == 4 {
			d.ViewBox = svgsplit.ViewBoxFromBounds(c.Box[0], c.Box[1], c.Box[2], c.Box[3], 10)
		}
		return d
	}
	d.ViewBox, d.Width, d.Height = c.ViewBox, c.Width, c.Height
	return d
}
