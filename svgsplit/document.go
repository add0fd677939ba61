package svgsplit

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/beevik/etree"
)

// DefaultViewBox is used when a capture has no usable bounds.
const DefaultViewBox = "0 0 1000 1000"

// inheritRule keeps inlined colours when the document is viewed standalone.
const inheritRule = "svg * { fill: inherit; stroke: inherit; stroke-width: inherit; }"

// Document describes a captured SVG fragment to be wrapped into a
// standalone file.
type Document struct {
	Markup  string // outer markup of the captured <svg> or <g>
	ViewBox string
	Width   string
	Height  string
	Styles  string // CSS rules harvested from the page
}

// Assemble wraps the captured markup into a standalone SVG document with an
// XML declaration, embedded styles and explicit geometry. The markup must be
// well-formed XML; otherwise an error is returned and nothing is produced.
func Assemble(d Document) ([]byte, error) {
	frag := etree.NewDocument()
	if err := frag.ReadFromString(d.Markup); err != nil {
		return nil, fmt.Errorf("svgsplit: captured markup: %w", err)
	}
	if frag.Root() == nil {
		return nil, ErrNotSVG
	}

	if d.ViewBox == "" {
		d.ViewBox = DefaultViewBox
	}
	if d.Width == "" {
		d.Width = "100%"
	}
	if d.Height == "" {
		d.Height = "100%"
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	svg := doc.CreateElement("svg")
	svg.CreateAttr("width", d.Width)
	svg.CreateAttr("height", d.Height)
	svg.CreateAttr("viewBox", d.ViewBox)
	svg.CreateAttr("xmlns", "http://www.w3.org/2000/svg")
	svg.CreateAttr("xmlns:xlink", "http://www.w3.org/1999/xlink")

	css := strings.TrimSpace(d.Styles)
	if css != "" {
		css += "\n"
	}
	css += inheritRule
	style := svg.CreateElement("style")
	style.CreateCData(strings.ReplaceAll(css, "]]>", "]] >"))

	svg.AddChild(frag.Root())

	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("svgsplit: serialise: %w", err)
	}
	return buf.Bytes(), nil
}

// ViewBoxFromBounds returns a padded viewBox for a bounding box, or
// DefaultViewBox when the box is empty or not finite.
func ViewBoxFromBounds(x, y, w, h, padding float64) string {
	if !(w > 0 && h > 0) || !finite(x) || !finite(y) || !finite(w) || !finite(h) {
		return DefaultViewBox
	}
	return fmt.Sprintf("%g %g %g %g", x-padding, y-padding, w+2*padding, h+2*padding)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
