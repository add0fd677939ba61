package zones

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// pictoSection is a section of the pictogram grid as parsed from markup.
type pictoSection struct {
	Name  string
	Works []pictoWork
}

type pictoWork struct {
	Name1   string // data-tooltip
	Name2   string // inner span text
	SVG     string // serialized <svg> of the pictogram
	ViewBox string
	Width   string
	Height  string
}

// parsePictograms reads the pictogram grid markup. Sections need a visible
// sort title and a grid holder; works need a tooltip and an SVG container.
// Sections without works are dropped.
func parsePictograms(markup, svgSel string) ([]pictoSection, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}

	var out []pictoSection
	doc.Find("section").Each(func(_ int, sec *goquery.Selection) {
		name := clean(sec.Find("h2.sort-title.visible").First().Text())
		if name == "" {
			return
		}
		holder := sec.Find("div#pictograms-grid-holder").First()
		if holder.Length() == 0 {
			return
		}

		var works []pictoWork
		holder.Find("div[data-tooltip]").Each(func(_ int, w *goquery.Selection) {
			name1 := clean(w.AttrOr("data-tooltip", ""))
			if name1 == "" {
				return
			}
			svg := w.Find(svgSel).First()
			if svg.Length() == 0 {
				return
			}
			markup, err := goquery.OuterHtml(svg)
			if err != nil {
				return
			}
			works = append(works, pictoWork{
				Name1:   name1,
				Name2:   clean(w.Find("span span").First().Text()),
				SVG:     markup,
				ViewBox: svg.AttrOr("viewBox", ""),
				Width:   svg.AttrOr("width", ""),
				Height:  svg.AttrOr("height", ""),
			})
		})
		if len(works) > 0 {
			out = append(out, pictoSection{Name: name, Works: works})
		}
	})
	return out, nil
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
