package archive

import (
	"fmt"
	"html"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"
)

// NoZonesText is shown in place of the zones table when a record has no zones.
const NoZonesText = "Zones not found"

var tablePolicy = newTablePolicy()

func newTablePolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("div", "span", "button", "p", "a")
	p.AllowAttrs("class").Globally()
	p.AllowDataAttributes()
	p.AllowAttrs("download", "title").OnElements("a")
	return p
}

// ZonesTable renders the zones of a record as the HTML fragment embedded in
// the record and shown on the result page. Zone titles come from the vendor
// page, so the output is sanitized.
func ZonesTable(zones []Zone) string {
	var b strings.Builder
	b.WriteString(`<div class="zones-table">`)
	for _, z := range zones {
		title := html.EscapeString(z.Title)
		fmt.Fprintf(&b, `<div class="zone-row"><button class="zone-button" data-zone-title="%s">%s`, title, title)
		if z.HasPictograms {
			b.WriteString(`<span class="pictogram-icon">🖼️</span>`)
		}
		b.WriteString(`</button>`)
		if !z.GraphicsNotAvailable && z.SVGPath != "" {
			fmt.Fprintf(&b, `<a href="%s" download class="svg-download" title="Download SVG"><span class="download-icon">⬇</span></a>`,
				html.EscapeString(z.SVGPath))
		}
		b.WriteString(`</div>`)
	}
	if len(zones) == 0 {
		b.WriteString(`<p>` + NoZonesText + `</p>`)
	}
	b.WriteString(`</div>`)
	return tablePolicy.Sanitize(b.String())
}

// Summary renders a Markdown overview of the record.
func Summary(r *Record) (string, error) {
	var b strings.Builder
	vin := r.VIN
	if vin == "" {
		vin = r.Folder
	}
	fmt.Fprintf(&b, "<h1>%s</h1>", html.EscapeString(vin))
	b.WriteString("<ul>")
	fmt.Fprintf(&b, "<li>Folder: %s</li>", html.EscapeString(r.Folder))
	if r.ClaimNumber != "" {
		fmt.Fprintf(&b, "<li>Claim: %s</li>", html.EscapeString(r.ClaimNumber))
	}
	fmt.Fprintf(&b, "<li>Created: %s</li>", r.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "<li>Zones: %d (%d without graphics)</li>", len(r.Zones), r.DegradedCount())
	b.WriteString("</ul>")

	if r.MainScreenshot != "" {
		fmt.Fprintf(&b, `<p><img src="%s" alt="overview"></p>`, html.EscapeString(r.MainScreenshot))
	}

	for _, z := range r.Zones {
		fmt.Fprintf(&b, "<h2>%s</h2>", html.EscapeString(z.Title))
		if z.GraphicsNotAvailable {
			b.WriteString("<p><em>graphics not available</em></p>")
			continue
		}
		b.WriteString("<ul>")
		if z.ScreenshotPath != "" {
			fmt.Fprintf(&b, `<li><a href="%s">screenshot</a></li>`, html.EscapeString(z.ScreenshotPath))
		}
		if z.SVGPath != "" {
			fmt.Fprintf(&b, `<li><a href="%s">svg</a></li>`, html.EscapeString(z.SVGPath))
		}
		for _, d := range z.Details {
			fmt.Fprintf(&b, `<li><a href="%s">%s</a></li>`, html.EscapeString(d.SVGPath), html.EscapeString(d.Title))
		}
		b.WriteString("</ul>")
		for _, s := range z.Pictograms {
			fmt.Fprintf(&b, "<h3>%s</h3><ul>", html.EscapeString(s.SectionName))
			for _, w := range s.Works {
				fmt.Fprintf(&b, `<li>%s / %s: <a href="%s">svg</a></li>`,
					html.EscapeString(w.WorkName1), html.EscapeString(w.WorkName2), html.EscapeString(w.SVGPath))
			}
			b.WriteString("</ul>")
		}
	}

	md, err := htmltomarkdown.ConvertString(b.String())
	if err != nil {
		return "", fmt.Errorf("archive: summary: %w", err)
	}
	return md, nil
}
