// Package archive persists harvest results under a per-claim folder and
// reads them back for the history views.
package archive

import "time"

// Record is one archived harvest run. Paths are URL paths under the
// archive URL prefix.
type Record struct {
	Folder         string    `json:"folder"`
	ClaimNumber    string    `json:"claim_number,omitempty"`
	VIN            string    `json:"vin_value"`
	Seq            int64     `json:"seq"`
	CreatedAt      time.Time `json:"created_at"`
	Zones          []Zone    `json:"zone_data"`
	MainScreenshot string    `json:"main_screenshot_path"`
	MainSVG        string    `json:"main_svg_path"`
	ZonesTable     string    `json:"zones_table"`
	AllSVGsZip     string    `json:"all_svgs_zip"`
	ScreenshotsPDF string    `json:"screenshots_pdf,omitempty"`
}

// Zone is the artifact set of one damage zone.
type Zone struct {
	Title                string             `json:"title"`
	ScreenshotPath       string             `json:"screenshot_path"`
	SVGPath              string             `json:"svg_path"`
	HasPictograms        bool               `json:"has_pictograms"`
	GraphicsNotAvailable bool               `json:"graphics_not_available"`
	Details              []Detail           `json:"details"`
	Pictograms           []PictogramSection `json:"pictograms"`
}

// Detail is a named sub-region of a zone SVG saved as its own file.
type Detail struct {
	Title   string `json:"title"`
	SVGPath string `json:"svg_path"`
}

// PictogramSection groups the repair works shown for a zone.
type PictogramSection struct {
	SectionName string `json:"section_name"`
	Works       []Work `json:"works"`
}

// Work is one repair operation with its pictogram.
type Work struct {
	WorkName1 string `json:"work_name1"`
	WorkName2 string `json:"work_name2"`
	SVGPath   string `json:"svg_path"`
}

// Degraded is a zone whose graphics could not be captured.
func Degraded(title string) Zone {
	return Zone{Title: title, GraphicsNotAvailable: true}
}

// DegradedCount returns the number of zones without graphics.
func (r *Record) DegradedCount() int {
	n := 0
	for _, z := range r.Zones {
		if z.GraphicsNotAvailable {
			n++
		}
	}
	return n
}

// normalize replaces nil slices so the JSON carries [] rather than null.
func (r *Record) normalize() {
	if r.Zones == nil {
		r.Zones = []Zone{}
	}
	for i := range r.Zones {
		z := &r.Zones[i]
		if z.Details == nil {
			z.Details = []Detail{}
		}
		if z.Pictograms == nil {
			z.Pictograms = []PictogramSection{}
		}
		for j := range z.Pictograms {
			if z.Pictograms[j].Works == nil {
				z.Pictograms[j].Works = []Work{}
			}
		}
	}
}
