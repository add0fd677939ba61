package zones

import (
	"context"
	"log/slog"
	"path"
	"strconv"

	"github.com/hazyhaar/audasnap/archive"
	"github.com/hazyhaar/audasnap/svgsplit"
)

// sheet captures a zone shown as a single SVG sheet and splits it into
// its titled details.
func (w *Walker) sheet(ctx context.Context, f Frame, ref Ref, sel, stem string, out Output, log *slog.Logger) (archive.Zone, bool) {
	ready := w.waitUntil(ctx, w.walk.PageTimeout, func(c context.Context) bool {
		ok, err := f.EvalBool(c, shapesReadyJS, sel)
		return err == nil && ok
	})
	if !ready {
		log.Warn("zones: svg sheet has no shapes")
		return archive.Zone{}, false
	}
	w.sleep(ctx, 2*w.walk.Settle)

	c, cancel := context.WithTimeout(ctx, w.walk.PageTimeout)
	defer cancel()

	png, err := f.Screenshot(c, sel)
	if err != nil {
		log.Warn("zones: sheet screenshot", "error", err)
		return archive.Zone{}, false
	}
	shot, err := out.write(archive.KindScreenshots, stem+".png", png)
	if err != nil {
		log.Warn("zones: sheet screenshot", "error", err)
		return archive.Zone{}, false
	}

	doc, err := Capture(c, f, sel)
	if err != nil {
		log.Warn("zones: sheet svg", "error", err)
		return archive.Zone{}, false
	}
	svgURL, err := out.write(archive.KindSVGs, stem+".svg", doc)
	if err != nil {
		log.Warn("zones: sheet svg", "error", err)
		return archive.Zone{}, false
	}

	z := archive.Zone{
		Title:          ref.Title,
		ScreenshotPath: shot,
		SVGPath:        svgURL,
		Details:        []archive.Detail{},
	}

	parts, err := svgsplit.Split(doc)
	if err != nil {
		log.Warn("zones: split", "error", err)
		return z, true
	}
	written, err := svgsplit.WriteParts(
		out.Layout.Dir(archive.KindSVGs, out.Key, stem),
		out.Layout.URL(archive.KindSVGs, out.Key, stem),
		parts, log)
	if err != nil {
		log.Warn("zones: write details", "error", err)
	}
	for _, wp := range written {
		z.Details = append(z.Details, archive.Detail{Title: wp.Title, SVGPath: wp.URL})
	}
	log.Info("zones: sheet captured", "details", len(z.Details))
	return z, true
}

// pictograms captures a zone shown as a pictogram grid: a stitched
// screenshot of every section plus one SVG per repair work. The zone menu
// is restored before returning, also on failure.
func (w *Walker) pictograms(ctx context.Context, f Frame, ref Ref, stem string, out Output, log *slog.Logger) (archive.Zone, bool) {
	sections := w.sel.PictogramGrid + " " + w.sel.PictogramSect
	svgs := sections + " " + w.sel.PictogramSVG

	ready := w.waitUntil(ctx, w.walk.PageTimeout, func(c context.Context) bool {
		ok, err := f.EvalBool(c, shapesReadyJS, svgs)
		return err == nil && ok
	})
	if !ready {
		log.Warn("zones: pictograms did not render")
		w.restoreMenu(ctx, f, log)
		return archive.Zone{}, false
	}
	w.sleep(ctx, 4*w.walk.Settle)

	// The sheet breadcrumb closes the zone menu that overlaps the grid.
	if err := w.bounded(ctx, w.walk.ShortTimeout, func(c context.Context) error { return f.Click(c, w.sel.SheetBreadcrumb) }); err != nil {
		log.Warn("zones: close menu", "error", err)
		w.restoreMenu(ctx, f, log)
		return archive.Zone{}, false
	}
	w.sleep(ctx, 2*w.walk.Settle)

	c, cancel := context.WithTimeout(ctx, w.walk.PageTimeout)
	defer cancel()

	z := archive.Zone{Title: ref.Title, HasPictograms: true, Details: []archive.Detail{}}

	if shots, err := f.ScreenshotAll(c, sections); err != nil {
		log.Warn("zones: section screenshots", "error", err)
	} else if png, err := stitchVertical(shots); err != nil {
		log.Warn("zones: stitch", "error", err)
	} else if z.ScreenshotPath, err = out.write(archive.KindScreenshots, stem+".png", png); err != nil {
		log.Warn("zones: stitched screenshot", "error", err)
		z.ScreenshotPath = ""
	}

	if _, err := f.EvalBool(c, inlineAllJS, svgs); err != nil {
		log.Debug("zones: inline pictogram styles", "error", err)
	}
	markup, err := f.OuterHTML(c, w.sel.PictogramGrid)
	if err != nil {
		log.Warn("zones: read pictogram grid", "error", err)
		w.restoreMenu(ctx, f, log)
		return archive.Zone{}, false
	}
	parsed, err := parsePictograms(markup, w.sel.PictogramSVG)
	if err != nil {
		log.Warn("zones: parse pictogram grid", "error", err)
	}
	styles, _ := f.EvalString(c, stylesJS)

	z.Pictograms = w.savePictograms(parsed, styles, stem, out, log)
	w.restoreMenu(ctx, f, log)

	if len(z.Pictograms) == 0 {
		log.Warn("zones: no pictogram works captured")
		return archive.Zone{}, false
	}
	log.Info("zones: pictograms captured", "sections", len(z.Pictograms))
	return z, true
}

func (w *Walker) savePictograms(parsed []pictoSection, styles, stem string, out Output, log *slog.Logger) []archive.PictogramSection {
	dir := stem + "_pictograms"
	taken := map[string]bool{}
	var result []archive.PictogramSection
	for _, sec := range parsed {
		s := archive.PictogramSection{SectionName: sec.Name, Works: []archive.Work{}}
		for _, wk := range sec.Works {
			doc, err := svgsplit.Assemble(svgsplit.Document{
				Markup:  wk.SVG,
				ViewBox: wk.ViewBox,
				Width:   wk.Width,
				Height:  wk.Height,
				Styles:  styles,
			})
			if err != nil {
				log.Warn("zones: pictogram svg", "section", sec.Name, "work", wk.Name1, "error", err)
				continue
			}
			name := uniqueName(taken, pictogramName(sec.Name, wk.Name1, wk.Name2))
			u, err := out.write(archive.KindSVGs, path.Join(dir, name+".svg"), doc)
			if err != nil {
				log.Warn("zones: pictogram svg", "section", sec.Name, "work", wk.Name1, "error", err)
				continue
			}
			s.Works = append(s.Works, archive.Work{WorkName1: wk.Name1, WorkName2: wk.Name2, SVGPath: u})
		}
		if len(s.Works) > 0 {
			result = append(result, s)
		}
	}
	return result
}

// restoreMenu clicks the sheet breadcrumb back to the zone menu and waits
// for the zone tree.
func (w *Walker) restoreMenu(ctx context.Context, f Frame, log *slog.Logger) {
	err := w.bounded(ctx, w.walk.ShortTimeout, func(c context.Context) error {
		if err := f.Click(c, w.sel.SheetBreadcrumb); err != nil {
			return err
		}
		return f.Wait(c, w.sel.ZoneTree)
	})
	if err != nil {
		log.Warn("zones: restore zone menu", "error", err)
		return
	}
	w.sleep(ctx, w.walk.Settle)
}

func pictogramName(section, work1, work2 string) string {
	name := svgsplit.SanitizeName(section) + "_" + svgsplit.SanitizeName(work1)
	if n2 := svgsplit.SanitizeName(work2); n2 != "" {
		name += "_" + n2
	}
	return name
}

func uniqueName(taken map[string]bool, stem string) string {
	name := stem
	for n := 2; taken[name]; n++ {
		name = stem + "_" + strconv.Itoa(n)
	}
	taken[name] = true
	return name
}
