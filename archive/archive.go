package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrNotFound is returned when a folder has no readable record.
var ErrNotFound = errors.New("archive: record not found")

// ErrInvalidKey is returned for folder keys that are not a single safe segment.
var ErrInvalidKey = errors.New("archive: invalid folder key")

// Archive writes and reads records under a Layout.
type Archive struct {
	layout Layout
	keep   int
	svgZip bool
	pdf    bool
	now    func() time.Time
	log    *slog.Logger
	cache  *expirable.LRU[string, *Record]
}

// Option configures an Archive.
type Option func(*Archive)

// WithKeep sets how many records are kept per folder. Default: 1.
func WithKeep(n int) Option {
	return func(a *Archive) {
		if n > 0 {
			a.keep = n
		}
	}
}

// WithSVGZip enables the all_svgs.zip bundle.
func WithSVGZip(on bool) Option { return func(a *Archive) { a.svgZip = on } }

// WithScreenshotsPDF enables the screenshots.pdf bundle.
func WithScreenshotsPDF(on bool) Option { return func(a *Archive) { a.pdf = on } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(a *Archive) { a.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(a *Archive) { a.log = l } }

// WithCache sizes the loaded-record cache.
func WithCache(size int, ttl time.Duration) Option {
	return func(a *Archive) { a.cache = expirable.NewLRU[string, *Record](size, nil, ttl) }
}

// New returns an Archive rooted at layout.
func New(layout Layout, opts ...Option) *Archive {
	a := &Archive{
		layout: layout,
		keep:   1,
		now:    time.Now,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.cache == nil {
		a.cache = expirable.NewLRU[string, *Record](256, nil, 15*time.Minute)
	}
	return a
}

// Layout returns the archive layout.
func (a *Archive) Layout() Layout { return a.layout }

// Saved describes a written record.
type Saved struct {
	JSONPath string
	JSONURL  string
}

// Write assigns seq and created_at, renders the zones table, writes the
// JSON record atomically and the optional bundles, then prunes older
// records of the folder beyond the keep limit.
func (a *Archive) Write(rec *Record) (Saved, error) {
	if !ValidKey(rec.Folder) {
		return Saved{}, fmt.Errorf("%w: %q", ErrInvalidKey, rec.Folder)
	}
	key := rec.Folder
	dataDir := a.layout.Dir(KindData, key)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return Saved{}, fmt.Errorf("archive: mkdir: %w", err)
	}

	prev, _ := a.records(key)
	var seq int64
	for _, e := range prev {
		if e.rec.Seq > seq {
			seq = e.rec.Seq
		}
	}
	rec.Seq = seq + 1
	rec.CreatedAt = a.now().Truncate(time.Second)
	rec.normalize()
	rec.ZonesTable = ZonesTable(rec.Zones)

	if a.svgZip {
		ok, err := zipSVGs(a.layout.Dir(KindSVGs, key))
		if err != nil {
			a.log.Warn("archive: svg zip failed", "folder", key, "error", err)
		} else if ok {
			rec.AllSVGsZip = a.layout.URL(KindSVGs, key, svgZipName)
		}
	}
	if a.pdf {
		images := a.screenshotFiles(rec)
		out := a.layout.Dir(KindScreenshots, key, pdfName)
		if err := screenshotsPDF(images, out); err != nil {
			a.log.Warn("archive: screenshots pdf failed", "folder", key, "error", err)
		} else if len(images) > 0 {
			rec.ScreenshotsPDF = a.layout.URL(KindScreenshots, key, pdfName)
		}
	}

	name := "data_" + rec.CreatedAt.Format("20060102_150405") + ".json"
	if _, err := os.Stat(filepath.Join(dataDir, name)); err == nil {
		name = fmt.Sprintf("data_%s_%d.json", rec.CreatedAt.Format("20060102_150405"), rec.Seq)
	}
	jsonPath := filepath.Join(dataDir, name)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Saved{}, fmt.Errorf("archive: marshal: %w", err)
	}
	if err := writeAtomic(jsonPath, data); err != nil {
		return Saved{}, err
	}
	a.cache.Remove(key)

	if md, err := Summary(rec); err != nil {
		a.log.Warn("archive: summary failed", "folder", key, "error", err)
	} else if err := writeAtomic(filepath.Join(dataDir, "summary.md"), []byte(md)); err != nil {
		a.log.Warn("archive: summary write failed", "folder", key, "error", err)
	}

	a.prune(key, jsonPath)

	a.log.Info("archive: record written", "folder", key, "seq", rec.Seq, "zones", len(rec.Zones))
	return Saved{JSONPath: jsonPath, JSONURL: a.layout.URL(KindData, key, name)}, nil
}

// screenshotFiles lists the existing PNG files referenced by rec, main first.
func (a *Archive) screenshotFiles(rec *Record) []string {
	urls := []string{rec.MainScreenshot}
	for _, z := range rec.Zones {
		urls = append(urls, z.ScreenshotPath)
	}
	var files []string
	for _, u := range urls {
		if u == "" {
			continue
		}
		f, ok := a.layout.File(u)
		if !ok || !strings.EqualFold(filepath.Ext(f), ".png") {
			continue
		}
		if _, err := os.Stat(f); err == nil {
			files = append(files, f)
		}
	}
	return files
}

func (a *Archive) prune(key, keepPath string) {
	entries, err := a.records(key)
	if err != nil {
		return
	}
	kept := 0
	for _, e := range entries {
		if e.path == keepPath || kept < a.keep-1 {
			if e.path != keepPath {
				kept++
			}
			continue
		}
		if err := os.Remove(e.path); err != nil {
			a.log.Warn("archive: prune failed", "path", e.path, "error", err)
		}
	}
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("archive: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("archive: rename %s: %w", path, err)
	}
	return nil
}

type entry struct {
	path  string
	mtime time.Time
	rec   *Record
}

// newer orders entries latest first: seq, then created_at, then file mtime
// for legacy records without either.
func newer(a, b entry) bool {
	if a.rec.Seq != b.rec.Seq {
		return a.rec.Seq > b.rec.Seq
	}
	if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
		return a.rec.CreatedAt.After(b.rec.CreatedAt)
	}
	if !a.mtime.Equal(b.mtime) {
		return a.mtime.After(b.mtime)
	}
	return a.path > b.path
}

// records loads every data_*.json of a folder, latest first. Unreadable
// files are skipped.
func (a *Archive) records(key string) ([]entry, error) {
	dir := a.layout.Dir(KindData, key)
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	var out []entry
	for _, p := range files {
		fi, err := os.Stat(p)
		if err != nil || fi.IsDir() {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			a.log.Warn("archive: read failed", "path", p, "error", err)
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			a.log.Warn("archive: decode failed", "path", p, "error", err)
			continue
		}
		out = append(out, entry{path: p, mtime: fi.ModTime(), rec: &rec})
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i], out[j]) })
	return out, nil
}

// Latest returns the most recent record of a folder.
func (a *Archive) Latest(key string) (*Record, error) {
	if !ValidKey(key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if rec, ok := a.cache.Get(key); ok {
		return rec, nil
	}
	entries, err := a.records(key)
	if err != nil {
		return nil, fmt.Errorf("archive: list %s: %w", key, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	e := entries[0]
	a.upgrade(key, e)
	a.cache.Add(key, e.rec)
	return e.rec, nil
}

// Entry is one row of the history list.
type Entry struct {
	Folder      string
	VIN         string
	ClaimNumber string
	Created     time.Time
	Zones       int
}

// List returns one entry per folder, most recent first.
func (a *Archive) List() ([]Entry, error) {
	root := filepath.Join(a.layout.Root, string(KindData))
	dirs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	var out []Entry
	for _, d := range dirs {
		if !d.IsDir() || !ValidKey(d.Name()) {
			continue
		}
		rec, err := a.Latest(d.Name())
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Folder:      d.Name(),
			VIN:         rec.VIN,
			ClaimNumber: rec.ClaimNumber,
			Created:     rec.CreatedAt,
			Zones:       len(rec.Zones),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out, nil
}

// upgrade fills in fields older records lack and rewrites legacy paths.
func (a *Archive) upgrade(key string, e entry) {
	r := e.rec
	if r.Folder == "" {
		r.Folder = key
	}
	if r.VIN == "" && r.ClaimNumber == "" {
		r.VIN = key
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = e.mtime.Truncate(time.Second)
	}
	fix := func(p string) string { return a.legacyPath(key, p) }
	r.MainScreenshot = fix(r.MainScreenshot)
	r.MainSVG = fix(r.MainSVG)
	r.AllSVGsZip = fix(r.AllSVGsZip)
	r.ScreenshotsPDF = fix(r.ScreenshotsPDF)
	for i := range r.Zones {
		z := &r.Zones[i]
		z.ScreenshotPath = fix(z.ScreenshotPath)
		z.SVGPath = fix(z.SVGPath)
		for j := range z.Details {
			z.Details[j].SVGPath = fix(z.Details[j].SVGPath)
		}
		for j := range z.Pictograms {
			for k := range z.Pictograms[j].Works {
				w := &z.Pictograms[j].Works[k]
				w.SVGPath = fix(w.SVGPath)
			}
		}
	}
	r.normalize()
	r.ZonesTable = ZonesTable(r.Zones)
}

// legacyPath converts backslashes and inserts the folder key into paths
// written before artifacts were grouped per folder.
func (a *Archive) legacyPath(key, p string) string {
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	prefix := strings.TrimSuffix(a.layout.URLPrefix, "/")
	for _, kind := range []Kind{KindScreenshots, KindSVGs} {
		base := prefix + "/" + string(kind) + "/"
		if !strings.HasPrefix(p, base) {
			continue
		}
		rest := strings.TrimPrefix(p, base)
		if rest == "" || strings.HasPrefix(rest, key+"/") {
			return p
		}
		return base + key + "/" + rest
	}
	return p
}
