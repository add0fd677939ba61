package archive

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testArchive(t *testing.T, opts ...Option) (*Archive, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	base := []Option{
		WithClock(func() time.Time { return now }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	a := New(Layout{Root: t.TempDir(), URLPrefix: "/static"}, append(base, opts...)...)
	return a, &now
}

func sampleRecord(folder string) *Record {
	return &Record{
		Folder:         folder,
		ClaimNumber:    "3076224",
		VIN:            "LVVDB21B0PD986324",
		MainScreenshot: "/static/screenshots/" + folder + "/main.png",
		Zones: []Zone{
			{
				Title:          "Front",
				ScreenshotPath: "/static/screenshots/" + folder + "/zone_1.png",
				SVGPath:        "/static/svgs/" + folder + "/zone_1.svg",
				Details:        []Detail{{Title: "Hood", SVGPath: "/static/svgs/" + folder + "/zone_1/hood.svg"}},
			},
			Degraded("Rear"),
		},
	}
}

func TestFolderKey(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name, vin, claim, want string
	}{
		{"vin wins", "LVVDB21B0PD986324", "3076224", "LVVDB21B0PD986324"},
		{"claim fallback", "", "3076224", "3076224"},
		{"timestamp fallback", "", "", "20260102_030405"},
		{"blank vin", "   ", "42", "42"},
		{"unsafe chars", "AB/../C D", "", "AB_.._C_D"},
		{"leading dots", "..x", "", "x"},
		{"only dots", "...", "", "20260102_030405"},
		{"only separators", "//", "", "20260102_030405"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FolderKey(tt.vin, tt.claim, now)
			if got != tt.want {
				t.Errorf("FolderKey(%q, %q) = %q, want %q", tt.vin, tt.claim, got, tt.want)
			}
			if !ValidKey(got) {
				t.Errorf("FolderKey result %q is not a valid key", got)
			}
			if strings.ContainsAny(got, `/\`) || got == "." || got == ".." {
				t.Errorf("FolderKey result %q is not a single segment", got)
			}
		})
	}
}

func TestValidKey(t *testing.T) {
	for _, k := range []string{"", ".", "..", "../x", "a/b", " a", ".hidden", "___"} {
		if ValidKey(k) {
			t.Errorf("ValidKey(%q) = true, want false", k)
		}
	}
	for _, k := range []string{"LVVDB21B0PD986324", "3076224", "20260102_030405", "a.b-c_d"} {
		if !ValidKey(k) {
			t.Errorf("ValidKey(%q) = false, want true", k)
		}
	}
}

func TestLayout(t *testing.T) {
	l := Layout{Root: "static", URLPrefix: "/static"}
	if got := l.URL(KindSVGs, "KEY", "zone_1", "hood.svg"); got != "/static/svgs/KEY/zone_1/hood.svg" {
		t.Errorf("URL = %q", got)
	}
	if got := l.Dir(KindData, "KEY"); got != filepath.Join("static", "data", "KEY") {
		t.Errorf("Dir = %q", got)
	}
	f, ok := l.File("/static/screenshots/KEY/a.png")
	if !ok || f != filepath.Join("static", "screenshots", "KEY", "a.png") {
		t.Errorf("File = %q, %v", f, ok)
	}
	for _, bad := range []string{"/other/a.png", "/static/../etc/passwd", "/static/"} {
		if _, ok := l.File(bad); ok {
			t.Errorf("File(%q) should be rejected", bad)
		}
	}
}

func TestWrite_AssignsSeqAndReplaces(t *testing.T) {
	a, now := testArchive(t)
	key := "LVVDB21B0PD986324"

	saved1, err := a.Write(sampleRecord(key))
	if err != nil {
		t.Fatalf("first Write: %v", err)
	}
	*now = now.Add(time.Minute)
	rec2 := sampleRecord(key)
	rec2.Zones = rec2.Zones[:1]
	saved2, err := a.Write(rec2)
	if err != nil {
		t.Fatalf("second Write: %v", err)
	}

	if _, err := os.Stat(saved1.JSONPath); !os.IsNotExist(err) {
		t.Errorf("previous record should be pruned, stat err = %v", err)
	}
	if saved2.JSONURL != "/static/data/"+key+"/data_20260314_092753.json" {
		t.Errorf("JSONURL = %q", saved2.JSONURL)
	}

	latest, err := a.Latest(key)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Seq != 2 {
		t.Errorf("seq = %d, want 2", latest.Seq)
	}
	if len(latest.Zones) != 1 {
		t.Errorf("zones = %d, want 1 (latest record wins)", len(latest.Zones))
	}
	if !latest.CreatedAt.Equal(*now) {
		t.Errorf("created_at = %v, want %v", latest.CreatedAt, *now)
	}

	files, _ := filepath.Glob(filepath.Join(a.layout.Dir(KindData, key), "*.json"))
	if len(files) != 1 {
		t.Errorf("json files = %v, want exactly one", files)
	}
	if _, err := os.Stat(filepath.Join(a.layout.Dir(KindData, key), "summary.md")); err != nil {
		t.Errorf("summary.md missing: %v", err)
	}
}

func TestWrite_KeepRecords(t *testing.T) {
	a, now := testArchive(t, WithKeep(2))
	key := "3076224"
	for i := 0; i < 3; i++ {
		if _, err := a.Write(sampleRecord(key)); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
		*now = now.Add(time.Second)
	}
	entries, err := a.records(key)
	if err != nil {
		t.Fatal(err)
	}
	var seqs []int64
	for _, e := range entries {
		seqs = append(seqs, e.rec.Seq)
	}
	if diff := cmp.Diff([]int64{3, 2}, seqs); diff != "" {
		t.Errorf("kept seqs mismatch (-want +got):\n%s", diff)
	}
}

func TestWrite_SameSecond(t *testing.T) {
	a, _ := testArchive(t, WithKeep(5))
	key := "K1"
	s1, err := a.Write(sampleRecord(key))
	if err != nil {
		t.Fatal(err)
	}
	s2, err := a.Write(sampleRecord(key))
	if err != nil {
		t.Fatal(err)
	}
	if s1.JSONPath == s2.JSONPath {
		t.Fatalf("records written in the same second share %s", s1.JSONPath)
	}
	latest, err := a.Latest(key)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Seq != 2 {
		t.Errorf("seq = %d, want 2", latest.Seq)
	}
}

func TestWrite_InvalidKey(t *testing.T) {
	a, _ := testArchive(t)
	_, err := a.Write(&Record{Folder: "../escape"})
	if !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("got %v, want ErrInvalidKey", err)
	}
}

func TestWrite_JSONShape(t *testing.T) {
	a, _ := testArchive(t)
	rec := &Record{Folder: "K2", Zones: []Zone{{Title: "Left"}}}
	saved, err := a.Write(rec)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(saved.JSONPath)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"vin_value", "zone_data", "main_screenshot_path", "main_svg_path", "zones_table", "all_svgs_zip", "seq", "created_at", "folder"} {
		if _, ok := raw[k]; !ok {
			t.Errorf("json missing key %q", k)
		}
	}
	zone := raw["zone_data"].([]any)[0].(map[string]any)
	if _, ok := zone["details"].([]any); !ok {
		t.Errorf("details should be an array, got %#v", zone["details"])
	}
	if _, ok := zone["pictograms"].([]any); !ok {
		t.Errorf("pictograms should be an array, got %#v", zone["pictograms"])
	}
}

func TestWrite_SVGZip(t *testing.T) {
	a, _ := testArchive(t, WithSVGZip(true))
	key := "K3"
	zoneDir := a.layout.Dir(KindSVGs, key, "zone_1")
	if err := os.MkdirAll(zoneDir, 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(a.layout.Dir(KindSVGs, key), "zone_1.svg"), []byte("<svg/>"), 0o644)
	os.WriteFile(filepath.Join(zoneDir, "hood.svg"), []byte("<svg/>"), 0o644)

	rec := &Record{Folder: key}
	if _, err := a.Write(rec); err != nil {
		t.Fatal(err)
	}
	if rec.AllSVGsZip != "/static/svgs/K3/all_svgs.zip" {
		t.Errorf("AllSVGsZip = %q", rec.AllSVGsZip)
	}

	zr, err := zip.OpenReader(filepath.Join(a.layout.Dir(KindSVGs, key), "all_svgs.zip"))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	if diff := cmp.Diff([]string{"zone_1.svg", "zone_1/hood.svg"}, names); diff != "" {
		t.Errorf("zip entries mismatch (-want +got):\n%s", diff)
	}
}

func TestWrite_SVGZipNothingToPack(t *testing.T) {
	a, _ := testArchive(t, WithSVGZip(true))
	rec := &Record{Folder: "K4"}
	if _, err := a.Write(rec); err != nil {
		t.Fatal(err)
	}
	if rec.AllSVGsZip != "" {
		t.Errorf("AllSVGsZip = %q, want empty", rec.AllSVGsZip)
	}
}

func TestLatest_LegacyRecord(t *testing.T) {
	a, _ := testArchive(t)
	key := "LEGACYVIN"
	dir := a.layout.Dir(KindData, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	legacy := `{
  "vin_value": "",
  "zone_data": [{"title": "Front", "screenshot_path": "\\static\\screenshots\\zone_1.png",
    "svg_path": "/static/svgs/zone_1.svg", "has_pictograms": false, "graphics_not_available": false,
    "details": [{"title": "Hood", "svg_path": "/static/svgs/LEGACYVIN/hood.svg"}]}],
  "main_screenshot_path": "/static/screenshots/main.png",
  "main_svg_path": "",
  "zones_table": "",
  "all_svgs_zip": ""
}`
	if err := os.WriteFile(filepath.Join(dir, "data_20240101_000000.json"), []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	rec, err := a.Latest(key)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if rec.VIN != key || rec.Folder != key {
		t.Errorf("vin/folder = %q/%q, want %q", rec.VIN, rec.Folder, key)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("created_at should fall back to file mtime")
	}
	z := rec.Zones[0]
	if z.ScreenshotPath != "/static/screenshots/LEGACYVIN/zone_1.png" {
		t.Errorf("screenshot path = %q", z.ScreenshotPath)
	}
	if z.SVGPath != "/static/svgs/LEGACYVIN/zone_1.svg" {
		t.Errorf("svg path = %q", z.SVGPath)
	}
	if z.Details[0].SVGPath != "/static/svgs/LEGACYVIN/hood.svg" {
		t.Errorf("detail path = %q", z.Details[0].SVGPath)
	}
	if rec.MainScreenshot != "/static/screenshots/LEGACYVIN/main.png" {
		t.Errorf("main screenshot = %q", rec.MainScreenshot)
	}
	if z.Pictograms == nil {
		t.Error("pictograms should be normalized to an empty slice")
	}
}

func TestLatest_NotFound(t *testing.T) {
	a, _ := testArchive(t)
	if _, err := a.Latest("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if _, err := a.Latest("../etc"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("got %v, want ErrInvalidKey", err)
	}
}

func TestList(t *testing.T) {
	a, now := testArchive(t)
	if got, err := a.List(); err != nil || len(got) != 0 {
		t.Fatalf("empty archive: %v, %v", got, err)
	}

	a.Write(sampleRecord("OLDER"))
	*now = now.Add(time.Hour)
	a.Write(sampleRecord("NEWER"))
	*now = now.Add(time.Hour)
	a.Write(sampleRecord("NEWER"))

	got, err := a.List()
	if err != nil {
		t.Fatal(err)
	}
	var folders []string
	for _, e := range got {
		folders = append(folders, e.Folder)
	}
	if diff := cmp.Diff([]string{"NEWER", "OLDER"}, folders); diff != "" {
		t.Errorf("folders mismatch (-want +got):\n%s", diff)
	}
	if got[0].Zones != 2 {
		t.Errorf("zones = %d, want 2", got[0].Zones)
	}
}

func TestLatest_CacheInvalidatedOnWrite(t *testing.T) {
	a, now := testArchive(t)
	a.Write(sampleRecord("K5"))
	first, _ := a.Latest("K5")
	*now = now.Add(time.Minute)
	a.Write(sampleRecord("K5"))
	second, err := a.Latest("K5")
	if err != nil {
		t.Fatal(err)
	}
	if first.Seq == second.Seq {
		t.Errorf("cached record served after write: seq %d", second.Seq)
	}
}

func TestZonesTable(t *testing.T) {
	html := ZonesTable([]Zone{
		{Title: `Front <script>alert(1)</script>`, SVGPath: "/static/svgs/K/zone_1.svg", HasPictograms: true},
		Degraded("Rear"),
	})
	if strings.Contains(html, "<script>") {
		t.Errorf("table not sanitized: %s", html)
	}
	for _, want := range []string{`class="zones-table"`, `data-zone-title=`, `pictogram-icon`, `href="/static/svgs/K/zone_1.svg"`, "Rear"} {
		if !strings.Contains(html, want) {
			t.Errorf("table missing %q: %s", want, html)
		}
	}
	if strings.Count(html, "svg-download") != 1 {
		t.Errorf("degraded zone must not get a download link: %s", html)
	}

	empty := ZonesTable(nil)
	if !strings.Contains(empty, NoZonesText) {
		t.Errorf("empty table should say %q: %s", NoZonesText, empty)
	}
}

func TestSummary(t *testing.T) {
	rec := sampleRecord("K6")
	rec.CreatedAt = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	md, err := Summary(rec)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# LVVDB21B0PD986324", "Claim: 3076224", "## Front", "## Rear", "graphics not available", "(/static/svgs/K6/zone_1/hood.svg)"} {
		if !strings.Contains(md, want) {
			t.Errorf("summary missing %q:\n%s", want, md)
		}
	}
}
