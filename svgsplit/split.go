// Package svgsplit partitions composite damage-zone SVGs into one document
// per data-title and assembles standalone SVG documents from captured markup.
package svgsplit

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/beevik/etree"
)

// TitleAttr is the attribute naming the vehicle part a node belongs to.
const TitleAttr = "data-title"

// ErrNotSVG is returned when the input has no root element.
var ErrNotSVG = errors.New("svgsplit: document has no root element")

// Part is one single-title SVG document.
type Part struct {
	Title string
	Doc   []byte
}

// Written is a part persisted to disk.
type Written struct {
	Title string
	File  string // filesystem path
	URL   string // URL path under the archive prefix
}

// Titles returns the distinct data-title values of doc, sorted.
func Titles(doc *etree.Document) []string {
	seen := map[string]bool{}
	var walk func(*etree.Element)
	walk = func(el *etree.Element) {
		if t := el.SelectAttrValue(TitleAttr, ""); t != "" {
			seen[t] = true
		}
		for _, c := range el.ChildElements() {
			walk(c)
		}
	}
	if root := doc.Root(); root != nil {
		walk(root)
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Split returns one document per distinct data-title in src. For a title T,
// subtrees that neither carry T nor contain a node carrying T are removed
// when they are groups or carry another title; ancestors of T nodes and
// untitled non-group elements (style, defs) are kept.
func Split(src []byte) ([]Part, error) {
	base := etree.NewDocument()
	if err := base.ReadFromBytes(src); err != nil {
		return nil, fmt.Errorf("svgsplit: parse: %w", err)
	}
	if base.Root() == nil {
		return nil, ErrNotSVG
	}

	titles := Titles(base)
	parts := make([]Part, 0, len(titles))
	for _, title := range titles {
		doc := base.Copy()
		prune(doc.Root(), title, false)

		var buf bytes.Buffer
		if _, err := doc.WriteTo(&buf); err != nil {
			return nil, fmt.Errorf("svgsplit: serialise %q: %w", title, err)
		}
		parts = append(parts, Part{Title: title, Doc: buf.Bytes()})
	}
	return parts, nil
}

// prune removes from el the children that do not belong to title.
// inside reports whether el is itself (a descendant of) a node carrying title.
func prune(el *etree.Element, title string, inside bool) {
	for _, c := range el.ChildElements() {
		t := c.SelectAttrValue(TitleAttr, "")
		switch {
		case t == title:
			prune(c, title, true)
		case hasTitle(c, title):
			prune(c, title, inside)
		case t != "":
			el.RemoveChild(c)
		case c.Tag == "g" && !inside:
			el.RemoveChild(c)
		default:
			prune(c, title, inside)
		}
	}
}

func hasTitle(el *etree.Element, title string) bool {
	for _, c := range el.ChildElements() {
		if c.SelectAttrValue(TitleAttr, "") == title || hasTitle(c, title) {
			return true
		}
	}
	return false
}

// WriteParts writes each part to dir as <sanitized-title>.svg and returns
// the written files with their URL paths under urlBase. Titles that
// sanitize to nothing are skipped; colliding names get _2, _3 suffixes.
func WriteParts(dir, urlBase string, parts []Part, log *slog.Logger) ([]Written, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("svgsplit: mkdir %s: %w", dir, err)
	}

	taken := map[string]bool{}
	var out []Written
	for _, p := range parts {
		stem := SanitizeName(p.Title)
		if stem == "" {
			log.Warn("svgsplit: skipping title with no usable characters", "title", p.Title)
			continue
		}
		name := stem
		for n := 2; taken[name]; n++ {
			name = stem + "_" + strconv.Itoa(n)
		}
		taken[name] = true

		file := filepath.Join(dir, name+".svg")
		if err := os.WriteFile(file, p.Doc, 0o644); err != nil {
			return out, fmt.Errorf("svgsplit: write %s: %w", file, err)
		}
		out = append(out, Written{
			Title: p.Title,
			File:  file,
			URL:   path.Join(urlBase, name+".svg"),
		})
	}
	return out, nil
}
