package archive

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Kind is a top-level directory of the archive tree.
type Kind string

const (
	KindScreenshots Kind = "screenshots"
	KindSVGs        Kind = "svgs"
	KindData        Kind = "data"
)

// Layout maps archive locations to filesystem paths and URL paths.
type Layout struct {
	Root      string // filesystem root, e.g. "static"
	URLPrefix string // URL prefix the root is served under, e.g. "/static"
}

// Dir returns the filesystem directory for kind/key/sub...
func (l Layout) Dir(kind Kind, key string, sub ...string) string {
	parts := append([]string{l.Root, string(kind), key}, sub...)
	return filepath.Join(parts...)
}

// URL returns the forward-slash URL path for kind/key/elem...
func (l Layout) URL(kind Kind, key string, elem ...string) string {
	parts := append([]string{l.URLPrefix, string(kind), key}, elem...)
	return path.Join(parts...)
}

// File maps a URL path under the prefix back to a filesystem path. It
// reports false for paths outside the archive.
func (l Layout) File(urlPath string) (string, bool) {
	prefix := strings.TrimSuffix(l.URLPrefix, "/") + "/"
	clean := path.Clean("/" + strings.ReplaceAll(urlPath, "\\", "/"))
	if !strings.HasPrefix(clean, prefix) {
		return "", false
	}
	rel := strings.TrimPrefix(clean, prefix)
	if rel == "" {
		return "", false
	}
	return filepath.Join(l.Root, filepath.FromSlash(rel)), true
}

var reKeyUnsafe = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// FolderKey chooses the folder for a run: the VIN, else the claim number,
// else the timestamp of now. The result is always a single non-empty path
// segment.
func FolderKey(vin, claim string, now time.Time) string {
	for _, candidate := range []string{vin, claim} {
		if k := cleanKey(candidate); k != "" {
			return k
		}
	}
	return now.Format("20060102_150405")
}

func cleanKey(s string) string {
	s = strings.TrimSpace(s)
	s = reKeyUnsafe.ReplaceAllString(s, "_")
	s = strings.TrimLeft(s, ".")
	if strings.Trim(s, "_") == "" {
		return ""
	}
	return s
}

// ValidKey reports whether key is a folder key FolderKey could produce.
func ValidKey(key string) bool {
	return key != "" && cleanKey(key) == key
}
