package svgsplit

import (
	"regexp"
	"strings"

	"github.com/gosimple/unidecode"
)

var (
	reUnsafe = regexp.MustCompile(`[^\w\s-]`)
	reSpace  = regexp.MustCompile(`\s+`)
)

// SanitizeName turns a detail title into a file-name stem: ASCII
// transliteration, punctuation stripped, whitespace runs mapped to '_',
// lowercased. The result only contains [a-z0-9_-] and SanitizeName is
// idempotent. An empty result means the title has no usable characters.
func SanitizeName(s string) string {
	s = unidecode.Unidecode(s)
	s = reUnsafe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = reSpace.ReplaceAllString(s, "_")
	return strings.ToLower(s)
}
