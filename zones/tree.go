package zones

import (
	"strings"

	"golang.org/x/net/html"
)

// Ref is a zone discovered in the navigation tree.
type Ref struct {
	ID    string // data-value of the zone container
	Title string
}

// simpleSelector is the tag.class[.class] form the zone item selector uses.
type simpleSelector struct {
	tag     string
	classes []string
}

func parseSimpleSelector(s string) simpleSelector {
	parts := strings.Split(strings.TrimSpace(s), ".")
	sel := simpleSelector{tag: strings.ToLower(parts[0])}
	for _, c := range parts[1:] {
		if c != "" {
			sel.classes = append(sel.classes, c)
		}
	}
	return sel
}

func (s simpleSelector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	have := strings.Fields(attr(n, "class"))
	for _, want := range s.classes {
		found := false
		for _, c := range have {
			if c == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// parseZoneTree extracts zones from the navigation tree markup: every node
// matching item carries its id in data-value and its title in the
// descendant whose id is descPrefix+id. Items without a titled description
// are skipped.
func parseZoneTree(markup, item, descPrefix string) ([]Ref, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}
	sel := parseSimpleSelector(item)

	var refs []Ref
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if sel.matches(n) {
			id := strings.TrimSpace(attr(n, "data-value"))
			if id != "" {
				if desc := findByID(n, descPrefix+id); desc != nil {
					if title := strings.Join(strings.Fields(textOf(desc)), " "); title != "" {
						refs = append(refs, Ref{ID: id, Title: title})
					}
				}
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return refs, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode && attr(n, "id") == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findByID(c, id); f != nil {
			return f
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
