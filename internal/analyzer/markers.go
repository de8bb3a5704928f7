package analyzer

import (
	"regexp"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// Markup attributes and values recognised as feature markers.
const (
	attrType    = "data-type"
	attrSubtype = "data-subtype"
	attrRootID  = "data-root-id"
	attrNodeID  = "data-node-id"

	nodeHeading = "NodeHeading"
	nodeTable   = "NodeTable"
	nodeImage   = "img"
)

var markdownImage = regexp.MustCompile(`!\[[^\]]*\]\([^)]+\)`)

// Markers is the set of structural features found in a markup fragment.
type Markers struct {
	Heading bool
	Image   bool
	Table   bool
	RootIDs []string
	// NodeIDs are the block ids carried by elements in the fragment,
	// in document order.
	NodeIDs []string
}

// ScanMarkers tokenizes markup and reports which features it contains.
// Malformed markup never fails; the tokenizer recovers and whatever
// tags were readable are classified.
func ScanMarkers(markup string) Markers {
	var m Markers
	if markup == "" {
		return m
	}

	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}

		name, hasAttr := z.TagName()
		switch string(name) {
		case "img":
			m.Image = true
		case "table":
			m.Table = true
		}

		for hasAttr {
			var key, val []byte
			key, val, hasAttr = z.TagAttr()
			switch string(key) {
			case attrType:
				switch string(val) {
				case nodeHeading:
					m.Heading = true
				case nodeTable:
					m.Table = true
				case nodeImage:
					m.Image = true
				}
			case attrSubtype:
				if isHeadingSubtype(string(val)) {
					m.Heading = true
				}
			case attrRootID:
				if id := string(val); id != "" && !slices.Contains(m.RootIDs, id) {
					m.RootIDs = append(m.RootIDs, id)
				}
			case attrNodeID:
				if id := string(val); id != "" && !slices.Contains(m.NodeIDs, id) {
					m.NodeIDs = append(m.NodeIDs, id)
				}
			}
		}
	}

	if !m.Image && markdownImage.MatchString(markup) {
		m.Image = true
	}
	return m
}

// PlainText returns the text content of a markup fragment with tags removed.
func PlainText(markup string) string {
	if markup == "" {
		return ""
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			// Block-level boundaries separate words.
			name, _ := z.TagName()
			switch string(name) {
			case "div", "p", "br", "td", "th", "tr", "li":
				b.WriteByte(' ')
			}
		}
	}
}

func isHeadingSubtype(v string) bool {
	return len(v) == 2 && v[0] == 'h' && v[1] >= '1' && v[1] <= '6'
}
