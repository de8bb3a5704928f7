package numbering

import (
	"cmp"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/width"

	"github.com/roach88/annosync/internal/analyzer"
	"github.com/roach88/annosync/internal/ir"
)

// Prefixes are the label prefixes per figure type.
type Prefixes struct {
	Image string
	Table string
}

// DefaultPrefixes returns 图 for images and 表 for tables.
func DefaultPrefixes() Prefixes {
	return Prefixes{Image: "图", Table: "表"}
}

// For returns the prefix of t.
func (p Prefixes) For(t ir.EntryType) string {
	if t == ir.EntryTable {
		return p.Table
	}
	return p.Image
}

// Figure is an unnumbered figure/caption pair found in an outline.
type Figure struct {
	ID        string
	Type      ir.EntryType
	Content   string
	Caption   string
	CaptionID string
	// ContainerID is the row block holding the figure and its caption.
	ContainerID string
	DomOrder    int
}

// PairFigures scans the outline for row-layout super blocks holding
// exactly one figure and one text paragraph.
//
// A figure is a table block, or a paragraph containing an image. Any other
// combination (two images, two paragraphs of text, a list) yields nothing.
// DomOrder is the position of the super block in a depth-first walk.
func PairFigures(root *ir.OutlineNode) []Figure {
	var (
		figures []Figure
		order   int
	)
	root.Walk(func(n *ir.OutlineNode) bool {
		order++
		if n.Type != ir.BlockSuper || n.Layout != ir.LayoutRow || len(n.Children) != 2 {
			return true
		}
		if f, ok := pair(n.Children[0], n.Children[1]); ok {
			f.ContainerID = n.ID
			f.DomOrder = order
			figures = append(figures, f)
		}
		return true
	})
	return figures
}

func pair(a, b *ir.OutlineNode) (Figure, bool) {
	var figure, text *ir.OutlineNode
	var kind ir.EntryType

	for _, child := range []*ir.OutlineNode{a, b} {
		switch child.Type {
		case ir.BlockTable:
			if figure != nil {
				return Figure{}, false
			}
			figure, kind = child, ir.EntryTable
		case ir.BlockParagraph:
			if analyzer.ScanMarkers(child.Content).Image {
				if figure != nil {
					return Figure{}, false
				}
				figure, kind = child, ir.EntryImage
				continue
			}
			if text != nil {
				return Figure{}, false
			}
			text = child
		default:
			return Figure{}, false
		}
	}
	if figure == nil || text == nil || figure.ID == "" || text.ID == "" {
		return Figure{}, false
	}

	return Figure{
		ID:        figure.ID,
		Type:      kind,
		Content:   figure.Content,
		Caption:   CleanCaption(analyzer.PlainText(text.Content)),
		CaptionID: text.ID,
	}, true
}

// NumberFigures numbers images and tables independently, 1..N each, in
// document order. The result is ordered by document position.
func NumberFigures(figures []Figure, prefixes Prefixes) []ir.Entry {
	sorted := slices.Clone(figures)
	slices.SortStableFunc(sorted, func(a, b Figure) int {
		if c := cmp.Compare(a.DomOrder, b.DomOrder); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	next := map[ir.EntryType]int{}
	entries := make([]ir.Entry, 0, len(sorted))
	for _, f := range sorted {
		next[f.Type]++
		n := next[f.Type]
		entries = append(entries, ir.Entry{
			ID:        f.ID,
			Type:      f.Type,
			Content:   f.Content,
			Caption:   f.Caption,
			CaptionID: f.CaptionID,
			Number:    n,
			Label:     label(prefixes.For(f.Type), n),
			DomOrder:  f.DomOrder,
		})
	}
	return entries
}

// IndexFigures pairs and numbers the figures of an outline.
func IndexFigures(root *ir.OutlineNode, prefixes Prefixes) []ir.Entry {
	return NumberFigures(PairFigures(root), prefixes)
}

func label(prefix string, n int) string {
	if prefix == "" {
		return strconv.Itoa(n)
	}
	return prefix + " " + strconv.Itoa(n)
}

// CleanCaption normalises caption text. Full-width forms are folded to
// their narrow equivalents, whitespace runs collapse to one space and
// leading or trailing colons are dropped.
func CleanCaption(s string) string {
	s = width.Fold.String(s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, ":")
	return strings.TrimSpace(s)
}
