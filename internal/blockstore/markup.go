package blockstore

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/roach88/annosync/internal/analyzer"
	"github.com/roach88/annosync/internal/ir"
)

// Markup attributes describing blocks.
const (
	attrNodeID  = "data-node-id"
	attrType    = "data-type"
	attrSubtype = "data-subtype"
	attrLayout  = "data-sb-layout"
)

var nodeTypes = map[string]string{
	"NodeDocument":   ir.BlockDocument,
	"NodeHeading":    ir.BlockHeading,
	"NodeParagraph":  ir.BlockParagraph,
	"NodeTable":      ir.BlockTable,
	"NodeSuperBlock": ir.BlockSuper,
}

// blockRow is a decoded block before it is positioned in the tree.
type blockRow struct {
	id       string
	parentID string // empty for the top-level block of a fragment
	typ      string
	subtype  string
	layout   string
	content  string
	sort     int
}

// decodeBlocks turns block markup into rows. Elements carrying a
// data-node-id become blocks; nested block elements become children of
// the nearest enclosing block. The first top-level block takes id when it
// has none.
//
// Markup without any block element is a single block whose type is
// inferred from its feature markers; structured is false in that case.
func decodeBlocks(id, markup string) (rows []blockRow, structured bool) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return []blockRow{inferBlock(id, markup)}, false
	}

	var visit func(n *html.Node, parent string, sort *int)
	visit = func(n *html.Node, parent string, sort *int) {
		if n.Type != html.ElementNode {
			return
		}
		if !isBlock(n) {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				visit(c, parent, sort)
			}
			return
		}

		row := blockRow{
			id:       attr(n, attrNodeID),
			parentID: parent,
			typ:      blockType(attr(n, attrType)),
			subtype:  attr(n, attrSubtype),
			layout:   attr(n, attrLayout),
		}
		if row.id == "" {
			if parent != "" || len(rows) > 0 {
				return
			}
			row.id = id
		}
		row.sort = *sort
		*sort++
		if row.typ == ir.BlockHeading && row.subtype == "" {
			row.subtype = "h1"
		}

		idx := len(rows)
		rows = append(rows, row)
		var childSort int
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c, row.id, &childSort)
		}
		if childSort == 0 {
			rows[idx].content = renderInner(n)
		}
	}

	var top int
	for _, n := range nodes {
		visit(n, "", &top)
	}
	if len(rows) == 0 {
		return []blockRow{inferBlock(id, markup)}, false
	}
	return rows, true
}

func inferBlock(id, markup string) blockRow {
	m := analyzer.ScanMarkers(markup)
	row := blockRow{id: id, typ: ir.BlockParagraph, content: markup}
	switch {
	case m.Heading:
		row.typ, row.subtype = ir.BlockHeading, "h1"
	case m.Table:
		row.typ = ir.BlockTable
	}
	return row
}

func isBlock(n *html.Node) bool {
	return attr(n, attrNodeID) != "" || nodeTypes[attr(n, attrType)] != ""
}

func blockType(dataType string) string {
	if t, ok := nodeTypes[dataType]; ok {
		return t
	}
	if dataType == "" {
		return ir.BlockParagraph
	}
	return dataType
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// renderInner renders the children of n back to markup.
func renderInner(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return ""
		}
	}
	return strings.TrimSpace(buf.String())
}
