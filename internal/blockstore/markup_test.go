package blockstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/annosync/internal/ir"
)

func TestDecodeBlocks_SingleHeading(t *testing.T) {
	rows, structured := decodeBlocks("x", `<div data-node-id="h1" data-type="NodeHeading" data-subtype="h2">Intro</div>`)
	require.True(t, structured)
	require.Len(t, rows, 1)
	assert.Equal(t, "h1", rows[0].id)
	assert.Equal(t, ir.BlockHeading, rows[0].typ)
	assert.Equal(t, "h2", rows[0].subtype)
	assert.Equal(t, "Intro", rows[0].content)
}

func TestDecodeBlocks_HeadingDefaultsToH1(t *testing.T) {
	rows, _ := decodeBlocks("hx", `<div data-type="NodeHeading">Title</div>`)
	require.Len(t, rows, 1)
	assert.Equal(t, "hx", rows[0].id)
	assert.Equal(t, "h1", rows[0].subtype)
}

func TestDecodeBlocks_NestedSuperBlock(t *testing.T) {
	markup := `<div data-node-id="sb" data-type="NodeSuperBlock" data-sb-layout="row">` +
		`<div data-node-id="img" data-type="NodeParagraph"><img src="a.png"></div>` +
		`<div data-node-id="cap" data-type="NodeParagraph">Revenue</div>` +
		`</div>`

	rows, structured := decodeBlocks("sb", markup)
	require.True(t, structured)
	require.Len(t, rows, 3)

	assert.Equal(t, "sb", rows[0].id)
	assert.Equal(t, ir.BlockSuper, rows[0].typ)
	assert.Equal(t, ir.LayoutRow, rows[0].layout)
	assert.Empty(t, rows[0].content)

	assert.Equal(t, "img", rows[1].id)
	assert.Equal(t, "sb", rows[1].parentID)
	assert.Equal(t, 0, rows[1].sort)
	assert.Contains(t, rows[1].content, "<img")

	assert.Equal(t, "cap", rows[2].id)
	assert.Equal(t, 1, rows[2].sort)
	assert.Equal(t, "Revenue", rows[2].content)
}

func TestDecodeBlocks_PlainContent(t *testing.T) {
	rows, structured := decodeBlocks("p1", "Hello world")
	assert.False(t, structured)
	require.Len(t, rows, 1)
	assert.Equal(t, "p1", rows[0].id)
	assert.Equal(t, ir.BlockParagraph, rows[0].typ)
	assert.Equal(t, "Hello world", rows[0].content)
}

func TestBlockType(t *testing.T) {
	assert.Equal(t, ir.BlockTable, blockType("NodeTable"))
	assert.Equal(t, ir.BlockParagraph, blockType(""))
	assert.Equal(t, "NodeList", blockType("NodeList"))
}
