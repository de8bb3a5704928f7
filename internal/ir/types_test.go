package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseActionKind(t *testing.T) {
	for _, s := range []string{"insert", "update", "delete", "move", "setAttrs"} {
		k, ok := ParseActionKind(s)
		assert.True(t, ok, s)
		assert.Equal(t, ActionKind(s), k)
	}

	_, ok := ParseActionKind("append")
	assert.False(t, ok)
	_, ok = ParseActionKind("")
	assert.False(t, ok)
}

func TestVerdictMerge(t *testing.T) {
	a := NewVerdict()
	a.NeedsHeadingUpdate = true
	a.ChangedHeadingIDs.Add("h1")
	a.OperationKinds[ActionUpdate] = struct{}{}
	a.BlockIDs = []string{"h1"}

	b := NewVerdict()
	b.NeedsFigureUpdate = true
	b.ChangedTableIDs.Add("t1")
	b.AffectedRootIDs.Add("doc")
	b.OperationKinds[ActionDelete] = struct{}{}
	b.BlockIDs = []string{"t1", "h1"}

	a.Merge(b)

	assert.True(t, a.NeedsHeadingUpdate)
	assert.True(t, a.NeedsFigureUpdate)
	assert.Equal(t, []string{"h1"}, a.ChangedHeadingIDs.Sorted())
	assert.Equal(t, []string{"t1"}, a.ChangedTableIDs.Sorted())
	assert.Equal(t, []string{"doc"}, a.AffectedRootIDs.Sorted())
	assert.Len(t, a.OperationKinds, 2)
	assert.Equal(t, []string{"h1", "t1"}, a.BlockIDs)
}

func TestSamePayload(t *testing.T) {
	a := []Entry{{ID: "f1", Type: EntryImage, Number: 1}, {ID: "t1", Type: EntryTable, Number: 1}}
	b := ClonePayload(a)
	assert.True(t, SamePayload(a, b))

	b[1].Number = 2
	assert.False(t, SamePayload(a, b))
	assert.Equal(t, 1, a[1].Number, "clone must not alias")

	assert.False(t, SamePayload(a, a[:1]))

	// order matters
	assert.False(t, SamePayload(a, []Entry{a[1], a[0]}))
}

func TestHeadingLevel(t *testing.T) {
	assert.Equal(t, 2, (&OutlineNode{Type: BlockHeading, Subtype: "h2"}).HeadingLevel())
	assert.Equal(t, 0, (&OutlineNode{Type: BlockParagraph, Subtype: "h2"}).HeadingLevel())
	assert.Equal(t, 0, (&OutlineNode{Type: BlockHeading, Subtype: "h9"}).HeadingLevel())
	assert.Equal(t, 0, (&OutlineNode{Type: BlockHeading}).HeadingLevel())
}

func TestOutlineWalkOrder(t *testing.T) {
	root := &OutlineNode{ID: "d", Children: []*OutlineNode{
		{ID: "a", Children: []*OutlineNode{{ID: "a1"}, {ID: "a2"}}},
		{ID: "b"},
	}}

	var seen []string
	root.Walk(func(n *OutlineNode) bool {
		seen = append(seen, n.ID)
		return n.ID != "a"
	})
	assert.Equal(t, []string{"d", "a", "b"}, seen)
}
