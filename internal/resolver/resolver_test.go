package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/annosync/internal/ir"
)

type fakeSource struct {
	docs map[ir.DocumentKey][]string
	err  error
}

func (f *fakeSource) FetchBlockMembership(_ context.Context, key ir.DocumentKey) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	ids, ok := f.docs[key]
	if !ok {
		return nil, fmt.Errorf("document %s not found", key)
	}
	return ids, nil
}

func batch(ops ...ir.MutationOperation) ir.TransactionBatch {
	return ir.TransactionBatch{Operations: ops}
}

func openResolver(t *testing.T) *Resolver {
	t.Helper()
	src := &fakeSource{docs: map[ir.DocumentKey][]string{
		"K":     {"K", "h1", "p1", "s1"},
		"other": {"other", "x1"},
	}}
	r := New(src)
	require.NoError(t, r.Open(context.Background(), "K"))
	require.NoError(t, r.Open(context.Background(), "other"))
	return r
}

func TestIsAffected_MemberBlock(t *testing.T) {
	r := openResolver(t)
	b := batch(ir.MutationOperation{Action: ir.ActionUpdate, BlockID: "h1", RawContent: `<div data-type="NodeHeading">x</div>`})

	assert.True(t, r.IsAffected(b, "K"))
	assert.False(t, r.IsAffected(b, "other"))
}

func TestIsAffected_IgnoresRootHints(t *testing.T) {
	r := openResolver(t)
	// Claims to belong to K but the block is not a member.
	b := batch(ir.MutationOperation{Action: ir.ActionUpdate, BlockID: "x1", RawContent: `<div data-root-id="K"></div>`})

	assert.False(t, r.IsAffected(b, "K"))
	assert.True(t, r.IsAffected(b, "other"))
}

func TestIsAffected_FailsClosed(t *testing.T) {
	r := openResolver(t)

	// no block id
	assert.False(t, r.IsAffected(batch(ir.MutationOperation{Action: ir.ActionUpdate}), "K"))

	// document not open
	b := batch(ir.MutationOperation{Action: ir.ActionUpdate, BlockID: "h1"})
	assert.False(t, r.IsAffected(b, "closed"))
	assert.True(t, ir.IsResolverUnavailable(r.Check("closed")))
	assert.NoError(t, r.Check("K"))

	// index could not be built
	broken := New(&fakeSource{err: errors.New("storage down")})
	err := broken.Open(context.Background(), "K")
	require.Error(t, err)
	assert.True(t, ir.IsFetchError(err))
	assert.False(t, broken.IsAffected(b, "K"))
}

func TestIsAffected_InsertAnchoredToMember(t *testing.T) {
	r := openResolver(t)
	ins := batch(ir.MutationOperation{Action: ir.ActionInsert, BlockID: "new", ParentID: "K", PreviousID: "p1"})

	assert.True(t, r.IsAffected(ins, "K"))
	assert.False(t, r.IsAffected(ins, "other"))

	r.Observe(ins)
	upd := batch(ir.MutationOperation{Action: ir.ActionUpdate, BlockID: "new"})
	assert.True(t, r.IsAffected(upd, "K"), "inserted block becomes a member")
}

func TestObserve_InsertAddsNestedBlocks(t *testing.T) {
	r := openResolver(t)
	ins := batch(ir.MutationOperation{
		Action:     ir.ActionInsert,
		BlockID:    "sb2",
		PreviousID: "s1",
		RawContent: `<div data-node-id="sb2" data-type="NodeSuperBlock" data-sb-layout="row">` +
			`<div data-node-id="c1" data-type="NodeParagraph"><div>a</div></div>` +
			`<div data-node-id="c2" data-type="NodeParagraph"><div>b</div></div></div>`,
	})
	r.Observe(ins)

	for _, id := range []string{"sb2", "c1", "c2"} {
		upd := batch(ir.MutationOperation{Action: ir.ActionUpdate, BlockID: id, RawContent: `<img src="b.png">`})
		assert.True(t, r.IsAffected(upd, "K"), id)
		assert.False(t, r.IsAffected(upd, "other"), id)
	}
}

func TestObserve_UpdateAddsNestedBlocksOfMembersOnly(t *testing.T) {
	r := openResolver(t)
	r.Observe(batch(
		ir.MutationOperation{Action: ir.ActionUpdate, BlockID: "p1", RawContent: `<div data-node-id="n1"></div>`},
		ir.MutationOperation{Action: ir.ActionUpdate, BlockID: "stranger", RawContent: `<div data-node-id="n2"></div>`},
	))

	assert.True(t, r.IsAffected(batch(ir.MutationOperation{Action: ir.ActionUpdate, BlockID: "n1"}), "K"))
	assert.False(t, r.IsAffected(batch(ir.MutationOperation{Action: ir.ActionUpdate, BlockID: "n2"}), "K"))
}

func TestObserve_DeleteStillAffectsBeforeObserve(t *testing.T) {
	r := openResolver(t)
	del := batch(ir.MutationOperation{Action: ir.ActionDelete, BlockID: "h1"})

	assert.True(t, r.IsAffected(del, "K"))
	r.Observe(del)
	assert.False(t, r.IsAffected(batch(ir.MutationOperation{Action: ir.ActionUpdate, BlockID: "h1"}), "K"))
}

func TestObserve_MoveAcrossDocuments(t *testing.T) {
	r := openResolver(t)
	mv := batch(ir.MutationOperation{Action: ir.ActionMove, BlockID: "p1", ParentID: "other"})

	assert.True(t, r.IsAffected(mv, "K"), "source document loses the block")
	assert.True(t, r.IsAffected(mv, "other"), "target document gains the block")

	r.Observe(mv)
	upd := batch(ir.MutationOperation{Action: ir.ActionUpdate, BlockID: "p1"})
	assert.False(t, r.IsAffected(upd, "K"))
	assert.True(t, r.IsAffected(upd, "other"))
}

func TestAffected_AndReset(t *testing.T) {
	r := openResolver(t)
	msg := &ir.Message{Batches: []ir.TransactionBatch{
		batch(ir.MutationOperation{Action: ir.ActionUpdate, BlockID: "x1"}),
		batch(ir.MutationOperation{Action: ir.ActionUpdate, BlockID: "s1"}),
	}}
	assert.Equal(t, []ir.DocumentKey{"K", "other"}, r.Affected(msg))

	r.Reset("K", []string{"K"})
	assert.Equal(t, []ir.DocumentKey{"other"}, r.Affected(msg))

	r.Close("other")
	assert.Empty(t, r.Affected(msg))
	assert.Equal(t, []ir.DocumentKey{"K"}, r.OpenKeys())

	// reset of a closed document does not reopen it
	r.Reset("other", []string{"x1"})
	assert.Equal(t, []ir.DocumentKey{"K"}, r.OpenKeys())
}

func TestIndex_LargeDocument(t *testing.T) {
	ids := make([]string, 50000)
	for i := range ids {
		ids[i] = fmt.Sprintf("b%05d", i)
	}
	ix := NewIndex(ids)
	assert.Equal(t, 50000, ix.Len())
	assert.True(t, ix.Has("b49999"))
	assert.False(t, ix.Has("b50000"))
	assert.False(t, ix.Has(""))
}
