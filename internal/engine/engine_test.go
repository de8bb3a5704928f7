package engine

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/annosync/internal/blockstore"
	"github.com/roach88/annosync/internal/config"
	"github.com/roach88/annosync/internal/ir"
	"github.com/roach88/annosync/internal/state"
	"github.com/roach88/annosync/internal/testutil"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	clock  *testutil.ManualClock
	blocks *blockstore.Store
	engine *Engine
}

// newFixture starts an engine over an in-memory block store holding
// document d1 (two headings and one captioned image) and document d2.
// The dispatcher runs without delay; recomputes fire on clock.Advance.
func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Dispatcher.Delay = 0
	for _, m := range mutate {
		m(&cfg)
	}

	clk := testutil.NewManualClock(epoch)
	bs, err := blockstore.Open(":memory:", blockstore.WithClock(clk))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bs.PutOutline(ctx, &ir.OutlineNode{
		ID: "d1", Type: ir.BlockDocument,
		Children: []*ir.OutlineNode{
			{ID: "ha", Type: ir.BlockHeading, Subtype: "h1", Content: "Intro"},
			{ID: "hb", Type: ir.BlockHeading, Subtype: "h2", Content: "Scope"},
			{ID: "sb", Type: ir.BlockSuper, Layout: ir.LayoutRow, Children: []*ir.OutlineNode{
				{ID: "img", Type: ir.BlockParagraph, Content: `<img src="a.png">`},
				{ID: "cap", Type: ir.BlockParagraph, Content: "Revenue"},
			}},
		},
	}))
	require.NoError(t, bs.PutOutline(ctx, &ir.OutlineNode{
		ID: "d2", Type: ir.BlockDocument,
		Children: []*ir.OutlineNode{
			{ID: "x1", Type: ir.BlockHeading, Subtype: "h1", Content: "Other"},
		},
	}))

	e := New(bs, bs,
		WithConfig(cfg),
		WithClock(clk),
		WithIDGenerator(testutil.NewSequenceIDGenerator("session")),
	)
	runCtx, cancel := context.WithCancel(ctx)
	e.Start(runCtx)
	t.Cleanup(func() {
		e.Close()
		cancel()
		bs.Close()
	})

	return &fixture{t: t, ctx: ctx, clock: clk, blocks: bs, engine: e}
}

// send feeds one wire message through the engine, persisting it first.
func (f *fixture) send(ops ...string) {
	f.t.Helper()
	raw := `{"cmd":"transactions","data":[{"doOperations":[` + strings.Join(ops, ",") + `]}]}`
	require.NoError(f.t, f.engine.HandleAndApply(f.ctx, []byte(raw), f.blocks))
}

// settle waits for queued events, fires due recomputes and waits for
// notifications.
func (f *fixture) settle() {
	f.t.Helper()
	require.Eventually(f.t, f.engine.Drained, time.Second, time.Millisecond)
	f.clock.Advance(time.Second)
	ctx, cancel := context.WithTimeout(f.ctx, time.Second)
	defer cancel()
	require.NoError(f.t, f.engine.Settle(ctx))
}

func (f *fixture) labels(scope ir.Scope, key ir.DocumentKey) []string {
	f.t.Helper()
	st, ok := f.engine.State(scope, key)
	require.True(f.t, ok, "no %s state for %s", scope, key)
	out := make([]string, 0, len(st.Payload))
	for _, e := range st.Payload {
		out = append(out, e.Label)
	}
	return out
}

func (f *fixture) decorations(scope ir.Scope, key ir.DocumentKey) []ir.Decoration {
	f.t.Helper()
	d, err := f.blocks.Decorations(f.ctx, key, scope)
	require.NoError(f.t, err)
	return d
}

func (f *fixture) version(scope ir.Scope, key ir.DocumentKey) int64 {
	f.t.Helper()
	st, ok := f.engine.State(scope, key)
	require.True(f.t, ok)
	return st.Version
}

const headingResults = `{"action":"insert","id":"hc","previousID":"sb","data":"<div data-node-id=\"hc\" data-type=\"NodeHeading\" data-subtype=\"h1\">Results</div>"}`

func TestEngine_OpenDocument(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.OpenDocument(f.ctx, "d1"))

	assert.True(t, f.engine.IsOpen("d1"))
	assert.Equal(t, []ir.DocumentKey{"d1"}, f.engine.OpenDocuments())
	assert.Equal(t, []string{"1. ", "1.1 "}, f.labels(ir.ScopeHeadings, "d1"))
	assert.Equal(t, []string{"图 1"}, f.labels(ir.ScopeFigures, "d1"))

	assert.Equal(t, []ir.Decoration{
		{BlockID: "ha", Kind: ir.EntryHeading, Label: "1. "},
		{BlockID: "hb", Kind: ir.EntryHeading, Label: "1.1 "},
	}, f.decorations(ir.ScopeHeadings, "d1"))
	assert.Equal(t, []ir.Decoration{
		{BlockID: "img", Kind: ir.EntryImage, Label: "图 1"},
	}, f.decorations(ir.ScopeFigures, "d1"))

	st, _ := f.engine.State(ir.ScopeFigures, "d1")
	require.Len(t, st.Payload, 1)
	assert.Equal(t, "Revenue", st.Payload[0].Caption)
	assert.Equal(t, "cap", st.Payload[0].CaptionID)
}

func TestEngine_OpenDocumentTwiceIsNoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.OpenDocument(f.ctx, "d1"))
	v := f.version(ir.ScopeHeadings, "d1")

	require.NoError(t, f.engine.OpenDocument(f.ctx, "d1"))
	assert.Equal(t, v, f.version(ir.ScopeHeadings, "d1"))
}

func TestEngine_OpenMissingDocument(t *testing.T) {
	f := newFixture(t)
	err := f.engine.OpenDocument(f.ctx, "missing")
	require.Error(t, err)
	assert.False(t, f.engine.IsOpen("missing"))
	assert.Empty(t, f.engine.OpenDocuments())
}

func TestEngine_HeadingInsertRenumbers(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.OpenDocument(f.ctx, "d1"))
	figures := f.version(ir.ScopeFigures, "d1")

	f.send(headingResults)
	f.settle()

	assert.Equal(t, []string{"1. ", "1.1 ", "2. "}, f.labels(ir.ScopeHeadings, "d1"))
	assert.Len(t, f.decorations(ir.ScopeHeadings, "d1"), 3)
	assert.Equal(t, figures, f.version(ir.ScopeFigures, "d1"), "figures untouched by a heading edit")
}

func TestEngine_DeleteKnownHeadingWithoutMarkup(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.OpenDocument(f.ctx, "d1"))

	f.send(`{"action":"delete","id":"hb"}`)
	f.settle()

	assert.Equal(t, []string{"1. "}, f.labels(ir.ScopeHeadings, "d1"))
}

func TestEngine_CaptionEditUpdatesFigure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.OpenDocument(f.ctx, "d1"))

	f.send(`{"action":"update","id":"cap","data":"Quarterly revenue"}`)
	f.settle()

	st, ok := f.engine.State(ir.ScopeFigures, "d1")
	require.True(t, ok)
	require.Len(t, st.Payload, 1)
	assert.Equal(t, "Quarterly revenue", st.Payload[0].Caption)
}

func TestEngine_EditInsideInsertedRow(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.OpenDocument(f.ctx, "d1"))

	f.send(`{"action":"insert","id":"sb2","previousID":"sb","data":"<div data-node-id=\"sb2\" data-type=\"NodeSuperBlock\" data-sb-layout=\"row\">` +
		`<div data-node-id=\"p1\" data-type=\"NodeParagraph\"><div>placeholder</div></div>` +
		`<div data-node-id=\"p2\" data-type=\"NodeParagraph\"><div>Costs</div></div></div>"}`)
	f.settle()
	assert.Equal(t, []string{"图 1"}, f.labels(ir.ScopeFigures, "d1"))

	f.send(`{"action":"update","id":"p1","data":"<img src=\"b.png\">"}`)
	f.settle()

	assert.Equal(t, []string{"图 1", "图 2"}, f.labels(ir.ScopeFigures, "d1"))
	st, _ := f.engine.State(ir.ScopeFigures, "d1")
	require.Len(t, st.Payload, 2)
	assert.Equal(t, "p1", st.Payload[1].ID)
	assert.Equal(t, "Costs", st.Payload[1].Caption)
}

func TestEngine_EditInClosedDocumentIgnored(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.OpenDocument(f.ctx, "d1"))
	v := f.version(ir.ScopeHeadings, "d1")

	f.send(`{"action":"insert","id":"x2","previousID":"x1","data":"<div data-node-id=\"x2\" data-type=\"NodeHeading\">More</div>"}`)
	f.settle()

	assert.Equal(t, v, f.version(ir.ScopeHeadings, "d1"))
	_, ok := f.engine.State(ir.ScopeHeadings, "d2")
	assert.False(t, ok)
}

func TestEngine_IrrelevantEditSkipsRecompute(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.OpenDocument(f.ctx, "d1"))
	v := f.version(ir.ScopeHeadings, "d1")

	f.send(`{"action":"insert","id":"p9","previousID":"ha","data":"just text"}`)
	f.settle()

	assert.Equal(t, v, f.version(ir.ScopeHeadings, "d1"))
	assert.Equal(t, 0, f.engine.Stats().PendingEvents)
}

func TestEngine_MalformedMessage(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.OpenDocument(f.ctx, "d1"))

	err := f.engine.HandleMessage(f.ctx, []byte("not json"))
	require.Error(t, err)
	assert.True(t, ir.IsParseError(err))

	require.NoError(t, f.engine.HandleMessage(f.ctx, []byte(`{"cmd":"ping"}`)))
}

func TestEngine_ApplyFailureStillAnalysed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.OpenDocument(f.ctx, "d1"))

	// The store cannot place the block, but the heading still counts.
	f.send(`{"action":"update","id":"hb","data":"<div data-node-id=\"hb\" data-type=\"NodeHeading\" data-subtype=\"h2\">Scope</div>"}`,
		`{"action":"update","id":"ghost","data":"boo"}`)
	f.settle()

	assert.Equal(t, []string{"1. ", "1.1 "}, f.labels(ir.ScopeHeadings, "d1"))
}

func TestEngine_Consume(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.OpenDocument(f.ctx, "d1"))

	input := strings.Join([]string{
		"garbage",
		"",
		`{"cmd":"transactions","data":[{"doOperations":[` + headingResults + `]}]}`,
	}, "\n")
	require.NoError(t, f.engine.Consume(f.ctx, NewLineStream(strings.NewReader(input)), f.blocks))
	f.settle()

	assert.Equal(t, []string{"1. ", "1.1 ", "2. "}, f.labels(ir.ScopeHeadings, "d1"))
}

func TestEngine_CloseDocument(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.OpenDocument(f.ctx, "d1"))

	require.NoError(t, f.engine.CloseDocument("d1"))
	assert.False(t, f.engine.IsOpen("d1"))
	_, ok := f.engine.State(ir.ScopeHeadings, "d1")
	assert.False(t, ok)

	err := f.engine.CloseDocument("d1")
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, f.engine.Refresh(f.ctx, "d1"), ErrNotOpen)
}

func TestEngine_Refresh(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.OpenDocument(f.ctx, "d1"))
	v := f.version(ir.ScopeHeadings, "d1")

	require.NoError(t, f.engine.Refresh(f.ctx, "d1"))
	assert.Greater(t, f.version(ir.ScopeHeadings, "d1"), v)
}

func TestEngine_DisabledByDefault(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Documents.CrossReference = false
	})
	require.NoError(t, f.engine.OpenDocument(f.ctx, "d1"))

	_, ok := f.engine.State(ir.ScopeFigures, "d1")
	assert.False(t, ok)
	assert.Empty(t, f.decorations(ir.ScopeFigures, "d1"))
	assert.NotEmpty(t, f.labels(ir.ScopeHeadings, "d1"))
}

func TestEngine_ApplyConfig(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.OpenDocument(f.ctx, "d1"))

	t.Run("format change relabels", func(t *testing.T) {
		cfg := f.engine.Config()
		cfg.Headings.Formats[0] = "第{1}章 "
		cfg.Headings.Styles[0] = "chinese"
		f.engine.ApplyConfig(f.ctx, cfg)
		f.settle()

		assert.Equal(t, []string{"第一章 ", "1.1 "}, f.labels(ir.ScopeHeadings, "d1"))
		assert.Equal(t, "第一章 ", f.decorations(ir.ScopeHeadings, "d1")[0].Label)
	})

	t.Run("override disables a kind", func(t *testing.T) {
		off := false
		cfg := f.engine.Config()
		cfg.Documents.Overrides = map[string]config.Toggle{"d1": {HeadingNumbering: &off}}
		f.engine.ApplyConfig(f.ctx, cfg)
		f.settle()

		_, ok := f.engine.State(ir.ScopeHeadings, "d1")
		assert.False(t, ok)
		assert.Empty(t, f.decorations(ir.ScopeHeadings, "d1"))
		assert.Equal(t, []string{"图 1"}, f.labels(ir.ScopeFigures, "d1"))
	})
}

func TestEngine_Subscribe(t *testing.T) {
	f := newFixture(t)

	var changed atomic.Int32
	unsubscribe, err := f.engine.Subscribe(ir.ScopeHeadings, func(n state.Notification) error {
		if n.Kind == state.NotificationChanged && !n.State.Loading {
			changed.Add(1)
		}
		return nil
	}, state.ForKey("d1"))
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, f.engine.OpenDocument(f.ctx, "d1"))
	f.send(headingResults)
	f.settle()

	assert.GreaterOrEqual(t, changed.Load(), int32(2))

	_, err = f.engine.Subscribe("bogus", func(state.Notification) error { return nil })
	assert.Error(t, err)
}

func TestEngine_Stats(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.OpenDocument(f.ctx, "d1"))
	require.NoError(t, f.engine.OpenDocument(f.ctx, "d2"))

	s := f.engine.Stats()
	assert.Equal(t, 2, s.OpenDocuments)
	assert.Equal(t, 2, s.Headings.LiveKeys)
	assert.Equal(t, 2, s.Figures.LiveKeys)
}

func TestEngine_ClosedRejectsWork(t *testing.T) {
	f := newFixture(t)
	f.engine.Close()

	assert.ErrorIs(t, f.engine.OpenDocument(f.ctx, "d1"), ErrClosed)
	assert.ErrorIs(t, f.engine.HandleMessage(f.ctx, []byte(`{"cmd":"ping"}`)), ErrClosed)
}
