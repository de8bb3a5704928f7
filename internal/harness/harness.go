package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/annosync/internal/blockstore"
	"github.com/roach88/annosync/internal/config"
	"github.com/roach88/annosync/internal/engine"
	"github.com/roach88/annosync/internal/ir"
	"github.com/roach88/annosync/internal/testutil"
)

// epoch is the manual clock's starting time.
var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// settleTimeout bounds the real time a step may take to settle.
const settleTimeout = 5 * time.Second

var scopes = []ir.Scope{ir.ScopeHeadings, ir.ScopeFigures}

// Harness is the scenario execution environment.
type Harness struct {
	blocks *blockstore.Store
	engine *engine.Engine
	clock  *testutil.ManualClock
	logger *slog.Logger

	docs []ir.DocumentKey
	last map[ir.DocumentKey]map[ir.Scope][]ir.Decoration
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// An error is returned only when the environment cannot be set up;
// scenario failures are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	cfg := config.Default()
	if scenario.Config != nil {
		if err := scenario.Config.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode scenario config: %w", err)
		}
		if err := config.Validate(cfg); err != nil {
			return nil, fmt.Errorf("scenario config: %w", err)
		}
	}
	cfg.Dispatcher.Delay = 0

	clock := testutil.NewManualClock(epoch)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	blocks, err := blockstore.Open(":memory:", blockstore.WithClock(clock), blockstore.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer blocks.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := &Harness{
		blocks: blocks,
		clock:  clock,
		logger: logger,
		last:   make(map[ir.DocumentKey]map[ir.Scope][]ir.Decoration),
	}
	for _, d := range scenario.Documents {
		if err := blocks.PutOutline(ctx, outline(d)); err != nil {
			return nil, fmt.Errorf("seed document %s: %w", d.ID, err)
		}
		key := ir.DocumentKey(d.ID)
		h.docs = append(h.docs, key)
		h.last[key] = make(map[ir.Scope][]ir.Decoration)
	}

	h.engine = engine.New(blocks, blocks,
		engine.WithConfig(cfg),
		engine.WithClock(clock),
		engine.WithLogger(logger),
		engine.WithIDGenerator(testutil.NewSequenceIDGenerator("session")),
	)
	h.engine.Start(ctx)
	defer h.engine.Close()

	result := NewResult()
	for i, step := range scenario.Steps {
		err := h.execute(ctx, step)
		switch {
		case step.ExpectError && err == nil:
			result.AddError(fmt.Sprintf("steps[%d]: expected an error", i))
		case !step.ExpectError && err != nil:
			result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
		}
		if err := h.settle(ctx); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		if err := h.record(ctx, i, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for _, key := range h.docs {
		for _, scope := range scopes {
			st, ok := h.engine.State(scope, key)
			if !ok {
				continue
			}
			if result.Labels[key] == nil {
				result.Labels[key] = make(map[ir.Scope][]string)
			}
			result.Labels[key][scope] = labels(st.Payload)
		}
	}

	for i, a := range scenario.Assertions {
		if err := h.check(ctx, a, result); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}

	return result, nil
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	switch {
	case step.Open != "":
		return h.engine.OpenDocument(ctx, ir.DocumentKey(step.Open))
	case step.Close != "":
		return h.engine.CloseDocument(ir.DocumentKey(step.Close))
	case step.Refresh != "":
		return h.engine.Refresh(ctx, ir.DocumentKey(step.Refresh))
	case step.Message != "":
		return h.engine.HandleAndApply(ctx, []byte(step.Message), h.blocks)
	case len(step.Ops) > 0:
		raw, err := transactionMessage(step.Ops)
		if err != nil {
			return err
		}
		return h.engine.HandleAndApply(ctx, raw, h.blocks)
	case step.Config != nil:
		cfg := h.engine.Config()
		if err := step.Config.Decode(&cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		if err := config.Validate(cfg); err != nil {
			return err
		}
		cfg.Dispatcher.Delay = 0
		h.engine.ApplyConfig(ctx, cfg)
		return nil
	}
	return fmt.Errorf("step has no action")
}

// settle waits for event delivery, fires every due recompute and waits
// for the engine to go idle.
func (h *Harness) settle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	for !h.engine.Drained() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("events not delivered: %w", ctx.Err())
		case <-time.After(time.Millisecond):
		}
	}
	cfg := h.engine.Config()
	h.clock.Advance(max(cfg.Scheduler.HeadingDelay.Std(), cfg.Scheduler.FigureDelay.Std()))
	return h.engine.Settle(ctx)
}

// record appends a trace event for every decoration set that changed.
func (h *Harness) record(ctx context.Context, step int, result *Result) error {
	for _, key := range h.docs {
		for _, scope := range scopes {
			decos, err := h.blocks.Decorations(ctx, key, scope)
			if err != nil {
				return err
			}
			if slices.Equal(decos, h.last[key][scope]) {
				continue
			}
			h.last[key][scope] = decos
			if decos == nil {
				decos = []ir.Decoration{}
			}
			result.AddTrace(step, key, scope, decos)
		}
	}
	return nil
}

// transactionMessage wraps operations into a one-transaction wire message.
func transactionMessage(ops []map[string]any) ([]byte, error) {
	raw, err := json.Marshal(map[string]any{
		"cmd":  "transactions",
		"data": []any{map[string]any{"doOperations": ops}},
	})
	if err != nil {
		return nil, fmt.Errorf("encode operations: %w", err)
	}
	return raw, nil
}

func outline(d Document) *ir.OutlineNode {
	root := &ir.OutlineNode{ID: d.ID, Type: ir.BlockDocument}
	root.Children = blockNodes(d.Blocks)
	return root
}

func blockNodes(blocks []Block) []*ir.OutlineNode {
	nodes := make([]*ir.OutlineNode, 0, len(blocks))
	for _, b := range blocks {
		typ := b.Type
		if typ == "" {
			typ = ir.BlockParagraph
		}
		nodes = append(nodes, &ir.OutlineNode{
			ID:       b.ID,
			Type:     typ,
			Subtype:  b.Subtype,
			Layout:   b.Layout,
			Content:  b.Content,
			Children: blockNodes(b.Children),
		})
	}
	return nodes
}

func labels(payload []ir.Entry) []string {
	out := make([]string, 0, len(payload))
	for _, e := range payload {
		out = append(out, e.Label)
	}
	return out
}
