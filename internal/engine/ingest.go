package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/annosync/internal/analyzer"
	"github.com/roach88/annosync/internal/ir"
)

// MessageStream yields raw inbound messages. Next returns io.EOF when the
// stream is exhausted.
type MessageStream interface {
	Next(ctx context.Context) ([]byte, error)
}

// Applier persists a batch to the block store before the engine reacts to
// it, so recomputes fetch an outline that already contains the change.
type Applier interface {
	ApplyBatch(ctx context.Context, batch ir.TransactionBatch) error
}

// HandleMessage processes one raw message. Malformed messages are logged,
// counted and returned as PARSE_ERROR; they never reach the resolver.
func (e *Engine) HandleMessage(ctx context.Context, raw []byte) error {
	return e.handle(ctx, raw, nil)
}

// HandleAndApply is HandleMessage with each batch persisted through
// applier first. A batch the applier rejects is logged and still
// analysed.
func (e *Engine) HandleAndApply(ctx context.Context, raw []byte, applier Applier) error {
	return e.handle(ctx, raw, applier)
}

func (e *Engine) handle(ctx context.Context, raw []byte, applier Applier) error {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	msg, err := analyzer.ParseMessage(raw)
	if err != nil {
		e.metrics.ParseError()
		e.logger.Warn("dropping malformed message", "error", err, "bytes", len(raw))
		return err
	}
	if msg == nil {
		return nil
	}

	e.ingest.Lock()
	defer e.ingest.Unlock()

	for i, batch := range msg.Batches {
		if applier != nil {
			if err := applier.ApplyBatch(ctx, batch); err != nil {
				// The editor already holds the change; recomputes will
				// read whatever the store has.
				e.logger.Warn("applying batch failed",
					"batch", i,
					"operations", len(batch.Operations),
					"error", err)
			}
		}
		e.processBatch(batch)
	}
	return nil
}

func (e *Engine) processBatch(batch ir.TransactionBatch) {
	verdict := analyzer.AnalyzeKnown(batch, e.known)
	if verdict.Relevant() {
		for _, key := range e.resolver.OpenKeys() {
			if !e.resolver.IsAffected(batch, key) {
				continue
			}
			if verdict.NeedsHeadingUpdate {
				e.dispatcher.Publish(EventHeadingChanged, key, SourceTransaction)
			}
			if verdict.NeedsFigureUpdate {
				e.dispatcher.Publish(EventFigureChanged, key, SourceTransaction)
			}
		}
	}
	e.resolver.Observe(batch)

	e.logger.Debug("batch processed",
		"operations", len(batch.Operations),
		"headings", verdict.NeedsHeadingUpdate,
		"figures", verdict.NeedsFigureUpdate)
}

// Consume reads messages until the stream ends or ctx is done. Malformed
// messages are skipped; a stream error stops consumption.
func (e *Engine) Consume(ctx context.Context, stream MessageStream, applier Applier) error {
	for {
		raw, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		if err := e.handle(ctx, raw, applier); err != nil {
			if ir.IsParseError(err) {
				continue
			}
			return err
		}
	}
}

// LineStream reads newline-delimited messages. Blank lines are skipped.
type LineStream struct {
	scanner *bufio.Scanner
}

// maxMessageSize bounds a single message line.
const maxMessageSize = 8 << 20

// NewLineStream wraps r.
func NewLineStream(r io.Reader) *LineStream {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	return &LineStream{scanner: s}
}

// Next returns the next non-blank line.
func (s *LineStream) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return bytes.Clone(line), nil
	}
}
