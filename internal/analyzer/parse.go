package analyzer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/annosync/internal/ir"
)

// CmdTransactions is the upstream command carrying transaction batches.
const CmdTransactions = "transactions"

type wireMessage struct {
	Cmd  string          `json:"cmd"`
	Data json.RawMessage `json:"data"`
}

type wireTransaction struct {
	DoOperations []wireOperation `json:"doOperations"`
}

type wireOperation struct {
	Action     string          `json:"action"`
	ID         string          `json:"id"`
	ParentID   string          `json:"parentID"`
	PreviousID string          `json:"previousID"`
	NextID     string          `json:"nextID"`
	Data       json.RawMessage `json:"data"`
}

// ParseMessage decodes one inbound wire message.
//
// Returns (nil, nil) for well-formed messages of another command, which
// callers ignore silently. Anything that cannot be interpreted as a list of
// transactions returns an *ir.Error with code PARSE_ERROR.
func ParseMessage(raw []byte) (*ir.Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, ir.NewParseError("empty message", nil)
	}

	var wm wireMessage
	if err := json.Unmarshal(raw, &wm); err != nil {
		return nil, ir.NewParseError("message is not a JSON object", err)
	}
	if wm.Cmd != CmdTransactions {
		return nil, nil
	}
	if isNull(wm.Data) {
		return nil, ir.NewParseError("transactions message has no data", nil)
	}

	var txs []wireTransaction
	if err := json.Unmarshal(wm.Data, &txs); err != nil {
		return nil, ir.NewParseError("transactions data is not a list", err)
	}

	msg := &ir.Message{Batches: make([]ir.TransactionBatch, 0, len(txs))}
	for i, tx := range txs {
		batch := ir.TransactionBatch{Operations: make([]ir.MutationOperation, 0, len(tx.DoOperations))}
		for j, wop := range tx.DoOperations {
			op, err := convertOperation(wop)
			if err != nil {
				return nil, ir.NewParseError(fmt.Sprintf("transaction %d operation %d", i, j), err)
			}
			batch.Operations = append(batch.Operations, op)
		}
		msg.Batches = append(msg.Batches, batch)
	}
	return msg, nil
}

func convertOperation(wop wireOperation) (ir.MutationOperation, error) {
	kind, ok := ir.ParseActionKind(wop.Action)
	if !ok {
		return ir.MutationOperation{}, fmt.Errorf("unknown action %q", wop.Action)
	}

	op := ir.MutationOperation{
		Action:     kind,
		BlockID:    wop.ID,
		ParentID:   wop.ParentID,
		PreviousID: wop.PreviousID,
		NextID:     wop.NextID,
	}

	if isNull(wop.Data) {
		return op, nil
	}

	data := bytes.TrimSpace(wop.Data)
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ir.MutationOperation{}, fmt.Errorf("data: %w", err)
		}
		op.RawContent = s
	case '{':
		attrs, err := decodeAttrs(data)
		if err != nil {
			return ir.MutationOperation{}, fmt.Errorf("data: %w", err)
		}
		op.Attrs = attrs
	default:
		return ir.MutationOperation{}, fmt.Errorf("data must be markup or an attribute object")
	}
	return op, nil
}

// decodeAttrs flattens an attribute object into strings. Nested values keep
// their JSON text.
func decodeAttrs(data json.RawMessage) (map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	attrs := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			attrs[k] = s
			continue
		}
		attrs[k] = string(v)
	}
	return attrs, nil
}

func isNull(data json.RawMessage) bool {
	d := bytes.TrimSpace(data)
	return len(d) == 0 || bytes.Equal(d, []byte("null"))
}
