package analyzer

import (
	"github.com/roach88/annosync/internal/ir"
)

// KnownBlocks reports how a block was classified the last time it was
// numbered. It lets content-less operations (delete, move, attribute
// changes) and edits that strip a marker still count as relevant.
type KnownBlocks interface {
	Kind(blockID string) (ir.EntryType, bool)
}

// Analyze classifies a single batch from its markup alone.
func Analyze(batch ir.TransactionBatch) ir.AnalysisVerdict {
	return AnalyzeKnown(batch, nil)
}

// AnalyzeKnown classifies a batch, consulting known for operations whose
// markup carries no feature marker. known may be nil.
//
// Every action kind is classified the same way: removing or relocating a
// heading or figure is exactly as relevant as creating one.
func AnalyzeKnown(batch ir.TransactionBatch, known KnownBlocks) ir.AnalysisVerdict {
	v := ir.NewVerdict()
	seen := make(map[string]bool, len(batch.Operations))

	for _, op := range batch.Operations {
		v.OperationKinds[op.Action] = struct{}{}
		if op.BlockID != "" && !seen[op.BlockID] {
			seen[op.BlockID] = true
			v.BlockIDs = append(v.BlockIDs, op.BlockID)
		}

		m := ScanMarkers(op.RawContent)
		for _, root := range m.RootIDs {
			v.AffectedRootIDs.Add(root)
		}

		if m.Heading {
			v.NeedsHeadingUpdate = true
			addID(v.ChangedHeadingIDs, op.BlockID)
		}
		if m.Image {
			v.NeedsFigureUpdate = true
			addID(v.ChangedImageIDs, op.BlockID)
		}
		if m.Table {
			v.NeedsFigureUpdate = true
			addID(v.ChangedTableIDs, op.BlockID)
		}

		if m.Heading || m.Image || m.Table || known == nil || op.BlockID == "" {
			continue
		}
		kind, ok := known.Kind(op.BlockID)
		if !ok {
			continue
		}
		switch kind {
		case ir.EntryHeading:
			v.NeedsHeadingUpdate = true
			v.ChangedHeadingIDs.Add(op.BlockID)
		case ir.EntryImage:
			v.NeedsFigureUpdate = true
			v.ChangedImageIDs.Add(op.BlockID)
		case ir.EntryTable:
			v.NeedsFigureUpdate = true
			v.ChangedTableIDs.Add(op.BlockID)
		}
	}
	return v
}

// AnalyzeMessage aggregates the verdicts of every batch in a message.
func AnalyzeMessage(msg *ir.Message, known KnownBlocks) ir.AnalysisVerdict {
	v := ir.NewVerdict()
	if msg == nil {
		return v
	}
	for _, batch := range msg.Batches {
		v.Merge(AnalyzeKnown(batch, known))
	}
	return v
}

func addID(s ir.Set, id string) {
	if id != "" {
		s.Add(id)
	}
}
