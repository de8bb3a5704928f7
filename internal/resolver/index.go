package resolver

import (
	"sync"

	"github.com/roach88/annosync/internal/analyzer"
	"github.com/roach88/annosync/internal/ir"
)

// Index is the live block-membership set of one document.
//
// Membership queries are O(1). The set is maintained incrementally from
// observed batches and replaced wholesale whenever a fresh structural tree
// is known (Reset).
type Index struct {
	mu      sync.RWMutex
	members map[string]struct{}
}

// NewIndex builds an index from a list of block ids.
func NewIndex(ids []string) *Index {
	ix := &Index{}
	ix.Reset(ids)
	return ix
}

// Has reports whether id currently belongs to the document.
func (ix *Index) Has(id string) bool {
	if id == "" {
		return false
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.members[id]
	return ok
}

// Len returns the number of members.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.members)
}

// Reset replaces the member set.
func (ix *Index) Reset(ids []string) {
	members := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			members[id] = struct{}{}
		}
	}
	ix.mu.Lock()
	ix.members = members
	ix.mu.Unlock()
}

// Touches reports whether op concerns this document: its block is a
// member, or it is an insert/move anchored next to or under a member.
func (ix *Index) Touches(op ir.MutationOperation) bool {
	if op.BlockID == "" {
		return false
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.hasLocked(op.BlockID) {
		return true
	}
	switch op.Action {
	case ir.ActionInsert, ir.ActionMove:
		return ix.anchoredLocked(op)
	}
	return false
}

// Apply folds a batch into the member set. A block that joins the
// document brings along every block nested in its markup, and so does an
// update of a member.
//
// Descendants of a deleted block are not known here; they linger until the
// next Reset, which can only cause an extra recompute, never a missed one.
func (ix *Index) Apply(batch ir.TransactionBatch) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, op := range batch.Operations {
		if op.BlockID == "" {
			continue
		}
		switch op.Action {
		case ir.ActionInsert:
			if ix.anchoredLocked(op) {
				ix.addLocked(op)
			}
		case ir.ActionMove:
			if ix.anchoredLocked(op) {
				ix.addLocked(op)
			} else {
				delete(ix.members, op.BlockID)
			}
		case ir.ActionUpdate:
			if ix.hasLocked(op.BlockID) {
				ix.addLocked(op)
			}
		case ir.ActionDelete:
			delete(ix.members, op.BlockID)
		}
	}
}

// addLocked adds op's block and the blocks nested in its markup.
func (ix *Index) addLocked(op ir.MutationOperation) {
	ix.members[op.BlockID] = struct{}{}
	if op.RawContent == "" {
		return
	}
	for _, id := range analyzer.ScanMarkers(op.RawContent).NodeIDs {
		ix.members[id] = struct{}{}
	}
}

func (ix *Index) hasLocked(id string) bool {
	if id == "" {
		return false
	}
	_, ok := ix.members[id]
	return ok
}

func (ix *Index) anchoredLocked(op ir.MutationOperation) bool {
	return ix.hasLocked(op.ParentID) || ix.hasLocked(op.PreviousID) || ix.hasLocked(op.NextID)
}
