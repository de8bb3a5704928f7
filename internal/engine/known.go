package engine

import (
	"sync"

	"github.com/roach88/annosync/internal/ir"
	"github.com/roach88/annosync/internal/numbering"
)

// knownBlocks remembers how blocks were classified in the last outline of
// each open document: headings, figures, the captions paired with them and
// the rows holding each pair.
type knownBlocks struct {
	mu   sync.RWMutex
	docs map[ir.DocumentKey]map[string]ir.EntryType
}

func newKnownBlocks() *knownBlocks {
	return &knownBlocks{docs: make(map[ir.DocumentKey]map[string]ir.EntryType)}
}

// Kind implements analyzer.KnownBlocks.
func (k *knownBlocks) Kind(id string) (ir.EntryType, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, blocks := range k.docs {
		if t, ok := blocks[id]; ok {
			return t, true
		}
	}
	return "", false
}

func (k *knownBlocks) reset(key ir.DocumentKey, outline *ir.OutlineNode) {
	blocks := make(map[string]ir.EntryType)
	outline.Walk(func(n *ir.OutlineNode) bool {
		switch {
		case n.HeadingLevel() > 0:
			blocks[n.ID] = ir.EntryHeading
		case n.Type == ir.BlockTable:
			blocks[n.ID] = ir.EntryTable
		}
		return true
	})
	for _, f := range numbering.PairFigures(outline) {
		blocks[f.ID] = f.Type
		blocks[f.CaptionID] = f.Type
		if f.ContainerID != "" {
			blocks[f.ContainerID] = f.Type
		}
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.docs[key] = blocks
}

func (k *knownBlocks) drop(key ir.DocumentKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.docs, key)
}

// blockIDs lists every block of an outline.
func blockIDs(outline *ir.OutlineNode) []string {
	var ids []string
	outline.Walk(func(n *ir.OutlineNode) bool {
		if n.ID != "" {
			ids = append(ids, n.ID)
		}
		return true
	})
	return ids
}
