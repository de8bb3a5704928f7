package ir

import (
	"fmt"
	"slices"
	"strings"
)

// DocumentKey identifies an open document (its root block id).
type DocumentKey string

// ActionKind is the kind of a single mutation operation.
type ActionKind string

const (
	ActionInsert   ActionKind = "insert"
	ActionUpdate   ActionKind = "update"
	ActionDelete   ActionKind = "delete"
	ActionMove     ActionKind = "move"
	ActionSetAttrs ActionKind = "setAttrs"
)

// ParseActionKind maps a wire action string onto an ActionKind.
// Returns false for anything outside the closed set.
func ParseActionKind(s string) (ActionKind, bool) {
	switch ActionKind(s) {
	case ActionInsert, ActionUpdate, ActionDelete, ActionMove, ActionSetAttrs:
		return ActionKind(s), true
	}
	return "", false
}

// MutationOperation is one atomic edit of a content block.
//
// RawContent is opaque markup; it is only ever inspected for feature
// markers (heading, table, image, root hint).
type MutationOperation struct {
	Action     ActionKind        `json:"action"`
	BlockID    string            `json:"block_id"`
	ParentID   string            `json:"parent_id,omitempty"`
	PreviousID string            `json:"previous_id,omitempty"`
	NextID     string            `json:"next_id,omitempty"`
	RawContent string            `json:"raw_content,omitempty"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// TransactionBatch is the ordered operations of one upstream transaction.
type TransactionBatch struct {
	Operations []MutationOperation `json:"operations"`
}

// BlockIDs returns the non-empty block ids touched by the batch, in order.
func (b TransactionBatch) BlockIDs() []string {
	ids := make([]string, 0, len(b.Operations))
	for _, op := range b.Operations {
		if op.BlockID != "" {
			ids = append(ids, op.BlockID)
		}
	}
	return ids
}

// Message is one inbound wire message, possibly carrying several batches.
type Message struct {
	Batches []TransactionBatch `json:"batches"`
}

// Set is a small string set with deterministic listing.
type Set map[string]struct{}

// Add inserts v into the set.
func (s Set) Add(v string) {
	s[v] = struct{}{}
}

// Has reports whether v is a member.
func (s Set) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Union adds every member of other.
func (s Set) Union(other Set) {
	for v := range other {
		s[v] = struct{}{}
	}
}

// Sorted returns the members in ascending order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// AnalysisVerdict is the stateless classification of one or more batches.
// It has no identity and is recomputed for every message.
type AnalysisVerdict struct {
	NeedsHeadingUpdate bool
	NeedsFigureUpdate  bool
	AffectedRootIDs    Set
	ChangedHeadingIDs  Set
	ChangedImageIDs    Set
	ChangedTableIDs    Set
	OperationKinds     map[ActionKind]struct{}

	// BlockIDs lists every block id seen across the analysed operations,
	// in arrival order, duplicates removed.
	BlockIDs []string
}

// NewVerdict returns an empty verdict with all sets allocated.
func NewVerdict() AnalysisVerdict {
	return AnalysisVerdict{
		AffectedRootIDs:   Set{},
		ChangedHeadingIDs: Set{},
		ChangedImageIDs:   Set{},
		ChangedTableIDs:   Set{},
		OperationKinds:    map[ActionKind]struct{}{},
	}
}

// Merge folds other into v: sets are unioned, booleans OR'd.
func (v *AnalysisVerdict) Merge(other AnalysisVerdict) {
	v.NeedsHeadingUpdate = v.NeedsHeadingUpdate || other.NeedsHeadingUpdate
	v.NeedsFigureUpdate = v.NeedsFigureUpdate || other.NeedsFigureUpdate
	v.AffectedRootIDs.Union(other.AffectedRootIDs)
	v.ChangedHeadingIDs.Union(other.ChangedHeadingIDs)
	v.ChangedImageIDs.Union(other.ChangedImageIDs)
	v.ChangedTableIDs.Union(other.ChangedTableIDs)
	for k := range other.OperationKinds {
		v.OperationKinds[k] = struct{}{}
	}
	for _, id := range other.BlockIDs {
		if !slices.Contains(v.BlockIDs, id) {
			v.BlockIDs = append(v.BlockIDs, id)
		}
	}
}

// Relevant reports whether the verdict asks for any recompute.
func (v AnalysisVerdict) Relevant() bool {
	return v.NeedsHeadingUpdate || v.NeedsFigureUpdate
}

// EntryType is the kind of a derived entry.
type EntryType string

const (
	EntryImage   EntryType = "image"
	EntryTable   EntryType = "table"
	EntryHeading EntryType = "heading"
)

// Entry is one derived annotation: a numbered figure/table or a numbered heading.
type Entry struct {
	ID        string    `json:"id"`
	Type      EntryType `json:"type"`
	Content   string    `json:"content,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	CaptionID string    `json:"caption_id,omitempty"`
	Number    int       `json:"number"`
	Label     string    `json:"label,omitempty"`
	Level     int       `json:"level,omitempty"`
	Depth     int       `json:"depth,omitempty"`
	DomOrder  int       `json:"dom_order,omitempty"`
}

// SameData reports whether two entries carry the same observable data:
// id, type, content, caption and number. Label is compared as well since
// a format change alters decorations without touching the number.
func (e Entry) SameData(other Entry) bool {
	return e.ID == other.ID &&
		e.Type == other.Type &&
		e.Content == other.Content &&
		e.Caption == other.Caption &&
		e.Number == other.Number &&
		e.Label == other.Label
}

// SamePayload compares two payloads element-wise, in order.
func SamePayload(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].SameData(b[i]) {
			return false
		}
	}
	return true
}

// ClonePayload returns an independent copy of a payload.
func ClonePayload(p []Entry) []Entry {
	if p == nil {
		return nil
	}
	return slices.Clone(p)
}

// Block types used by the outline.
const (
	BlockDocument  = "d"
	BlockHeading   = "h"
	BlockParagraph = "p"
	BlockTable     = "t"
	BlockSuper     = "s"
)

// LayoutRow marks a super block whose children are laid out side by side.
const LayoutRow = "row"

// OutlineNode is one node of a document's structural tree.
type OutlineNode struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Subtype  string         `json:"subtype,omitempty"`
	Layout   string         `json:"layout,omitempty"`
	Content  string         `json:"content,omitempty"`
	Depth    int            `json:"depth"`
	Children []*OutlineNode `json:"children,omitempty"`
}

// HeadingLevel returns the nominal heading level (1..6) of a heading node,
// or 0 for anything else.
func (n *OutlineNode) HeadingLevel() int {
	if n == nil || n.Type != BlockHeading {
		return 0
	}
	var level int
	if _, err := fmt.Sscanf(strings.ToLower(n.Subtype), "h%d", &level); err != nil {
		return 0
	}
	if level < 1 || level > 6 {
		return 0
	}
	return level
}

// Walk visits the tree depth-first in document order.
// Returning false from fn skips the node's children.
func (n *OutlineNode) Walk(fn func(*OutlineNode) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Decoration is a visual annotation the editor should render on a block.
type Decoration struct {
	BlockID string    `json:"block_id"`
	Kind    EntryType `json:"kind"`
	Label   string    `json:"label"`
}

// DecorationsFor projects a payload into decorations.
func DecorationsFor(payload []Entry) []Decoration {
	out := make([]Decoration, 0, len(payload))
	for _, e := range payload {
		out = append(out, Decoration{BlockID: e.ID, Kind: e.Type, Label: e.Label})
	}
	return out
}

// Scope names the updater that owns a set of derived entries and their
// decorations.
type Scope string

const (
	ScopeHeadings Scope = "headings"
	ScopeFigures  Scope = "figures"
)
