// Package numbering computes derived annotations from a document outline.
//
// NumberHeadings walks the outline and labels every heading with a
// hierarchical number. PairFigures finds figure/caption pairs laid out side
// by side and NumberFigures assigns them contiguous per-type numbers.
// Everything here is pure: the same outline and settings always produce the
// same payload.
package numbering
