// Package blockstore is a SQLite-backed document block store.
//
// It plays two collaborator roles for the engine: the storage side
// (outlines and block membership, kept current by applying transaction
// batches) and the editor side (the decorations last applied to each
// document).
//
// Schema overview:
//   - blocks: one row per block with its parent, sibling order and the
//     document root it belongs to
//   - decorations: the rendered labels per (document, scope, block)
//   - decoration_sets: content hash of each (document, scope) set, so
//     reapplying identical decorations is a no-op
package blockstore
