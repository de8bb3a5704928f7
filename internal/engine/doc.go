// Package engine wires the annotation pipeline together.
//
// ARCHITECTURE:
//
// Inbound transaction messages are parsed, classified and matched against
// the open documents. A relevant batch becomes a semantic event on the
// dispatcher; dispatcher handlers trigger the debounced heading and figure
// updaters, which commit to their state stores and push decorations to
// the editor.
//
// Event Processing Flow:
//  1. HandleMessage parses a raw message (fail closed on malformed input)
//  2. Each batch is analyzed with the engine's map of known blocks
//  3. The resolver decides which open documents the batch touches
//  4. heading-changed / figure-changed events are published per document
//  5. The batch is observed so the membership indexes stay current
//
// Ordering: relevance is decided against the index as it was before the
// batch, so deleting the last heading of a document still triggers a
// recompute.
//
// Configuration changes (numbering formats, prefixes, delays, per-document
// toggles) apply on the next recompute.
package engine
