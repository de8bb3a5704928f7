// Package ir provides the shared data model for the annotation sync engine.
//
// This package contains type definitions, the error taxonomy and canonical
// hashing helpers. All other internal packages import ir; ir imports nothing
// internal. This keeps the data model the foundational layer with no
// circular dependencies.
//
// Key design constraints:
//   - Operation actions are a closed tagged union (ActionKind); unknown
//     actions are rejected at parse time rather than carried along
//   - Derived entries are plain values; stores hand out copies, never
//     references to their internal payloads
//   - All JSON tags use snake_case except the inbound wire format, which
//     mirrors the upstream transaction feed
package ir
