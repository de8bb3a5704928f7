// Package scheduler runs debounced recomputation of derived state.
//
// A Debouncer collapses bursts of triggers for one document into a single
// run after a quiet window. An Updater is the worker behind it: it fetches
// the outline, computes a payload, commits it to a state.Store and asks the
// editor to redraw decorations when the committed payload changed.
package scheduler
