// Package analyzer turns raw inbound messages into transaction batches and
// classifies batches into analysis verdicts.
//
// Parsing fails closed: a message that is not valid JSON, or whose
// operations carry an unknown action, yields a parse error instead of a
// partially typed batch. Messages for other upstream commands are ignored.
//
// Classification is pure. Markup is inspected only for feature markers
// (heading, image, table, root hint) with an HTML tokenizer; the verdict is
// a projection of the batch and carries no state between calls.
package analyzer
