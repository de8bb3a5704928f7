// Package resolver decides whether a transaction batch is relevant to a
// specific open document by testing block membership against that
// document's live index, never by trusting embedded root-id hints.
//
// The resolver fails closed: a document that is not open, or whose index
// could not be built, is never reported as affected.
package resolver

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/annosync/internal/ir"
)

// Source loads the block ids that currently belong to a document.
type Source interface {
	FetchBlockMembership(ctx context.Context, key ir.DocumentKey) ([]string, error)
}

// Resolver holds one live index per open document.
type Resolver struct {
	mu      sync.RWMutex
	source  Source
	indexes map[ir.DocumentKey]*Index
	logger  *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// New creates a resolver backed by source.
func New(source Source, opts ...Option) *Resolver {
	r := &Resolver{
		source:  source,
		indexes: make(map[ir.DocumentKey]*Index),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open builds the live index for key. On failure the document stays
// unavailable (every query answers false) and a FETCH_FAILED error is
// returned.
func (r *Resolver) Open(ctx context.Context, key ir.DocumentKey) error {
	ids, err := r.source.FetchBlockMembership(ctx, key)
	if err != nil {
		r.mu.Lock()
		delete(r.indexes, key)
		r.mu.Unlock()
		return ir.NewFetchError(key, "FetchBlockMembership", err)
	}

	r.mu.Lock()
	r.indexes[key] = NewIndex(ids)
	r.mu.Unlock()
	r.logger.Debug("membership index built", "key", key, "blocks", len(ids))
	return nil
}

// Close drops the index for key.
func (r *Resolver) Close(key ir.DocumentKey) {
	r.mu.Lock()
	delete(r.indexes, key)
	r.mu.Unlock()
}

// Reset replaces the members of an open document's index. Ignored for
// documents that are not open.
func (r *Resolver) Reset(key ir.DocumentKey, ids []string) {
	if ix := r.index(key); ix != nil {
		ix.Reset(ids)
	}
}

// Check returns a RESOLVER_UNAVAILABLE error if key has no live index.
func (r *Resolver) Check(key ir.DocumentKey) error {
	if r.index(key) == nil {
		return ir.NewResolverUnavailable(key)
	}
	return nil
}

// IsAffected reports whether at least one operation of batch belongs to
// the document open under key. Operations without a block id never count.
func (r *Resolver) IsAffected(batch ir.TransactionBatch, key ir.DocumentKey) bool {
	ix := r.index(key)
	if ix == nil {
		return false
	}
	for _, op := range batch.Operations {
		if ix.Touches(op) {
			return true
		}
	}
	return false
}

// IsAffectedMessage reports whether any batch of msg affects key.
func (r *Resolver) IsAffectedMessage(msg *ir.Message, key ir.DocumentKey) bool {
	if msg == nil {
		return false
	}
	for _, batch := range msg.Batches {
		if r.IsAffected(batch, key) {
			return true
		}
	}
	return false
}

// Observe applies a batch to every open index. Call it after the batch's
// relevance has been decided so that deletions still count as affecting.
func (r *Resolver) Observe(batch ir.TransactionBatch) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ix := range r.indexes {
		ix.Apply(batch)
	}
}

// Affected returns the open documents touched by msg, sorted.
func (r *Resolver) Affected(msg *ir.Message) []ir.DocumentKey {
	var out []ir.DocumentKey
	for _, key := range r.OpenKeys() {
		if r.IsAffectedMessage(msg, key) {
			out = append(out, key)
		}
	}
	return out
}

// OpenKeys lists documents with a live index, sorted.
func (r *Resolver) OpenKeys() []ir.DocumentKey {
	r.mu.RLock()
	keys := make([]ir.DocumentKey, 0, len(r.indexes))
	for k := range r.indexes {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (r *Resolver) index(key ir.DocumentKey) *Index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.indexes[key]
}
