package blockstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/annosync/internal/ir"
)

// ApplyDecorations replaces every decoration of scope on the document.
// Re-applying an identical set is a no-op.
func (s *Store) ApplyDecorations(ctx context.Context, key ir.DocumentKey, scope ir.Scope, decorations []ir.Decoration) error {
	hash, err := ir.DecorationHash(decorations)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin decorations: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT hash FROM decoration_sets WHERE root_id = ? AND scope = ?`, string(key), string(scope),
	).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read decoration set: %w", err)
	case current == hash:
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM decorations WHERE root_id = ? AND scope = ?`, string(key), string(scope),
	); err != nil {
		return fmt.Errorf("clear decorations: %w", err)
	}
	for i, d := range decorations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO decorations (root_id, scope, block_id, position, kind, label)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(root_id, scope, block_id) DO UPDATE SET
				position = excluded.position,
				kind = excluded.kind,
				label = excluded.label
		`, string(key), string(scope), d.BlockID, i, string(d.Kind), d.Label); err != nil {
			return fmt.Errorf("write decoration %s: %w", d.BlockID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO decoration_sets (root_id, scope, hash, applied_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(root_id, scope) DO UPDATE SET
			hash = excluded.hash,
			applied_at = excluded.applied_at
	`, string(key), string(scope), hash, s.clock.Now().UnixMilli()); err != nil {
		return fmt.Errorf("write decoration set: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit decorations: %w", err)
	}
	s.logger.Debug("decorations applied", "doc", key, "scope", scope, "count", len(decorations), "hash", hash)
	return nil
}

// Decorations returns the decorations of scope on the document in the
// order they were applied.
func (s *Store) Decorations(ctx context.Context, key ir.DocumentKey, scope ir.Scope) ([]ir.Decoration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT block_id, kind, label FROM decorations
		WHERE root_id = ? AND scope = ?
		ORDER BY position ASC
	`, string(key), string(scope))
	if err != nil {
		return nil, fmt.Errorf("query decorations: %w", err)
	}
	defer rows.Close()

	var out []ir.Decoration
	for rows.Next() {
		var d ir.Decoration
		var kind string
		if err := rows.Scan(&d.BlockID, &kind, &d.Label); err != nil {
			return nil, fmt.Errorf("scan decoration: %w", err)
		}
		d.Kind = ir.EntryType(kind)
		out = append(out, d)
	}
	return out, rows.Err()
}
