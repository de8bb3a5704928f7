package blockstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/annosync/internal/ir"
)

// FetchOutline returns the document's block tree in sibling order.
// Returns ErrDocumentNotFound when the root does not exist.
func (s *Store) FetchOutline(ctx context.Context, key ir.DocumentKey) (*ir.OutlineNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, type, subtype, layout, content
		FROM blocks
		WHERE root_id = ?
		ORDER BY sort ASC, id COLLATE BINARY ASC
	`, string(key))
	if err != nil {
		return nil, fmt.Errorf("query outline: %w", err)
	}
	defer rows.Close()

	nodes := make(map[string]*ir.OutlineNode)
	parents := make(map[string]string)
	var order []string
	for rows.Next() {
		var n ir.OutlineNode
		var parent sql.NullString
		if err := rows.Scan(&n.ID, &parent, &n.Type, &n.Subtype, &n.Layout, &n.Content); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		nodes[n.ID] = &n
		parents[n.ID] = parent.String
		order = append(order, n.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outline: %w", err)
	}

	root, ok := nodes[string(key)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, key)
	}

	for _, id := range order {
		if id == root.ID {
			continue
		}
		parent, ok := nodes[parents[id]]
		if !ok {
			s.logger.Warn("orphaned block skipped", "doc", key, "block", id, "parent", parents[id])
			continue
		}
		parent.Children = append(parent.Children, nodes[id])
	}

	setDepth(root, 0)
	return root, nil
}

func setDepth(n *ir.OutlineNode, depth int) {
	n.Depth = depth
	for _, c := range n.Children {
		setDepth(c, depth+1)
	}
}

// FetchBlockMembership returns the ids of every block in the document,
// the root included.
func (s *Store) FetchBlockMembership(ctx context.Context, key ir.DocumentKey) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM blocks WHERE root_id = ? ORDER BY id`, string(key))
	if err != nil {
		return nil, fmt.Errorf("query membership: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate membership: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, key)
	}
	return ids, nil
}

// ListDocuments returns the ids of every document root.
func (s *Store) ListDocuments(ctx context.Context) ([]ir.DocumentKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM blocks WHERE parent_id IS NULL AND type = ? ORDER BY id`, ir.BlockDocument)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var keys []ir.DocumentKey
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		keys = append(keys, ir.DocumentKey(id))
	}
	return keys, rows.Err()
}

// PutOutline replaces a whole document with the given tree. The root
// node's id is the document key.
func (s *Store) PutOutline(ctx context.Context, root *ir.OutlineNode) error {
	if root == nil || root.ID == "" {
		return fmt.Errorf("put outline: root id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put outline: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE root_id = ?`, root.ID); err != nil {
		return fmt.Errorf("clear document: %w", err)
	}

	var put func(n *ir.OutlineNode, parent sql.NullString, sort int) error
	put = func(n *ir.OutlineNode, parent sql.NullString, sort int) error {
		row := blockRow{id: n.ID, typ: n.Type, subtype: n.Subtype, layout: n.Layout, content: n.Content}
		if row.typ == "" {
			row.typ = ir.BlockParagraph
		}
		pos := position{rootID: root.ID, parentID: parent, sort: sort}
		if err := upsertRow(ctx, tx, row, pos); err != nil {
			return err
		}
		for i, c := range n.Children {
			if err := put(c, sql.NullString{String: n.ID, Valid: true}, i); err != nil {
				return err
			}
		}
		return nil
	}
	if err := put(root, sql.NullString{}, 0); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put outline: %w", err)
	}
	return nil
}

// CreateDocument adds an empty document root.
func (s *Store) CreateDocument(ctx context.Context, key ir.DocumentKey) error {
	return s.PutOutline(ctx, &ir.OutlineNode{ID: string(key), Type: ir.BlockDocument})
}
