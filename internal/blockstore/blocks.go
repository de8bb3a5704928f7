package blockstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/annosync/internal/ir"
)

var (
	errNoAnchor     = errors.New("no known parent or sibling to position the block")
	errUnknownBlock = errors.New("unknown block")
)

// block is a stored block's position.
type block struct {
	id       string
	rootID   string
	parentID sql.NullString
	typ      string
	sort     int
}

// position is where a block goes in the tree.
type position struct {
	rootID   string
	parentID sql.NullString
	sort     int
}

// ApplyBatch applies every operation of batch in one transaction.
//
// Inserts are positioned after previousID, before nextID or at the end of
// parentID, in that order of preference. Deletes remove the whole
// subtree. Moves carry the subtree along, across documents if needed.
func (s *Store) ApplyBatch(ctx context.Context, batch ir.TransactionBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	for i, op := range batch.Operations {
		if err := applyOperation(ctx, tx, op); err != nil {
			return fmt.Errorf("operation %d (%s %s): %w", i, op.Action, op.BlockID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	s.logger.Debug("batch applied", "operations", len(batch.Operations))
	return nil
}

func applyOperation(ctx context.Context, tx *sql.Tx, op ir.MutationOperation) error {
	if op.BlockID == "" {
		return nil
	}
	switch op.Action {
	case ir.ActionInsert:
		return insertBlock(ctx, tx, op)
	case ir.ActionUpdate:
		return updateBlock(ctx, tx, op)
	case ir.ActionDelete:
		return deleteSubtree(ctx, tx, op.BlockID)
	case ir.ActionMove:
		return moveBlock(ctx, tx, op)
	case ir.ActionSetAttrs:
		return setAttrs(ctx, tx, op)
	default:
		return fmt.Errorf("unsupported action %q", op.Action)
	}
}

func insertBlock(ctx context.Context, tx *sql.Tx, op ir.MutationOperation) error {
	if _, ok, err := getBlock(ctx, tx, op.BlockID); err != nil {
		return err
	} else if ok {
		return updateBlock(ctx, tx, op)
	}

	rows, _ := decodeBlocks(op.BlockID, op.RawContent)
	top := rows[0]
	applyAttrs(&top, op.Attrs)

	var pos position
	if top.typ == ir.BlockDocument && op.ParentID == "" && op.PreviousID == "" && op.NextID == "" {
		pos = position{rootID: top.id}
	} else {
		var err error
		if pos, err = locate(ctx, tx, op); err != nil {
			return err
		}
	}

	if err := upsertRow(ctx, tx, top, pos); err != nil {
		return err
	}
	return insertNested(ctx, tx, pos.rootID, rows[1:])
}

func updateBlock(ctx context.Context, tx *sql.Tx, op ir.MutationOperation) error {
	cur, ok, err := getBlock(ctx, tx, op.BlockID)
	if err != nil {
		return err
	}
	if !ok {
		if op.ParentID != "" || op.PreviousID != "" || op.NextID != "" {
			op.Action = ir.ActionInsert
			return insertBlock(ctx, tx, op)
		}
		return errUnknownBlock
	}

	rows, structured := decodeBlocks(op.BlockID, op.RawContent)
	top := rows[0]
	if !structured && (top.typ == ir.BlockParagraph || top.typ == cur.typ) {
		// Plain content keeps the block's kind unless it now carries a
		// different heading or table marker.
		top.typ = cur.typ
		if err := tx.QueryRowContext(ctx,
			`SELECT subtype, layout FROM blocks WHERE id = ?`, cur.id,
		).Scan(&top.subtype, &top.layout); err != nil {
			return fmt.Errorf("read block: %w", err)
		}
	}
	top.id = cur.id
	applyAttrs(&top, op.Attrs)

	if _, err := tx.ExecContext(ctx, `
		UPDATE blocks SET type = ?, subtype = ?, layout = ?, content = ?
		WHERE id = ?
	`, top.typ, top.subtype, top.layout, top.content, cur.id); err != nil {
		return fmt.Errorf("update block: %w", err)
	}

	if !structured {
		return nil
	}
	if err := deleteDescendants(ctx, tx, cur.id); err != nil {
		return err
	}
	return insertNested(ctx, tx, cur.rootID, rows[1:])
}

func moveBlock(ctx context.Context, tx *sql.Tx, op ir.MutationOperation) error {
	cur, ok, err := getBlock(ctx, tx, op.BlockID)
	if err != nil {
		return err
	}
	if !ok {
		return errUnknownBlock
	}
	pos, err := locate(ctx, tx, op)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE blocks SET parent_id = ?, sort = ?, root_id = ? WHERE id = ?`,
		pos.parentID, pos.sort, pos.rootID, cur.id,
	); err != nil {
		return fmt.Errorf("move block: %w", err)
	}
	if pos.rootID != cur.rootID {
		if _, err := tx.ExecContext(ctx, `
			WITH RECURSIVE sub(id) AS (
				SELECT id FROM blocks WHERE parent_id = ?
				UNION ALL
				SELECT b.id FROM blocks b JOIN sub ON b.parent_id = sub.id
			)
			UPDATE blocks SET root_id = ? WHERE id IN (SELECT id FROM sub)
		`, cur.id, pos.rootID); err != nil {
			return fmt.Errorf("move subtree: %w", err)
		}
	}
	return nil
}

func setAttrs(ctx context.Context, tx *sql.Tx, op ir.MutationOperation) error {
	if len(op.Attrs) == 0 {
		return nil
	}
	var row blockRow
	err := tx.QueryRowContext(ctx,
		`SELECT type, subtype, layout FROM blocks WHERE id = ?`, op.BlockID,
	).Scan(&row.typ, &row.subtype, &row.layout)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read block: %w", err)
	}

	applyAttrs(&row, op.Attrs)
	if _, err := tx.ExecContext(ctx,
		`UPDATE blocks SET type = ?, subtype = ?, layout = ? WHERE id = ?`,
		row.typ, row.subtype, row.layout, op.BlockID,
	); err != nil {
		return fmt.Errorf("set attributes: %w", err)
	}
	return nil
}

// applyAttrs overlays block attributes given as a key/value object.
func applyAttrs(row *blockRow, attrs map[string]string) {
	for k, v := range attrs {
		switch k {
		case attrType, "type":
			row.typ = blockType(v)
		case attrSubtype, "subtype":
			row.subtype = v
		case attrLayout, "layout":
			row.layout = v
		}
	}
}

// locate resolves where an inserted or moved block goes and opens a gap
// in the sibling order for it.
func locate(ctx context.Context, tx *sql.Tx, op ir.MutationOperation) (position, error) {
	if op.PreviousID != "" && op.PreviousID != op.BlockID {
		prev, ok, err := getBlock(ctx, tx, op.PreviousID)
		if err != nil {
			return position{}, err
		}
		if ok {
			if err := shiftSiblings(ctx, tx, prev.parentID, prev.sort+1); err != nil {
				return position{}, err
			}
			return position{rootID: prev.rootID, parentID: prev.parentID, sort: prev.sort + 1}, nil
		}
	}

	if op.NextID != "" && op.NextID != op.BlockID {
		next, ok, err := getBlock(ctx, tx, op.NextID)
		if err != nil {
			return position{}, err
		}
		if ok {
			if err := shiftSiblings(ctx, tx, next.parentID, next.sort); err != nil {
				return position{}, err
			}
			return position{rootID: next.rootID, parentID: next.parentID, sort: next.sort}, nil
		}
	}

	if op.ParentID != "" {
		parent, ok, err := getBlock(ctx, tx, op.ParentID)
		if err != nil {
			return position{}, err
		}
		if ok {
			var last sql.NullInt64
			if err := tx.QueryRowContext(ctx,
				`SELECT MAX(sort) FROM blocks WHERE parent_id = ? AND id != ?`, parent.id, op.BlockID,
			).Scan(&last); err != nil {
				return position{}, fmt.Errorf("read sibling order: %w", err)
			}
			sort := 0
			if last.Valid {
				sort = int(last.Int64) + 1
			}
			return position{
				rootID:   parent.rootID,
				parentID: sql.NullString{String: parent.id, Valid: true},
				sort:     sort,
			}, nil
		}
	}

	return position{}, errNoAnchor
}

func shiftSiblings(ctx context.Context, tx *sql.Tx, parentID sql.NullString, from int) error {
	if !parentID.Valid {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE blocks SET sort = sort + 1 WHERE parent_id = ? AND sort >= ?`, parentID.String, from,
	); err != nil {
		return fmt.Errorf("shift siblings: %w", err)
	}
	return nil
}

func getBlock(ctx context.Context, tx *sql.Tx, id string) (block, bool, error) {
	var b block
	err := tx.QueryRowContext(ctx,
		`SELECT id, root_id, parent_id, type, sort FROM blocks WHERE id = ?`, id,
	).Scan(&b.id, &b.rootID, &b.parentID, &b.typ, &b.sort)
	if errors.Is(err, sql.ErrNoRows) {
		return block{}, false, nil
	}
	if err != nil {
		return block{}, false, fmt.Errorf("read block %s: %w", id, err)
	}
	return b, true, nil
}

func upsertRow(ctx context.Context, tx *sql.Tx, row blockRow, pos position) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO blocks (id, root_id, parent_id, type, subtype, layout, content, sort)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			root_id = excluded.root_id,
			parent_id = excluded.parent_id,
			type = excluded.type,
			subtype = excluded.subtype,
			layout = excluded.layout,
			content = excluded.content,
			sort = excluded.sort
	`, row.id, pos.rootID, pos.parentID, row.typ, row.subtype, row.layout, row.content, pos.sort)
	if err != nil {
		return fmt.Errorf("write block %s: %w", row.id, err)
	}
	return nil
}

// insertNested writes the child rows of a decoded fragment.
func insertNested(ctx context.Context, tx *sql.Tx, rootID string, rows []blockRow) error {
	for _, row := range rows {
		pos := position{
			rootID:   rootID,
			parentID: sql.NullString{String: row.parentID, Valid: row.parentID != ""},
			sort:     row.sort,
		}
		if err := upsertRow(ctx, tx, row, pos); err != nil {
			return err
		}
	}
	return nil
}

func deleteSubtree(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `
		WITH RECURSIVE sub(id) AS (
			SELECT ?
			UNION ALL
			SELECT b.id FROM blocks b JOIN sub ON b.parent_id = sub.id
		)
		DELETE FROM blocks WHERE id IN (SELECT id FROM sub)
	`, id); err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

func deleteDescendants(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `
		WITH RECURSIVE sub(id) AS (
			SELECT id FROM blocks WHERE parent_id = ?
			UNION ALL
			SELECT b.id FROM blocks b JOIN sub ON b.parent_id = sub.id
		)
		DELETE FROM blocks WHERE id IN (SELECT id FROM sub)
	`, id); err != nil {
		return fmt.Errorf("delete children: %w", err)
	}
	return nil
}
