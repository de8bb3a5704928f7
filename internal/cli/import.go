package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/annosync/internal/ir"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Database string
}

// ImportResult reports what was written.
type ImportResult struct {
	Key    ir.DocumentKey `json:"key"`
	Blocks int            `json:"blocks"`
}

func (r ImportResult) String() string {
	return fmt.Sprintf("imported %s (%d blocks)", r.Key, r.Blocks)
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <outline-file>",
		Short: "Load a document tree into the block store",
		Long: `Reads a document tree from a .json, .yaml or .yml file and replaces the
document with the same root id in the block store. Nodes carry id, type,
subtype, layout, content and children.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the block store database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runImport(cmd *cobra.Command, opts *ImportOptions, path string) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	root, err := readOutline(path)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid outline file", err)
	}

	bs, err := openStore(opts.Database, newLogger(cmd.ErrOrStderr(), opts.Verbose))
	if err != nil {
		return err
	}
	defer bs.Close()

	if err := bs.PutOutline(cmd.Context(), root); err != nil {
		return WrapExitError(ExitCommandError, "failed to write outline", err)
	}

	var n int
	root.Walk(func(*ir.OutlineNode) bool { n++; return true })
	return formatter.Success(ImportResult{Key: ir.DocumentKey(root.ID), Blocks: n})
}

func readOutline(path string) (*ir.OutlineNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var root ir.OutlineNode
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&root)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&root)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if root.ID == "" {
		return nil, fmt.Errorf("%s: root id is required", path)
	}
	if root.Type == "" {
		root.Type = ir.BlockDocument
	}
	if root.Type != ir.BlockDocument {
		return nil, fmt.Errorf("%s: root must be a document (type %q), got %q", path, ir.BlockDocument, root.Type)
	}

	seen := map[string]bool{}
	var dup string
	root.Walk(func(n *ir.OutlineNode) bool {
		if dup == "" && seen[n.ID] {
			dup = n.ID
		}
		seen[n.ID] = true
		return true
	})
	if dup != "" {
		return nil, fmt.Errorf("%s: duplicate block id %q", path, dup)
	}
	return &root, nil
}
