package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/annosync/internal/blockstore"
	"github.com/roach88/annosync/internal/ir"
	"github.com/roach88/annosync/internal/numbering"
)

// OutlineOptions holds flags for the outline command.
type OutlineOptions struct {
	*RootOptions
	StoreOptions
}

// OutlineResult is a document's numbering computed straight from the store.
type OutlineResult struct {
	Key      ir.DocumentKey `json:"key"`
	Headings []ir.Entry     `json:"headings"`
	Figures  []ir.Entry     `json:"figures"`
}

// NewOutlineCommand creates the outline command.
func NewOutlineCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OutlineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "outline <doc>",
		Short: "Print a document's numbered headings and figures",
		Long: `Reads the document from the block store and computes heading numbers and
figure labels with the configured formats, without starting the engine.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOutline(cmd, opts, ir.DocumentKey(args[0]))
		},
	}

	opts.bind(cmd)
	return cmd
}

func runOutline(cmd *cobra.Command, opts *OutlineOptions, key ir.DocumentKey) error {
	formatter := newFormatter(cmd, opts.RootOptions)
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return err
	}
	bs, err := openStore(opts.Database, logger)
	if err != nil {
		return err
	}
	defer bs.Close()

	root, err := bs.FetchOutline(cmd.Context(), key)
	if errors.Is(err, blockstore.ErrDocumentNotFound) {
		return formatter.Fail(ExitFailure, "DOCUMENT_NOT_FOUND", fmt.Sprintf("document %s not found", key), nil, err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read outline", err)
	}

	result := OutlineResult{
		Key:      key,
		Headings: numbering.NumberHeadings(root, cfg.HeadingSettings()),
		Figures:  numbering.IndexFigures(root, cfg.Prefixes()),
	}

	return formatter.Success(result)
}

// WriteText prints headings indented by depth, then figures.
func (r OutlineResult) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", r.Key)
	for _, h := range r.Headings {
		fmt.Fprintf(&b, "%s%s%s\n", strings.Repeat("  ", h.Depth), h.Label, h.Content)
	}
	for _, fig := range r.Figures {
		fmt.Fprintf(&b, "%s %s  [%s]\n", fig.Label, fig.Caption, fig.ID)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
