package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/annosync/internal/engine"
	"github.com/roach88/annosync/internal/ir"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	StoreOptions
	Timeout time.Duration
}

// ReplayResult is the annotation state after a replay.
type ReplayResult struct {
	Messages  string           `json:"messages"`
	Documents []ReplayDocument `json:"documents"`
}

// ReplayDocument holds the final payloads of one document.
type ReplayDocument struct {
	Key          ir.DocumentKey `json:"key"`
	Headings     []ir.Entry     `json:"headings"`
	HeadingsHash string         `json:"headings_hash"`
	Figures      []ir.Entry     `json:"figures"`
	FiguresHash  string         `json:"figures_hash"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <messages-file> <doc>...",
		Short: "Apply recorded transactions and print the resulting annotations",
		Long: `Opens the given documents, feeds every transaction message in the file
through the engine and waits for recomputes to settle. The final heading
and figure payloads are printed together with their content hashes, so two
replays of the same input can be compared.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, opts, args[0], args[1:])
		},
	}

	opts.bind(cmd)
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "maximum time to wait for recomputes to settle")

	return cmd
}

func runReplay(cmd *cobra.Command, opts *ReplayOptions, path string, docs []string) error {
	formatter := newFormatter(cmd, opts.RootOptions)
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	f, err := os.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open messages file", err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	sess, err := startSession(ctx, &opts.StoreOptions, logger, nil)
	if err != nil {
		return err
	}
	defer sess.close()

	if err := sess.open(ctx, docs); err != nil {
		return err
	}
	formatter.VerboseLog("Replaying %s into %d document(s)", path, len(docs))

	if err := sess.engine.Consume(ctx, engine.NewLineStream(f), sess.store); err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}
	if err := sess.engine.Settle(ctx); err != nil {
		return WrapExitError(ExitCommandError, "recomputes did not settle", err)
	}

	result := ReplayResult{Messages: path}
	for _, d := range docs {
		doc, err := replayDocument(sess.engine, ir.DocumentKey(d))
		if err != nil {
			return WrapExitError(ExitCommandError, "hashing payload failed", err)
		}
		result.Documents = append(result.Documents, doc)
	}

	return formatter.Success(result)
}

func replayDocument(eng *engine.Engine, key ir.DocumentKey) (ReplayDocument, error) {
	doc := ReplayDocument{Key: key}
	if st, ok := eng.State(ir.ScopeHeadings, key); ok {
		doc.Headings = st.Payload
	}
	if st, ok := eng.State(ir.ScopeFigures, key); ok {
		doc.Figures = st.Payload
	}
	var err error
	if doc.HeadingsHash, err = ir.PayloadHash(doc.Headings); err != nil {
		return doc, err
	}
	if doc.FiguresHash, err = ir.PayloadHash(doc.Figures); err != nil {
		return doc, err
	}
	return doc, nil
}

// WriteText prints each document's labels under a short payload hash.
func (r ReplayResult) WriteText(w io.Writer) error {
	var b strings.Builder
	for _, d := range r.Documents {
		fmt.Fprintf(&b, "%s\n", d.Key)
		fmt.Fprintf(&b, "  headings %s\n", d.HeadingsHash[:16])
		for _, e := range d.Headings {
			fmt.Fprintf(&b, "    %-8s %s%s\n", e.ID, e.Label, e.Content)
		}
		fmt.Fprintf(&b, "  figures %s\n", d.FiguresHash[:16])
		for _, e := range d.Figures {
			fmt.Fprintf(&b, "    %-8s %s %s\n", e.ID, e.Label, e.Caption)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
