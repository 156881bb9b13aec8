package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-genpipe/internal/batch"
	"github.com/phrazzld/scry-genpipe/internal/platform/sqlite"
	"github.com/phrazzld/scry-genpipe/internal/store"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [--batch id|name | --file batch.yaml]",
	Short: "Show the state of a batch",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ref, _ := cmd.Flags().GetString("batch")
		file, _ := cmd.Flags().GetString("file")
		asJSON, _ := cmd.Flags().GetBool("json")

		if ref == "" {
			if file == "" {
				return errors.New("one of --batch or --file is required")
			}
			bf, err := readBatchFile(file)
			if err != nil {
				return err
			}
			ref = bf.Name
		}

		return printStatus(cmd.Context(), cmd.OutOrStdout(), statePath, ref, asJSON)
	},
}

type statusView struct {
	Batch *store.Batch       `json:"batch"`
	Items []store.ItemRecord `json:"items"`
	Done  int                `json:"done"`
	Errs  int                `json:"errors"`
	Total int                `json:"total"`
}

// printStatus looks ref up as a batch ID, then as a batch name.
func printStatus(ctx context.Context, out io.Writer, path, ref string, asJSON bool) error {
	st, err := openState(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	b, err := findBatch(ctx, st, ref)
	if err != nil {
		return err
	}
	items, err := st.ListItems(ctx, b.ID)
	if err != nil {
		return err
	}

	view := statusView{Batch: b, Items: items, Total: len(items)}
	for _, it := range store.Items(items) {
		switch it.Status {
		case batch.StatusDone:
			view.Done++
		case batch.StatusError:
			view.Errs++
		}
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	fmt.Fprintf(out, "batch %s (%s): %d done, %d failed, %d pending\n\n",
		b.Name, b.ID, view.Done, view.Errs, view.Total-view.Done-view.Errs)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTITLE\tSTATUS\tATTEMPTS\tRESULT / ERROR")
	for _, it := range items {
		detail := it.ResultHandle
		if it.Error != "" {
			detail = it.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", it.Index, it.Request.Title, it.Status, it.Attempts, detail)
	}
	return tw.Flush()
}

func findBatch(ctx context.Context, st *sqlite.BatchStore, ref string) (*store.Batch, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return st.GetBatch(ctx, id)
	}
	b, err := st.LatestBatch(ctx, ref)
	if errors.Is(err, store.ErrBatchNotFound) {
		return nil, fmt.Errorf("no batch named %q in state file: %w", ref, err)
	}
	return b, err
}
