package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/go-pyzor/pyzordigest/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently computed digests",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of records to show")
	historyCmd.Flags().String("verdict", "", "only show records with this policy verdict")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	verdict, _ := cmd.Flags().GetString("verdict")

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	var recs []store.Record
	if verdict != "" {
		recs, err = st.ByVerdict(ctx, verdict, limit)
	} else {
		recs, err = st.Recent(ctx, limit)
	}
	if err != nil {
		return err
	}

	return renderHistory(ctx, recs)
}

func renderHistory(_ context.Context, recs []store.Record) error {
	var b strings.Builder
	b.WriteString("# Digest history\n\n")
	if len(recs) == 0 {
		b.WriteString("_no digests recorded yet_\n")
	} else {
		b.WriteString("| Digest | Source | Lines | Verdict | Computed |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, r := range recs {
			fmt.Fprintf(&b, "| `%s` | %s | %d | %s | %s |\n",
				r.Digest[:12], r.Source, r.Lines, r.Verdict, humanize.Time(r.ComputedAt))
		}
	}

	opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		opts = append(opts, glamour.WithWordWrap(w))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return err
	}
	rendered, err := r.Render(b.String())
	if err != nil {
		return err
	}
	fmt.Print(rendered)
	return nil
}
