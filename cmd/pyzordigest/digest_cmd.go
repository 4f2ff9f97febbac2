package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"

	"github.com/go-pyzor/pyzordigest"
	"github.com/go-pyzor/pyzordigest/internal/mimefeed"
	"github.com/go-pyzor/pyzordigest/internal/policy"
	"github.com/go-pyzor/pyzordigest/internal/store"
)

var digestCmd = &cobra.Command{
	Use:   "digest [message...]",
	Short: "Compute the digest of one or more MIME messages",
	Args:  cobra.ArbitraryArgs,
	RunE:  runDigest,
}

func init() {
	digestCmd.Flags().Bool("record", false, "record the digest in the history store")
}

func runDigest(cmd *cobra.Command, args []string) error {
	record, _ := cmd.Flags().GetBool("record")

	pol, err := loadPolicy()
	if err != nil {
		return err
	}

	var st *store.Store
	if record {
		st, err = openStore()
		if err != nil {
			return err
		}
		defer st.Close()
	}

	sources := args
	if len(sources) == 0 {
		sources = []string{"-"}
	}

	for _, src := range sources {
		if err := digestOne(cmd.Context(), src, pol, st); err != nil {
			return fmt.Errorf("%s: %w", src, err)
		}
	}
	return nil
}

func digestOne(ctx context.Context, source string, pol *policy.Policy, st *store.Store) error {
	var f *os.File
	var err error
	if source == "-" {
		f = os.Stdin
	} else {
		f, err = os.Open(source)
		if err != nil {
			return err
		}
		defer f.Close()
	}

	opts := []pyzordigest.Option{}
	if maxBuffer > 0 {
		opts = append(opts, pyzordigest.WithMaxBuffer(maxBuffer))
	}
	d := pyzordigest.New(opts...)

	if err := mimefeed.Feed(d, f); err != nil {
		return fmt.Errorf("feeding message: %w", err)
	}

	out := make([]byte, pyzordigest.DigestSize)
	d.Finalize(out)
	digest := string(out)

	verdict := policy.VerdictAllow
	if pol != nil {
		verdict, err = pol.Evaluate(policy.Env{
			Digest: digest,
			Lines:  d.Lines(),
			Stats:  policy.Stats(d.Stats()),
		})
		if err != nil {
			return fmt.Errorf("evaluating policy: %w", err)
		}
	}

	fmt.Printf("%s  %s  %s\n", digest, verdict, source)
	if debug {
		pp.Println(struct {
			Source  string
			Digest  string
			Lines   int
			Stats   string
			Verdict policy.Verdict
		}{source, digest, d.Lines(), d.Stats().String(), verdict})
	}

	if st != nil {
		rec := store.RecordFromDigest(digest, source, d, string(verdict), time.Now())
		if err := st.Insert(ctx, rec); err != nil {
			log.Error("recording digest", "error", err)
		}
	}
	return nil
}
