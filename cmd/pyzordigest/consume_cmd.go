package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/go-pyzor/pyzordigest/internal/store"
	"github.com/go-pyzor/pyzordigest/internal/transport"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Mirror digest events published by pyzordigestd into a local store",
	Args:  cobra.NoArgs,
	RunE:  runConsume,
}

func init() {
	consumeCmd.Flags().String("nats-addr", nats.DefaultURL, "NATS server address to subscribe to")
	consumeCmd.Flags().String("nats-subject", "pyzordigest.digests", "NATS subject to mirror digest events from")
}

// runConsume subscribes to a daemon's published digest events and replicates
// them into a local store, the way cc-backend's memorystore lineprotocol
// receiver subscribes to its configured subject and feeds each decoded
// message into local storage.
func runConsume(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("nats-addr")
	subject, _ := cmd.Flags().GetString("nats-subject")

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	conn, err := nats.Connect(addr)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	ctx := cmd.Context()
	sub, err := transport.Subscribe(conn, subject, func(ev transport.DigestEvent) {
		rec := store.Record{
			Digest:     ev.Digest,
			Source:     ev.Source,
			Lines:      ev.Lines,
			Stats:      ev.Stats,
			Verdict:    ev.Verdict,
			ComputedAt: time.Unix(ev.ComputedAt, 0),
		}
		if err := st.Insert(ctx, rec); err != nil {
			log.Error("mirroring digest event", "digest", ev.Digest, "error", err)
			return
		}
		log.Info("mirrored digest event", "digest", ev.Digest, "source", ev.Source, "verdict", ev.Verdict)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	defer sub.Unsubscribe()

	log.Info("consuming digest events", "addr", addr, "subject", subject)
	<-ctx.Done()
	return nil
}
