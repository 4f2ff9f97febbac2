package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [maildir]",
	Short: "Watch a maildir-style directory and digest new messages as they arrive",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir := args[0]

	pol, err := loadPolicy()
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	for _, sub := range []string{"new", "cur"} {
		path := filepath.Join(dir, sub)
		if _, err := os.Stat(path); err == nil {
			if err := w.Add(path); err != nil {
				log.Warn("watching directory", "path", path, "error", err)
			}
		}
	}
	if len(w.WatchList()) == 0 {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	log.Info("watching for new messages", "dir", dir)
	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error("watch error", "error", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if strings.HasSuffix(ev.Name, ".tmp") {
				continue
			}
			if err := digestOne(ctx, ev.Name, pol, st); err != nil {
				log.Error("digesting message", "path", ev.Name, "error", err)
			}
		}
	}
}
