package main

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-co-op/gocron/v2"

	"github.com/go-pyzor/pyzordigest/internal/store"
)

const historyRetention = 90 * 24 * time.Hour

// startPurgeScheduler registers a daily job that drops digest history
// older than historyRetention, the way cc-backend's RegisterRetentionDeleteService
// registers its daily job against the gocron scheduler.
func startPurgeScheduler(st *store.Store) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = s.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(3, 0, 0))),
		gocron.NewTask(func() {
			cutoff := time.Now().Add(-historyRetention)
			n, err := st.PurgeOlderThan(context.Background(), cutoff)
			if err != nil {
				log.Error("purging digest history", "error", err)
				return
			}
			if n > 0 {
				log.Info("purged digest history", "rows", n, "cutoff", cutoff)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	s.Start()
	return s, nil
}
