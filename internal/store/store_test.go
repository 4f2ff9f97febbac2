package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func openTestStore(c *qt.C) *Store {
	dsn := filepath.Join(c.Mkdir(), "digests.sqlite3")
	s, err := Open(dsn)
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRunsMigrations(t *testing.T) {
	c := qt.New(t)
	s := openTestStore(c)

	recs, err := s.Recent(context.Background(), 10)
	c.Assert(err, qt.IsNil)
	c.Assert(recs, qt.HasLen, 0)
}

func TestInsertAndRecent(t *testing.T) {
	c := qt.New(t)
	s := openTestStore(c)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second).UTC()
	err := s.Insert(ctx, Record{
		Digest:     "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		Source:     "inbox/1",
		Lines:      7,
		Stats:      3,
		Verdict:    "allow",
		ComputedAt: now,
	})
	c.Assert(err, qt.IsNil)

	recs, err := s.Recent(ctx, 10)
	c.Assert(err, qt.IsNil)
	c.Assert(recs, qt.HasLen, 1)
	c.Assert(recs[0].Digest, qt.Equals, "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	c.Assert(recs[0].Source, qt.Equals, "inbox/1")
	c.Assert(recs[0].Lines, qt.Equals, 7)
	c.Assert(recs[0].Verdict, qt.Equals, "allow")
	c.Assert(recs[0].ComputedAt.Equal(now), qt.IsTrue)
}

func TestByVerdictFiltersRows(t *testing.T) {
	c := qt.New(t)
	s := openTestStore(c)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second).UTC()

	c.Assert(s.Insert(ctx, Record{Digest: "a", Source: "1", Verdict: "allow", ComputedAt: now}), qt.IsNil)
	c.Assert(s.Insert(ctx, Record{Digest: "b", Source: "2", Verdict: "quarantine", ComputedAt: now}), qt.IsNil)
	c.Assert(s.Insert(ctx, Record{Digest: "c", Source: "3", Verdict: "quarantine", ComputedAt: now}), qt.IsNil)

	recs, err := s.ByVerdict(ctx, "quarantine", 10)
	c.Assert(err, qt.IsNil)
	c.Assert(recs, qt.HasLen, 2)
	for _, r := range recs {
		c.Assert(r.Verdict, qt.Equals, "quarantine")
	}
}

func TestRecentRespectsLimit(t *testing.T) {
	c := qt.New(t)
	s := openTestStore(c)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second).UTC()

	for i := 0; i < 5; i++ {
		c.Assert(s.Insert(ctx, Record{
			Digest:     "d",
			Source:     "s",
			Verdict:    "allow",
			ComputedAt: now.Add(time.Duration(i) * time.Second),
		}), qt.IsNil)
	}

	recs, err := s.Recent(ctx, 2)
	c.Assert(err, qt.IsNil)
	c.Assert(recs, qt.HasLen, 2)
}

func TestPurgeOlderThanRemovesStaleRows(t *testing.T) {
	c := qt.New(t)
	s := openTestStore(c)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second).UTC()

	c.Assert(s.Insert(ctx, Record{Digest: "old", Source: "s", Verdict: "allow", ComputedAt: now.Add(-48 * time.Hour)}), qt.IsNil)
	c.Assert(s.Insert(ctx, Record{Digest: "new", Source: "s", Verdict: "allow", ComputedAt: now}), qt.IsNil)

	n, err := s.PurgeOlderThan(ctx, now.Add(-24*time.Hour))
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, int64(1))

	recs, err := s.Recent(ctx, 10)
	c.Assert(err, qt.IsNil)
	c.Assert(recs, qt.HasLen, 1)
	c.Assert(recs[0].Digest, qt.Equals, "new")
}
