package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestFileTargetStoresUnderDigestName(t *testing.T) {
	c := qt.New(t)
	dir := c.Mkdir()

	target, err := NewFileTarget(dir)
	c.Assert(err, qt.IsNil)

	entry, err := StoreFlagged(context.Background(), target, "deadbeef", []byte("raw message body"))
	c.Assert(err, qt.IsNil)
	c.Assert(entry, qt.Not(qt.IsNil))
	c.Assert(entry.Digest, qt.Equals, "deadbeef")
	c.Assert(entry.SourceSize, qt.Equals, len("raw message body"))

	data, err := os.ReadFile(filepath.Join(dir, "deadbeef.eml"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, "raw message body")
}

func TestStoreFlaggedIsNoOpWithoutTarget(t *testing.T) {
	c := qt.New(t)
	entry, err := StoreFlagged(context.Background(), nil, "deadbeef", []byte("raw"))
	c.Assert(err, qt.IsNil)
	c.Assert(entry, qt.IsNil)
}
