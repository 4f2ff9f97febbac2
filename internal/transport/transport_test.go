package transport

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestCodecRoundTrip(t *testing.T) {
	c := qt.New(t)
	codec, err := NewCodec()
	c.Assert(err, qt.IsNil)

	ev := DigestEvent{
		Digest:     "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		Source:     "inbox/1",
		Lines:      12,
		Stats:      5,
		Verdict:    "flag",
		ComputedAt: 1700000000,
	}

	data, err := codec.Encode(ev)
	c.Assert(err, qt.IsNil)
	c.Assert(len(data), qt.Not(qt.Equals), 0)

	got, err := codec.Decode(data)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, ev)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	c := qt.New(t)
	codec, err := NewCodec()
	c.Assert(err, qt.IsNil)

	_, err = codec.Decode([]byte{0xff, 0x00, 0x01})
	c.Assert(err, qt.Not(qt.IsNil))
}
