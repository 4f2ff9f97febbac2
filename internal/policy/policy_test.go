package policy

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/go-pyzor/pyzordigest"
)

func TestCompileAndEvaluate(t *testing.T) {
	c := qt.New(t)
	p, err := Compile(`stats.Has("AddressSuppressed") && lines < 5 ? "flag" : "allow"`)
	c.Assert(err, qt.IsNil)

	v, err := p.Evaluate(Env{
		Digest: "deadbeef",
		Lines:  3,
		Stats:  Stats(1 << pyzordigest.StatAddressSuppressed),
	})
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, VerdictFlag)

	v, err = p.Evaluate(Env{Digest: "cafe", Lines: 3, Stats: 0})
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, VerdictAllow)
}

func TestCompileRejectsUnrecognizedVerdict(t *testing.T) {
	c := qt.New(t)
	p, err := Compile(`"whatever"`)
	c.Assert(err, qt.IsNil)
	_, err = p.Evaluate(Env{})
	c.Assert(err, qt.ErrorMatches, `.*unrecognized verdict.*`)
}
