package pyzordigest

import (
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	qt "github.com/frankban/quicktest"
)

// flagNames returns the sorted names of every flag set in s.
func flagNames(s Stats) []string {
	var names []string
	for _, part := range strings.Split(s.String(), "|") {
		if part != "" && part != "0" {
			names = append(names, part)
		}
	}
	sort.Strings(names)
	return names
}

// digestOf runs a single message through a fresh Digester and returns the
// hex digest, mirroring the create/update/finalize lifecycle in spec.md §6.
func digestOf(c *qt.C, chunks []string, endOfPart []bool) string {
	d := New()
	for i, chunk := range chunks {
		eop := false
		if i < len(endOfPart) {
			eop = endOfPart[i]
		}
		err := d.Update([]byte(chunk), eop)
		c.Assert(err, qt.IsNil)
	}
	out := make([]byte, DigestSize)
	n := d.Finalize(out)
	c.Assert(n, qt.Equals, DigestSize)
	return string(out)
}

func TestEmptyMessageDigestsToSHA1OfNothing(t *testing.T) {
	c := qt.New(t)
	got := digestOf(c, nil, nil)
	c.Assert(got, qt.Equals, EmptyDigest)

	// Finalize with no Update calls at all must agree.
	d := New()
	out := make([]byte, DigestSize)
	d.Finalize(out)
	c.Assert(string(out), qt.Equals, EmptyDigest)
}

func TestShortLineIsDropped(t *testing.T) {
	c := qt.New(t)
	// "hi" is two bytes, well under PYZOR_LINE_MIN(8); the line
	// contributes nothing to the digest.
	got := digestOf(c, []string{"hi\n"}, nil)
	c.Assert(got, qt.Equals, EmptyDigest)
}

func TestLongTokenIsDropped(t *testing.T) {
	c := qt.New(t)
	// A single run of non-space bytes at least PYZOR_STRING_MIN(10) long
	// is discarded outright, leaving nothing behind it on the line.
	withToken := digestOf(c, []string{"aaaaaaaaaaaaaaaa is a line here\n"}, nil)
	withoutToken := digestOf(c, []string{"is a line here\n"}, nil)
	c.Assert(withToken, qt.Equals, withoutToken)
}

func TestAtomicMessageHashesAllRetainedLines(t *testing.T) {
	c := qt.New(t)
	// Four lines (<= PYZOR_LINES_ATOMIC) hashed as one chunk must match
	// the same four lines split across arbitrary Update boundaries.
	whole := digestOf(c, []string{
		"first line of content\nsecond line of content\nthird line content\nfourth line content\n",
	}, nil)

	chunked := digestOf(c, []string{
		"first line of con", "tent\nsecond line", " of content\nthird",
		" line content\nfourth line content\n",
	}, nil)
	c.Assert(chunked, qt.Equals, whole)
}

func TestHTMLStripIsIdempotentWithPlainText(t *testing.T) {
	c := qt.New(t)
	html := digestOf(c, []string{"Some <b>bold</b> text here today\n"}, nil)
	plain := digestOf(c, []string{"Some bold text here today\n"}, nil)
	c.Assert(html, qt.Equals, plain)
}

func TestHTMLStripMatchesTagSplitAcrossTokenBoundary(t *testing.T) {
	c := qt.New(t)
	// The tag's own internal space puts its '<' and '>' in different
	// tokens, exactly as an attribute-bearing tag like <a href="..."> or
	// <font color="red"> does in real HTML mail: lt/gt must survive the
	// token boundary for strip to still match them up.
	html := digestOf(c, []string{"< b>keep this text alive today\n"}, nil)
	plain := digestOf(c, []string{"keep this text alive today\n"}, nil)
	c.Assert(html, qt.Equals, plain)
}

func TestUnclosedTagTruncatesRestOfLine(t *testing.T) {
	c := qt.New(t)
	// An unmatched '<' with no later '>' on the line devours everything
	// after it once the line commits, rather than leaving a corrupted
	// tail behind (spec.md §4.2's commit-time truncation rule).
	got := digestOf(c, []string{"x<y more content here today\n"}, nil)
	c.Assert(got, qt.Equals, EmptyDigest)
}

func TestAddressTokenIsSuppressed(t *testing.T) {
	c := qt.New(t)
	withAddr := digestOf(c, []string{"reach me at foo@example.com please do\n"}, nil)
	withoutAddr := digestOf(c, []string{"reach me at please do\n"}, nil)
	c.Assert(withAddr, qt.Equals, withoutAddr)
}

func TestURLSchemeTokenIsSuppressed(t *testing.T) {
	c := qt.New(t)
	// An alpha run followed by ':' enters the delim phase; any further
	// non-space byte (the "//example.com" here) discards the token
	// whole, the same way an '@' address does.
	withURL := digestOf(c, []string{"visit http://example.com today please\n"}, nil)
	withoutURL := digestOf(c, []string{"visit today please\n"}, nil)
	c.Assert(withURL, qt.Equals, withoutURL)
}

func TestChunkingIsIndependentOfSplitPoints(t *testing.T) {
	c := qt.New(t)
	message := "the quick brown fox jumps over several lazy dogs while they snore\n" +
		"loudly enough to wake the rest of the neighborhood up early\n" +
		"and nobody seems to mind very much about that at all today\n"

	whole := digestOf(c, []string{message}, nil)

	for _, split := range []int{1, 5, 17, 33, 64, len(message) - 1} {
		if split <= 0 || split >= len(message) {
			continue
		}
		chunked := digestOf(c, []string{message[:split], message[split:]}, nil)
		c.Assert(chunked, qt.Equals, whole, qt.Commentf("split at %d", split))
	}
}

func TestEndOfPartForcesLineBoundary(t *testing.T) {
	c := qt.New(t)
	// No trailing newline on the first part: end_of_part must still
	// close the line so the second part starts fresh.
	withBoundary := digestOf(c,
		[]string{"first part of the message", "second part of the message\n"},
		[]bool{true, true},
	)
	withNewline := digestOf(c,
		[]string{"first part of the message\nsecond part of the message\n"},
		nil,
	)
	c.Assert(withBoundary, qt.Equals, withNewline)
}

func TestUpdateAfterFinalizeIsInvalidState(t *testing.T) {
	c := qt.New(t)
	d := New()
	c.Assert(d.Update([]byte("hello world this is fine\n"), true), qt.IsNil)
	out := make([]byte, DigestSize)
	d.Finalize(out)
	err := d.Update([]byte("more"), false)
	c.Assert(err, qt.Equals, ErrInvalidState)
}

func TestWithMaxBufferReturnsOverflow(t *testing.T) {
	c := qt.New(t)
	d := New(WithMaxBuffer(8))
	err := d.Update([]byte("this message is far too long for the configured limit\n"), true)
	c.Assert(err, qt.Equals, ErrOverflow)
}

func TestStatsRecordsObservedEvents(t *testing.T) {
	c := qt.New(t)
	d := New()
	c.Assert(d.Update([]byte("Some <b>bold</b> text that is kept here\n"), true), qt.IsNil)
	s := d.Stats()
	c.Assert(s.Has(StatHTMLStripped), qt.IsTrue)
	c.Assert(s.Has(StatLineCommitted), qt.IsTrue)
	c.Assert(s.String(), qt.Not(qt.Equals), "0")
}

func TestStatsStringListsExactlyTheSetFlags(t *testing.T) {
	c := qt.New(t)
	d := New()
	c.Assert(d.Update([]byte("Some <b>bold</b> text that is kept here\n"), true), qt.IsNil)

	want := []string{"HTMLStripped", "LineCommitted", "EndOfPart"}
	sort.Strings(want)
	got := flagNames(d.Stats())
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected set of stats flags (-want +got):\n%s", diff)
	}
}

func TestReuseAfterReset(t *testing.T) {
	c := qt.New(t)
	d := New()
	c.Assert(d.Update([]byte("hello there friend how are you\n"), true), qt.IsNil)
	out1 := make([]byte, DigestSize)
	d.Finalize(out1)

	d.Reset()
	c.Assert(d.Lines(), qt.Equals, 0)
	c.Assert(d.Update([]byte("hello there friend how are you\n"), true), qt.IsNil)
	out2 := make([]byte, DigestSize)
	d.Finalize(out2)
	c.Assert(string(out2), qt.Equals, string(out1))
}

func TestScrubberDiscardsOldestLinesUnderBoundedMemory(t *testing.T) {
	c := qt.New(t)
	// Enough lines to cross PYZOR_LINE_MIN(8) so the scrubber's 20%
	// floor starts advancing nth; the digest must still be reproducible
	// from a second, freshly-scrubbed run over the same input.
	var msg string
	for i := 0; i < 40; i++ {
		msg += "this is a line of message content number repeated\n"
	}
	first := digestOf(c, []string{msg}, nil)
	second := digestOf(c, []string{msg}, nil)
	c.Assert(first, qt.Equals, second)
}
