// Package pyzordigest computes Pyzor-style message digests: a streaming,
// bounded-memory fingerprint of an email's normalized text that is stable
// across re-wrapping, signature blocks and light HTML markup.
//
// The Digester is the single stateful entity described by the algorithm: it
// tokenizes incoming bytes, assembles normalized lines in a growable buffer,
// scrubs old lines once enough have accumulated, and hashes a fixed
// selection of them on Finalize. It does no I/O and is safe to use from one
// goroutine at a time; nothing here is concurrent by design (see Update).
package pyzordigest

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
)

// Tunable thresholds from the original algorithm. Names follow spec.md's
// GLOSSARY rather than the C identifiers they're descended from.
const (
	// lineMin is the minimum kept-line payload length (PYZOR_LINE_MIN).
	// It doubles as the Scrubber's trigger threshold on tot.
	lineMin = 8

	// stringMin is the token length at which a run is considered noise
	// and discarded outright (PYZOR_STRING_MIN).
	stringMin = 10

	// linesAtomic is the line count at or below which a message is
	// hashed in its entirety rather than through the two sampling
	// windows (PYZOR_LINES_ATOMIC).
	linesAtomic = 4

	// headerSize is the width of the length prefix stored ahead of each
	// committed line's payload in buf.
	headerSize = 4
)

// EmptyDigest is the digest of a message with no retained lines (spec.md
// E1): the SHA-1 of zero bytes.
const EmptyDigest = "da39a3ee5e6b4b0d3255bfef95601890afd80709"

// DigestSize is the length in bytes of a finalized digest's hex encoding.
const DigestSize = sha1.Size * 2

type phase byte

const (
	phaseNone phase = iota
	phaseSpace
	phaseAlpha
	phaseNonSpace
	phaseDelim
	phaseDiscard
)

// Digester accumulates message text across one or more calls to Update and
// produces a digest on Finalize. The zero value is not ready for use; call
// New.
type Digester struct {
	buf []byte // committed line records, followed by an in-progress tail
	tot int    // number of lines ever committed
	nth int    // index of the first line still retained in buf

	delim int // offset of the reserved header for the line in progress
	off   int // offset of the current token's first content byte, 0 if none
	lim   int // one past the last byte written (== len(buf))

	lt int // offset of the earliest unmatched '<' in the current line region, 0 if none
	gt int // offset of the '>' matching lt, 0 if none

	wordStart int // offset to roll back to if the open token is discarded

	phase    phase
	finished bool

	stats  Stats
	maxBuf int // 0 means unlimited
}

// Option configures a Digester at construction time.
type Option func(*Digester)

// WithMaxBuffer bounds how large the internal buffer is allowed to grow.
// Update returns ErrOverflow rather than growing past n bytes. Zero (the
// default) means unlimited, matching the reference implementation's use of
// SIZE_MAX as its effective ceiling.
func WithMaxBuffer(n int) Option {
	return func(d *Digester) { d.maxBuf = n }
}

// New creates a Digester ready to accept Update calls.
func New(opts ...Option) *Digester {
	d := &Digester{
		buf:   make([]byte, headerSize),
		delim: 0,
		lim:   headerSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Reset returns d to a freshly-created state so it can be reused for another
// message without a new allocation, the way a sync.Pool consumer would.
func (d *Digester) Reset() {
	d.buf = d.buf[:0]
	d.buf = append(d.buf, make([]byte, headerSize)...)
	d.tot, d.nth = 0, 0
	d.delim, d.off, d.lim = 0, 0, headerSize
	d.lt, d.gt, d.wordStart = 0, 0, 0
	d.phase = phaseNone
	d.finished = false
	d.stats = 0
}

// Stats returns the diagnostic bitmask accumulated so far.
func (d *Digester) Stats() Stats { return d.stats }

// Lines returns the number of lines committed to the digest so far
// (spec.md's tot), not all of which may still be retained in the buffer.
func (d *Digester) Lines() int { return d.tot }

// Update feeds the next chunk of a message's decoded text into the digest.
// endOfPart must be true on the last call for a given MIME part (or for a
// message with no MIME structure at all): it forces any in-progress line and
// token to close even if the chunk didn't end in a newline, so that the next
// part always starts on a fresh line (spec.md §5).
//
// Update returns ErrInvalidState if called after Finalize.
func (d *Digester) Update(p []byte, endOfPart bool) error {
	if d.finished {
		return ErrInvalidState
	}
	for _, c := range p {
		if err := d.step(c); err != nil {
			return err
		}
	}
	if endOfPart {
		d.stats = d.stats.add(StatEndOfPart)
		if err := d.forceBoundary(); err != nil {
			return err
		}
	}
	return nil
}

// step applies the Tokenizer's transition table (spec.md §4.1) to a single
// byte, writing admitted bytes through to the line buffer as it goes.
func (d *Digester) step(c byte) error {
	nl := c == '\n'
	sp := isSpace(c)

	switch d.phase {
	case phaseNone, phaseSpace:
		switch {
		case nl:
			if err := d.closeLine(); err != nil {
				return err
			}
			d.phase = phaseNone
		case sp:
			d.phase = phaseSpace
		default:
			if err := d.beginToken(); err != nil {
				return err
			}
			return d.admit(c, true)
		}
		return nil

	case phaseDiscard:
		switch {
		case nl:
			if err := d.closeLine(); err != nil {
				return err
			}
			d.phase = phaseNone
		case sp:
			d.phase = phaseSpace
		}
		return nil

	default: // phaseAlpha, phaseNonSpace, phaseDelim: a token is open
		if sp {
			d.emitToken()
			if nl {
				if err := d.closeLine(); err != nil {
					return err
				}
				d.phase = phaseNone
			} else {
				d.phase = phaseSpace
			}
			return nil
		}
		if d.phase == phaseDelim {
			// Any further non-space byte after the delimiter
			// character ('@' or alpha-then-':') discards the
			// whole token (spec.md E5: address suppression).
			d.revertToken()
			d.stats = d.stats.add(StatAddressSuppressed)
			d.phase = phaseDiscard
			return nil
		}
		return d.admit(c, false)
	}
}

// forceBoundary closes whatever is open (a token, then a line) without
// consuming an input byte, as if a newline had been seen.
func (d *Digester) forceBoundary() error {
	switch d.phase {
	case phaseAlpha, phaseNonSpace, phaseDelim:
		d.emitToken()
	case phaseDiscard:
		// already reverted, nothing to emit
	}
	if err := d.closeLine(); err != nil {
		return err
	}
	d.phase = phaseNone
	return nil
}

// Finalize writes the hex-encoded digest of the retained, sampled lines into
// out and returns the number of bytes written (spec.md §4.4, §6). out must
// be at least DigestSize bytes long. Finalize may be called more than once;
// it does not mutate the Digester's retained state, but further Update calls
// are rejected until Reset.
func (d *Digester) Finalize(out []byte) int {
	d.finished = true
	h := sha1.New()

	// Atomic messages (spec.md §4.4: tot <= PYZOR_LINES_ATOMIC) are
	// hashed whole. Larger messages are hashed through two three-line
	// windows starting at the 20% and 60% marks; a line that falls in
	// both windows is hashed once.
	inWindow := func(i int) bool {
		if d.tot <= linesAtomic {
			return true
		}
		a0 := (d.tot * 20) / 100
		b0 := (d.tot * 60) / 100
		return i >= a0 && i <= a0+2 || i >= b0 && i <= b0+2
	}

	pos := 0
	for i := d.nth; i < d.tot; i++ {
		length := int(binary.BigEndian.Uint32(d.buf[pos:]))
		pos += headerSize
		if inWindow(i) {
			h.Write(d.buf[pos : pos+length])
		}
		pos += length
	}

	sum := h.Sum(nil)
	return hex.Encode(out, sum)
}

// Destroy releases the Digester's buffer. Go's garbage collector makes this
// optional; it exists so callers ported from the create/update/finalize/
// destroy lifecycle in spec.md §6 have a direct equivalent, and so a pooled
// Digester can be returned without holding onto a large buffer.
func (d *Digester) Destroy() {
	d.buf = nil
	d.finished = true
}
