package pyzordigest

import "encoding/binary"

// beginToken opens a new token at the current write position. If the
// in-progress line already holds a kept token, a single space separator is
// written first so that "Line (normalized): a sequence of kept tokens,
// separated by single spaces" (spec.md GLOSSARY) holds regardless of how
// much whitespace ran between them in the input.
//
// lt/gt are not reset here: spec.md §4.1 tracks them "relative to the
// current line region", not the open token, so a tag whose '<' and '>'
// land in different tokens (any attribute-bearing tag, e.g. `<a href="...">`)
// still gets matched up by strip once its '>' is written.
func (d *Digester) beginToken() error {
	d.wordStart = d.lim
	if d.lim > d.delim+headerSize {
		if err := d.putByte(' '); err != nil {
			return err
		}
	}
	d.off = d.lim
	return nil
}

// admit writes c as the next byte of the open token, applies the HTML-strip
// check, reclassifies the phase, and discards the token outright if it has
// grown to stringMin bytes.
func (d *Digester) admit(c byte, fresh bool) error {
	prev := d.phase
	if err := d.putByte(c); err != nil {
		return err
	}
	d.strip()

	switch {
	case fresh:
		if isAlpha(c) {
			d.phase = phaseAlpha
		} else {
			d.phase = phaseNonSpace
		}
	case c == '@':
		d.phase = phaseDelim
	case prev == phaseAlpha && c == ':':
		d.phase = phaseDelim
	case prev == phaseAlpha && isAlpha(c):
		d.phase = phaseAlpha
	default:
		d.phase = phaseNonSpace
	}

	if d.lim-d.off >= stringMin {
		d.revertToken()
		d.stats = d.stats.add(StatLongTokenDropped)
		d.phase = phaseDiscard
	}
	return nil
}

// emitToken keeps the open token's bytes in the line (spec.md §4.1's "emit"
// transition). lt/gt are left alone: an unmatched '<' may still be closed
// by a later token in the same line, and is only truncated away at
// commit_line time (closeLine) if it never is (spec.md §4.2).
func (d *Digester) emitToken() {
	d.off = 0
}

// revertToken discards the open token, including the separator space
// beginToken may have written ahead of it, rolling the buffer back to
// before the token started. Per spec.md §4.2's revert, lt/gt are cleared
// only if the unmatched '<' they reference fell within the discarded
// region; a '<' from an earlier, already-committed token is untouched.
func (d *Digester) revertToken() {
	d.lim = d.wordStart
	d.buf = d.buf[:d.lim]
	if d.lt >= d.lim {
		d.lt, d.gt = 0, 0
	}
	d.off = 0
}

// closeLine commits the line in progress if its payload clears lineMin,
// otherwise drops it, then reserves a header slot for the next line
// (spec.md §4.2 commit_line / §4.3 trigger). An unmatched '<' still open
// at commit time truncates the line at lt: an unclosed tag devours the
// rest of the line rather than leaving a dangling fragment behind.
func (d *Digester) closeLine() error {
	if d.lt != 0 && d.gt == 0 {
		d.lim = d.lt
		d.buf = d.buf[:d.lim]
		d.stats = d.stats.add(StatUnclosedTagTruncated)
	}

	payload := d.lim - (d.delim + headerSize)
	if payload >= lineMin {
		binary.BigEndian.PutUint32(d.buf[d.delim:], uint32(payload))
		d.delim = d.lim
		d.tot++
		d.stats = d.stats.add(StatLineCommitted)
		d.scrub()
	} else {
		d.lim = d.delim
		d.buf = d.buf[:d.lim]
		if payload > 0 {
			d.stats = d.stats.add(StatShortLineDropped)
		}
	}
	newLim := d.delim + headerSize
	if err := d.growTo(newLim); err != nil {
		return err
	}
	if len(d.buf) < newLim {
		d.buf = append(d.buf, make([]byte, newLim-len(d.buf))...)
	} else {
		d.buf = d.buf[:newLim]
	}
	d.lim = newLim
	d.off = 0
	d.lt, d.gt = 0, 0
	return nil
}

// strip excises the earliest matched <...> span from the current line
// region, repeating until no matched pair remains in the part of the
// buffer written so far (spec.md §4.2). lt/gt are tracked across the whole
// in-progress line, not just the open token: lt is the offset of the
// earliest unmatched '<' since the line began, gt the first '>' following
// it, so an attribute-bearing tag split across a token boundary by its own
// internal spaces is still matched once its '>' is written.
//
// Because the excised span can now start before the open token (the tag
// began in an earlier, already-emitted token), off and wordStart — which
// track the open token's own start — must be collapsed or shifted the same
// way scrub already shifts delim/lim/lt/gt, or they'd point past the new
// lim and desync the stringMin run-length check and a later revertToken.
func (d *Digester) strip() {
	for d.lt != 0 && d.gt != 0 && d.gt >= d.lt && d.gt < d.lim {
		lt, gt := d.lt, d.gt
		n := gt - lt + 1
		copy(d.buf[lt:], d.buf[gt+1:d.lim])
		d.lim -= n
		d.buf = d.buf[:d.lim]
		d.stats = d.stats.add(StatHTMLStripped)

		d.off = collapseOffset(d.off, lt, gt, n)
		d.wordStart = collapseOffset(d.wordStart, lt, gt, n)

		d.lt, d.gt = 0, 0
		d.rescanTag(lt)
	}
}

// collapseOffset adjusts pos after the span [lt, gt] (length n) is excised
// from buf: unaffected if pos precedes the span, shifted down if it follows
// it, or collapsed to lt if it fell inside the now-removed bytes.
func collapseOffset(pos, lt, gt, n int) int {
	switch {
	case pos > gt:
		return pos - n
	case pos >= lt:
		return lt
	default:
		return pos
	}
}

// rescanTag looks for the next '<' at or after start within the line's
// already-written bytes, and the '>' that matches it if any. start is the
// offset left behind by the memmove in strip, since everything before it
// was already confirmed clear of unmatched tags.
func (d *Digester) rescanTag(start int) {
	for i := start; i < d.lim; i++ {
		if d.buf[i] == '<' {
			d.lt = i
			for j := i + 1; j < d.lim; j++ {
				if d.buf[j] == '>' {
					d.gt = j
					break
				}
			}
			return
		}
	}
}

// scrub discards the oldest retained lines once tot crosses lineMin and the
// 20% floor has advanced past nth (spec.md §4.3).
func (d *Digester) scrub() {
	if d.tot < lineMin {
		return
	}
	floor := (d.tot * 20) / 100
	if floor <= d.nth {
		return
	}

	pos := 0
	for i := d.nth; i < floor; i++ {
		length := int(binary.BigEndian.Uint32(d.buf[pos:]))
		pos += headerSize + length
	}

	copy(d.buf, d.buf[pos:])
	d.buf = d.buf[:len(d.buf)-pos]
	d.delim -= pos
	if d.off != 0 {
		d.off -= pos
	}
	d.lim -= pos
	if d.lt != 0 {
		d.lt -= pos
	}
	if d.gt != 0 {
		d.gt -= pos
	}
	if d.wordStart != 0 {
		d.wordStart -= pos
	}
	d.nth = floor
	d.stats = d.stats.add(StatScrubbed)
}

// putByte appends c to buf at lim, growing the buffer if needed, and tracks
// the line's tag offsets.
func (d *Digester) putByte(c byte) error {
	if err := d.growTo(d.lim + 1); err != nil {
		return err
	}
	d.buf = append(d.buf, c)
	pos := d.lim
	d.lim++

	if c == '<' && d.lt == 0 {
		d.lt = pos
	} else if c == '>' && d.lt != 0 && d.gt == 0 {
		d.gt = pos
	}
	return nil
}

// growTo ensures buf can hold at least need bytes, honoring maxBuf
// (ErrOverflow) and recovering from an allocation failure (ErrOutOfMemory).
func (d *Digester) growTo(need int) (err error) {
	if d.maxBuf > 0 && need > d.maxBuf {
		return ErrOverflow
	}
	if cap(d.buf) >= need {
		return nil
	}
	newCap := need * 2
	if newCap < need { // int overflow
		return ErrOverflow
	}
	if d.maxBuf > 0 && newCap > d.maxBuf {
		newCap = d.maxBuf
	}
	defer func() {
		if r := recover(); r != nil {
			err = ErrOutOfMemory
		}
	}()
	grown := make([]byte, len(d.buf), newCap)
	copy(grown, d.buf)
	d.buf = grown
	return nil
}
