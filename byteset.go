package pyzordigest

// byteSet is a compact 256-bit membership set, one bit per byte value.
//
// Grounded on influxdata/line-protocol's internal byteSet ([4]uint64 with
// get/set/union/invert); reused here for the Tokenizer's space and alpha
// character classes instead of a [256]bool table.
type byteSet [4]uint64

func newByteSet(s string) *byteSet {
	var set byteSet
	for i := 0; i < len(s); i++ {
		set.set(s[i])
	}
	return &set
}

func (b *byteSet) get(x uint8) bool {
	return b[x>>6]&(1<<(x&63)) != 0
}

func (b *byteSet) set(x uint8) {
	b[x>>6] |= 1 << (x & 63)
}

var (
	// spaceBytes holds every byte the Tokenizer treats as whitespace,
	// including the newline that also closes a line (spec.md §4.1).
	spaceBytes = newByteSet(" \t\n\v\f\r")

	// alphaBytes holds ASCII letters; spec.md explicitly scopes the
	// Tokenizer to ASCII classification (no Unicode letter tables).
	alphaBytes = newByteSet("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz")
)

func isSpace(c byte) bool { return spaceBytes.get(c) }
func isAlpha(c byte) bool { return alphaBytes.get(c) }
