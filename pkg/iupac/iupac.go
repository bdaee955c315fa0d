// Package iupac implements the small set of sequence-alphabet
// primitives shared across steps, the BAM reader, and the
// demultiplexer: base complementing, IUPAC-tolerant matching, and
// Hamming distance.
package iupac

// complement maps every IUPAC ambiguity code (ASCII, upper and lower
// case) to its canonical complement. U maps to A (RNA); unrecognized
// bytes map to themselves so non-IUPAC input round-trips unchanged
// (flagged invalid by validation steps, not silently mutated further).
var complement = buildComplement()

func buildComplement() [256]byte {
	var t [256]byte
	for i := range t {
		t[i] = byte(i)
	}
	pairs := map[byte]byte{
		'A': 'T', 'T': 'A', 'C': 'G', 'G': 'C', 'U': 'A',
		'R': 'Y', 'Y': 'R', 'S': 'S', 'W': 'W', 'K': 'M', 'M': 'K',
		'B': 'V', 'V': 'B', 'D': 'H', 'H': 'D', 'N': 'N',
	}
	for k, v := range pairs {
		t[k] = v
		t[k+32] = v + 32 // lowercase
		if k == 'U' {
			continue // U -> A is one-way; A stays paired with T
		}
		t[v] = k
		t[v+32] = k + 32
	}
	return t
}

// Complement returns the canonical complement of one IUPAC base byte.
func Complement(b byte) byte {
	return complement[b]
}

// ReverseComplementInto writes the reverse complement of src into dst,
// which must have the same length as src. dst and src may overlap only
// if they are identical slices (in-place reversal).
func ReverseComplementInto(dst, src []byte) {
	n := len(src)
	if &dst[0] == &src[0] {
		for i, j := 0, n-1; i <= j; i, j = i+1, j-1 {
			a, b := complement[src[i]], complement[src[j]]
			dst[i], dst[j] = b, a
		}
		return
	}
	for i := 0; i < n; i++ {
		dst[i] = complement[src[n-1-i]]
	}
}

// ambiguitySets maps each upper-case IUPAC code to the set of concrete
// bases it stands for; MatchesIUPAC uses it for ambiguity-code overlap.
var ambiguitySets = map[byte]string{
	'A': "A", 'C': "C", 'G': "G", 'T': "T", 'U': "T",
	'R': "AG", 'Y': "CT", 'S': "GC", 'W': "AT", 'K': "GT", 'M': "AC",
	'B': "CGT", 'D': "AGT", 'H': "ACT", 'V': "ACG", 'N': "ACGT",
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 32
	}
	return b
}

// MatchesIUPAC reports whether observed satisfies the ambiguity code
// pattern (case-insensitive).
func MatchesIUPAC(pattern, observed byte) bool {
	pset, ok := ambiguitySets[upper(pattern)]
	if !ok {
		return upper(pattern) == upper(observed)
	}
	oset, ok := ambiguitySets[upper(observed)]
	if !ok {
		return false
	}
	for i := 0; i < len(oset); i++ {
		for j := 0; j < len(pset); j++ {
			if oset[i] == pset[j] {
				return true
			}
		}
	}
	return false
}

// MismatchCount counts positions where pattern (IUPAC) does not match
// text over min(len(pattern), len(text)) positions.
func MismatchCount(pattern, text []byte) int {
	n := len(pattern)
	if len(text) < n {
		n = len(text)
	}
	mismatches := 0
	for i := 0; i < n; i++ {
		if !MatchesIUPAC(pattern[i], text[i]) {
			mismatches++
		}
	}
	return mismatches
}

// Hamming returns the Hamming distance between two equal-length byte
// strings (exact base comparison, not IUPAC-tolerant); used by the
// demultiplexer's barcode assignment. Unequal lengths compare only
// over the shorter length, with the length difference added in full.
func Hamming(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	d := 0
	for i := 0; i < n; i++ {
		if upper(a[i]) != upper(b[i]) {
			d++
		}
	}
	d += abs(len(a) - len(b))
	return d
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
