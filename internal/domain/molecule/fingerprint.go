package molecule

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
	"sort"

	"github.com/GUI0609/rdkit/pkg/errors"
)

// FingerprintKind distinguishes the two vector families stored in the
// fingerprint tables.  The value doubles as the leading tag byte of the
// encoded form.
type FingerprintKind byte

const (
	KindBits   FingerprintKind = 'B'
	KindCounts FingerprintKind = 'C'
)

func (k FingerprintKind) String() string {
	switch k {
	case KindBits:
		return "bits"
	case KindCounts:
		return "counts"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Fingerprint is an opaque comparable molecule signature.
type Fingerprint interface {
	Kind() FingerprintKind
	// Size is the bit length of a BitVector or the index space of a
	// CountVector.
	Size() int
}

// ─────────────────────────────────────────────────────────────────────────────
// BitVector
// ─────────────────────────────────────────────────────────────────────────────

// BitVector is a dense fixed-length bit vector.
type BitVector struct {
	n     int
	words []uint64
}

// NewBitVector returns an all-zero vector of n bits.
func NewBitVector(n int) *BitVector {
	return &BitVector{n: n, words: make([]uint64, (n+63)/64)}
}

// BitVectorFromOnBits builds a vector of n bits with the given bits set.
// Out-of-range indices are ignored.
func BitVectorFromOnBits(n int, on ...int) *BitVector {
	bv := NewBitVector(n)
	for _, i := range on {
		bv.Set(i)
	}
	return bv
}

func (bv *BitVector) Kind() FingerprintKind { return KindBits }
func (bv *BitVector) Size() int             { return bv.n }

// Set turns bit i on.
func (bv *BitVector) Set(i int) {
	if i < 0 || i >= bv.n {
		return
	}
	bv.words[i>>6] |= 1 << (uint(i) & 63)
}

// Test reports whether bit i is on.
func (bv *BitVector) Test(i int) bool {
	if i < 0 || i >= bv.n {
		return false
	}
	return bv.words[i>>6]&(1<<(uint(i)&63)) != 0
}

// Count returns the number of on bits.
func (bv *BitVector) Count() int {
	c := 0
	for _, w := range bv.words {
		c += bits.OnesCount64(w)
	}
	return c
}

// OnBits lists the on bits in ascending order.
func (bv *BitVector) OnBits() []int {
	out := make([]int, 0, bv.Count())
	for wi, w := range bv.words {
		for w != 0 {
			t := bits.TrailingZeros64(w)
			out = append(out, wi*64+t)
			w &= w - 1
		}
	}
	return out
}

// Fold ORs the vector down to n bits (bit i lands on i mod n).
func (bv *BitVector) Fold(n int) *BitVector {
	if n >= bv.n || n <= 0 {
		return bv
	}
	out := NewBitVector(n)
	for _, i := range bv.OnBits() {
		out.Set(i % n)
	}
	return out
}

// intersectCount returns |a & b| for vectors of equal length.
func intersectCount(a, b *BitVector) int {
	c := 0
	for i := range a.words {
		c += bits.OnesCount64(a.words[i] & b.words[i])
	}
	return c
}

// ─────────────────────────────────────────────────────────────────────────────
// CountVector
// ─────────────────────────────────────────────────────────────────────────────

// CountVector is a sparse vector of non-negative feature counts, kept
// sorted by index.
type CountVector struct {
	size   int
	idx    []uint32
	counts []uint32
}

// NewCountVector builds a sparse vector over [0,size) from a feature map.
// Zero counts and out-of-range indices are dropped.
func NewCountVector(size int, features map[uint32]uint32) *CountVector {
	cv := &CountVector{size: size, idx: make([]uint32, 0, len(features))}
	for i, c := range features {
		if c == 0 || int(i) >= size {
			continue
		}
		cv.idx = append(cv.idx, i)
	}
	sort.Slice(cv.idx, func(a, b int) bool { return cv.idx[a] < cv.idx[b] })
	cv.counts = make([]uint32, len(cv.idx))
	for k, i := range cv.idx {
		cv.counts[k] = features[i]
	}
	return cv
}

func (cv *CountVector) Kind() FingerprintKind { return KindCounts }
func (cv *CountVector) Size() int             { return cv.size }

// NonZero returns the number of populated features.
func (cv *CountVector) NonZero() int { return len(cv.idx) }

// Get returns the count for feature i.
func (cv *CountVector) Get(i uint32) uint32 {
	k := sort.Search(len(cv.idx), func(k int) bool { return cv.idx[k] >= i })
	if k < len(cv.idx) && cv.idx[k] == i {
		return cv.counts[k]
	}
	return 0
}

// Total returns the sum of all counts.
func (cv *CountVector) Total() uint64 {
	var t uint64
	for _, c := range cv.counts {
		t += uint64(c)
	}
	return t
}

// sumMin returns Σ min(a_i, b_i) by merging the sorted index lists.
func sumMin(a, b *CountVector) uint64 {
	var s uint64
	i, j := 0, 0
	for i < len(a.idx) && j < len(b.idx) {
		switch {
		case a.idx[i] < b.idx[j]:
			i++
		case a.idx[i] > b.idx[j]:
			j++
		default:
			if a.counts[i] < b.counts[j] {
				s += uint64(a.counts[i])
			} else {
				s += uint64(b.counts[j])
			}
			i++
			j++
		}
	}
	return s
}

// ─────────────────────────────────────────────────────────────────────────────
// Codec
// ─────────────────────────────────────────────────────────────────────────────

// EncodeFingerprint serializes fp for the fingerprint tables.
//
//	bits:   'B' uvarint(n) word0..wordK (little-endian uint64)
//	counts: 'C' uvarint(size) uvarint(nnz) { uvarint(idx delta) uvarint(count) }*
func EncodeFingerprint(fp Fingerprint) ([]byte, error) {
	switch v := fp.(type) {
	case *BitVector:
		buf := make([]byte, 0, 1+binary.MaxVarintLen64+8*len(v.words))
		buf = append(buf, byte(KindBits))
		buf = binary.AppendUvarint(buf, uint64(v.n))
		for _, w := range v.words {
			buf = binary.LittleEndian.AppendUint64(buf, w)
		}
		return buf, nil
	case *CountVector:
		buf := make([]byte, 0, 1+2*binary.MaxVarintLen64+4*len(v.idx))
		buf = append(buf, byte(KindCounts))
		buf = binary.AppendUvarint(buf, uint64(v.size))
		buf = binary.AppendUvarint(buf, uint64(len(v.idx)))
		var last uint32
		for k, i := range v.idx {
			buf = binary.AppendUvarint(buf, uint64(i-last))
			buf = binary.AppendUvarint(buf, uint64(v.counts[k]))
			last = i
		}
		return buf, nil
	case nil:
		return nil, errors.New(errors.CodeInvalidParam, "nil fingerprint")
	default:
		return nil, errors.New(errors.ErrCodeFingerprintTypeUnsupported,
			fmt.Sprintf("cannot encode fingerprint of type %T", fp))
	}
}

// DecodeFingerprint parses the output of EncodeFingerprint.  Every failure
// carries MOL_010.
func DecodeFingerprint(data []byte) (Fingerprint, error) {
	if len(data) == 0 {
		return nil, decodeErr("empty fingerprint blob")
	}
	rest := data[1:]
	switch FingerprintKind(data[0]) {
	case KindBits:
		n, k := binary.Uvarint(rest)
		if k <= 0 {
			return nil, decodeErr("bad bit length")
		}
		rest = rest[k:]
		// n must fit the payload before it is trusted as an int.
		if n > uint64(8*len(rest)) || n > math.MaxInt32 {
			return nil, decodeErr(fmt.Sprintf("bit length %d exceeds %d bytes of bit data", n, len(rest)))
		}
		nWords := (int(n) + 63) / 64
		if len(rest) != 8*nWords {
			return nil, decodeErr(fmt.Sprintf("expected %d bytes of bit data, got %d", 8*nWords, len(rest)))
		}
		bv := NewBitVector(int(n))
		for i := range bv.words {
			bv.words[i] = binary.LittleEndian.Uint64(rest[8*i:])
		}
		if tail := uint(n) & 63; tail != 0 && bv.words[nWords-1]>>tail != 0 {
			return nil, decodeErr("bits set beyond vector length")
		}
		return bv, nil
	case KindCounts:
		size, k := binary.Uvarint(rest)
		if k <= 0 || size > math.MaxInt32 {
			return nil, decodeErr("bad vector size")
		}
		rest = rest[k:]
		nnz, k := binary.Uvarint(rest)
		if k <= 0 || nnz > uint64(len(rest)) {
			return nil, decodeErr("bad entry count")
		}
		rest = rest[k:]
		cv := &CountVector{size: int(size), idx: make([]uint32, 0, nnz), counts: make([]uint32, 0, nnz)}
		var last uint64
		for e := uint64(0); e < nnz; e++ {
			d, k1 := binary.Uvarint(rest)
			if k1 <= 0 {
				return nil, decodeErr("truncated index")
			}
			rest = rest[k1:]
			c, k2 := binary.Uvarint(rest)
			if k2 <= 0 {
				return nil, decodeErr("truncated count")
			}
			rest = rest[k2:]
			i := last + d
			if (e > 0 && d == 0) || i >= size {
				return nil, decodeErr("index out of order or range")
			}
			cv.idx = append(cv.idx, uint32(i))
			cv.counts = append(cv.counts, uint32(c))
			last = i
		}
		if len(rest) != 0 {
			return nil, decodeErr("trailing bytes")
		}
		return cv, nil
	default:
		return nil, decodeErr(fmt.Sprintf("unknown fingerprint tag 0x%02x", data[0]))
	}
}

func decodeErr(msg string) error {
	return errors.New(errors.ErrCodeFingerprintDecodeFailed, msg)
}
