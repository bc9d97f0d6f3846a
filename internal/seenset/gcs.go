package seenset

import (
	"errors"
	"math"
	"math/bits"
	"sort"

	"github.com/spaolacci/murmur3"

	"github.com/gosuda/bitchat-mesh/internal/packet"
)

// MaxAcceptFilterBytes bounds how large an incoming REQUEST_SYNC filter
// may be before it is rejected outright (§4.4 receiver-side safety).
const MaxAcceptFilterBytes = 1024

var (
	ErrFilterTooLarge  = errors.New("gcs: filter exceeds MaxAcceptFilterBytes")
	ErrInvalidP        = errors.New("gcs: P must be >= 1")
	ErrInvalidM        = errors.New("gcs: M must be > 0")
	ErrTruncatedStream = errors.New("gcs: bitstream ended mid-codeword")
)

// Filter is a decoded/encodable Golomb-Coded Set: a compact,
// probabilistic, ordered-set membership structure with false-positive
// rate p ~= 2^-P (§4.4).
type Filter struct {
	P    int
	M    uint64
	N    uint64 // number of encoded elements, needed to stop decoding at the last real codeword
	Bits []byte
}

// Params derives (P, N_max) from a byte budget and a target
// false-positive rate, per §4.4:
//
//	P = max(1, round(-log2(target_fpr)))
//	N_max ~= max_bytes * 8 / (P + 1.44)
func Params(maxBytes int, targetFPR float64) (p int, nMax int) {
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.01
	}
	p = int(math.Round(-math.Log2(targetFPR)))
	if p < 1 {
		p = 1
	}
	nMax = int(float64(maxBytes) * 8 / (float64(p) + 1.44))
	if nMax < 1 {
		nMax = 1
	}
	return p, nMax
}

// mapToRange hashes id with murmur3 and Lemire's multiply-shift
// reduction to land uniformly in [0, m) without modulo bias.
func mapToRange(id []byte, m uint64) uint64 {
	h := murmur3.Sum64(id)
	hi, _ := bits.Mul64(h, m)
	return hi
}

// Build encodes ids into a Filter with the given P. M is derived as
// len(ids) * 2^P per §4.4.
func Build(p int, ids []packet.ID) (*Filter, error) {
	if p < 1 {
		return nil, ErrInvalidP
	}
	n := uint64(len(ids))
	if n == 0 {
		n = 1 // avoid an M of zero for an empty set; no elements to encode
	}
	m := n << uint(p)

	values := make([]uint64, len(ids))
	for i, id := range ids {
		values[i] = mapToRange([]byte(id), m)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	bw := newBitWriter()
	var prev uint64
	for _, v := range values {
		delta := v - prev
		prev = v
		writeGolombRice(bw, delta, p)
	}

	return &Filter{P: p, M: m, N: uint64(len(ids)), Bits: bw.bytes()}, nil
}

// Contains reports whether x's mapped value appears in the filter.
// False positives are possible by construction; false negatives are
// not (§8.3 soundness).
func (f *Filter) Contains(id packet.ID) bool {
	mapped := mapToRange([]byte(id), f.M)
	values := f.decodeAll()
	idx := sort.Search(len(values), func(i int) bool { return values[i] >= mapped })
	return idx < len(values) && values[idx] == mapped
}

func (f *Filter) decodeAll() []uint64 {
	br := newBitReader(f.Bits)
	values := make([]uint64, 0, f.N)
	var running uint64
	for i := uint64(0); i < f.N; i++ {
		delta, ok := readGolombRice(br, f.P)
		if !ok {
			break
		}
		running += delta
		values = append(values, running)
	}
	return values
}

// Validate enforces the receiver-side safety checks from §4.4/§4.8:
// reject oversize filters and nonsensical parameters.
func Validate(dataLen int, p int, m uint64) error {
	if dataLen > MaxAcceptFilterBytes {
		return ErrFilterTooLarge
	}
	if p < 1 {
		return ErrInvalidP
	}
	if m == 0 {
		return ErrInvalidM
	}
	return nil
}

// --- bit-level codec ---
//
// Golomb-Rice codewords have no byte alignment, so the GCS encoding
// needs its own bit writer/reader; no third-party bit-packing library
// in the example pack offers this specific unary+fixed-remainder shape
// (see DESIGN.md).

type bitWriter struct {
	buf     []byte
	bitPos  int // next bit to write within buf's last byte, 0-7 MSB-first
}

func newBitWriter() *bitWriter {
	return &bitWriter{}
}

func (w *bitWriter) writeBit(b uint8) {
	if w.bitPos == 0 {
		w.buf = append(w.buf, 0)
	}
	if b != 0 {
		w.buf[len(w.buf)-1] |= 1 << (7 - w.bitPos)
	}
	w.bitPos = (w.bitPos + 1) % 8
}

func (w *bitWriter) bytes() []byte {
	return w.buf
}

type bitReader struct {
	buf    []byte
	bytePos int
	bitPos  int
}

func newBitReader(buf []byte) *bitReader {
	return &bitReader{buf: buf}
}

func (r *bitReader) readBit() (uint8, bool) {
	if r.bytePos >= len(r.buf) {
		return 0, false
	}
	b := (r.buf[r.bytePos] >> (7 - r.bitPos)) & 1
	r.bitPos++
	if r.bitPos == 8 {
		r.bitPos = 0
		r.bytePos++
	}
	return b, true
}

// writeGolombRice encodes delta as floor(delta/2^p) unary-ones
// terminated by a zero, followed by the low p bits (§4.4).
func writeGolombRice(w *bitWriter, delta uint64, p int) {
	q := delta >> uint(p)
	for i := uint64(0); i < q; i++ {
		w.writeBit(1)
	}
	w.writeBit(0)
	for i := p - 1; i >= 0; i-- {
		w.writeBit(uint8((delta >> uint(i)) & 1))
	}
}

// readGolombRice decodes one codeword. ok is false when the stream ends
// mid-codeword (treated as end-of-stream: tolerate trailing pad). Trailing
// zero padding long enough to hold a codeword decodes as a zero delta, so
// callers bound the number of reads by Filter.N.
func readGolombRice(r *bitReader, p int) (uint64, bool) {
	var q uint64
	for {
		b, ok := r.readBit()
		if !ok {
			return 0, false
		}
		if b == 0 {
			break
		}
		q++
	}
	var rem uint64
	for i := 0; i < p; i++ {
		b, ok := r.readBit()
		if !ok {
			return 0, false
		}
		rem = rem<<1 | uint64(b)
	}
	return q<<uint(p) | rem, true
}
