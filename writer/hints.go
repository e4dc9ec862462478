package writer

import (
	"bytes"
)

// bitWriter packs values MSB-first into a byte buffer, as required by the
// linearization hint table encoding.
type bitWriter struct {
	buf   bytes.Buffer
	cur   byte
	nbits uint
}

// writeBits writes the low `bits` bits of `val`, most significant first.
func (bw *bitWriter) writeBits(val uint64, bits uint) {
	for i := int(bits) - 1; i >= 0; i-- {
		bit := byte((val >> uint(i)) & 1)
		bw.cur = (bw.cur << 1) | bit
		bw.nbits++
		if bw.nbits == 8 {
			bw.buf.WriteByte(bw.cur)
			bw.cur = 0
			bw.nbits = 0
		}
	}
}

// flush pads the current partial byte with zero bits.
func (bw *bitWriter) flush() {
	if bw.nbits > 0 {
		bw.cur <<= 8 - bw.nbits
		bw.buf.WriteByte(bw.cur)
		bw.cur = 0
		bw.nbits = 0
	}
}

func (bw *bitWriter) bytes() []byte {
	bw.flush()
	return bw.buf.Bytes()
}

// nbits returns the number of bits required to represent `v`.
func nbits(v uint64) uint {
	var n uint = 1
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

// pageHintInfo carries the per-page values needed for the page offset
// hint table. Offsets and lengths exclude the hint stream bytes.
type pageHintInfo struct {
	nObjects   int
	offset     int64
	length     int64
	sharedRefs []int // indices into the shared object table
}

// sharedHintInfo carries the per-shared-object values for the shared
// object hint table.
type sharedHintInfo struct {
	firstObjectNum int
	firstOffset    int64
	nFirstPage     int
	groupLengths   []int64
}

// outlineHintInfo carries the outline hint table values, emitted only
// when the document opens with outlines visible.
type outlineHintInfo struct {
	firstObjectNum int
	offset         int64
	nObjects       int
	groupLength    int64
}

// hintTables is the assembled uncompressed hint stream payload plus the
// byte offsets of the auxiliary tables within it.
type hintTables struct {
	data          []byte
	sharedOffset  int
	outlineOffset int // 0 when absent
}

// buildHintTables packs the page offset hint table, the shared object
// hint table and (optionally) the outline hint table.
func buildHintTables(pages []pageHintInfo, shared sharedHintInfo, outline *outlineHintInfo) hintTables {
	var bw bitWriter

	// Page offset hint table header.
	minObjects := int64(1 << 31)
	maxObjects := int64(0)
	minLength := int64(1 << 62)
	maxLength := int64(0)
	maxSharedRefs := int64(0)
	for _, p := range pages {
		if int64(p.nObjects) < minObjects {
			minObjects = int64(p.nObjects)
		}
		if int64(p.nObjects) > maxObjects {
			maxObjects = int64(p.nObjects)
		}
		if p.length < minLength {
			minLength = p.length
		}
		if p.length > maxLength {
			maxLength = p.length
		}
		if int64(len(p.sharedRefs)) > maxSharedRefs {
			maxSharedRefs = int64(len(p.sharedRefs))
		}
	}
	if len(pages) == 0 {
		minObjects, minLength = 0, 0
	}

	objBits := nbits(uint64(maxObjects - minObjects))
	lenBits := nbits(uint64(maxLength - minLength))
	sharedCountBits := nbits(uint64(maxSharedRefs))
	sharedIDBits := nbits(uint64(len(shared.groupLengths)))

	var firstPageOffset int64
	if len(pages) > 0 {
		firstPageOffset = pages[0].offset
	}

	// Header items 1-13 (Table F.3).
	bw.writeBits(uint64(minObjects), 32)
	bw.writeBits(uint64(firstPageOffset), 32)
	bw.writeBits(uint64(objBits), 16)
	bw.writeBits(uint64(minLength), 32)
	bw.writeBits(uint64(lenBits), 16)
	bw.writeBits(0, 32) // least content stream offset
	bw.writeBits(32, 16)
	bw.writeBits(0, 32) // least content stream length
	bw.writeBits(32, 16)
	bw.writeBits(uint64(sharedCountBits), 16)
	bw.writeBits(uint64(sharedIDBits), 16)
	bw.writeBits(1, 16) // bits for fraction numerator
	bw.writeBits(1, 16) // fraction denominator

	// Per-page items, each item repeated for every page (Table F.4).
	for _, p := range pages {
		bw.writeBits(uint64(int64(p.nObjects)-minObjects), objBits)
	}
	for _, p := range pages {
		bw.writeBits(uint64(p.length-minLength), lenBits)
	}
	for _, p := range pages {
		bw.writeBits(uint64(len(p.sharedRefs)), sharedCountBits)
	}
	for _, p := range pages {
		for _, id := range p.sharedRefs {
			bw.writeBits(uint64(id), sharedIDBits)
		}
	}
	for _, p := range pages {
		for range p.sharedRefs {
			bw.writeBits(0, 1) // fraction numerator
		}
	}
	for range pages {
		bw.writeBits(0, 32) // content stream offset delta
	}
	for range pages {
		bw.writeBits(0, 32) // content stream length delta
	}
	bw.flush()

	sharedOffset := bw.buf.Len()

	// Shared object hint table header (Table F.5).
	minGroup := int64(1 << 62)
	maxGroup := int64(0)
	for _, g := range shared.groupLengths {
		if g < minGroup {
			minGroup = g
		}
		if g > maxGroup {
			maxGroup = g
		}
	}
	if len(shared.groupLengths) == 0 {
		minGroup = 0
	}
	groupBits := nbits(uint64(maxGroup - minGroup))

	bw.writeBits(uint64(shared.firstObjectNum), 32)
	bw.writeBits(uint64(shared.firstOffset), 32)
	bw.writeBits(uint64(shared.nFirstPage), 32)
	bw.writeBits(uint64(len(shared.groupLengths)), 32)
	bw.writeBits(uint64(groupBits), 16)
	bw.writeBits(uint64(minGroup), 32)

	// Per shared object: delta group length, no signature, single-object
	// groups (Table F.6).
	for _, g := range shared.groupLengths {
		bw.writeBits(uint64(g-minGroup), groupBits)
	}
	for range shared.groupLengths {
		bw.writeBits(0, 1) // signature present flag
	}
	for range shared.groupLengths {
		bw.writeBits(0, 1) // number of objects in group minus one
	}
	bw.flush()

	outlineOffset := 0
	if outline != nil {
		outlineOffset = bw.buf.Len()
		bw.writeBits(uint64(outline.firstObjectNum), 32)
		bw.writeBits(uint64(outline.offset), 32)
		bw.writeBits(uint64(outline.nObjects), 32)
		bw.writeBits(uint64(outline.groupLength), 32)
		bw.flush()
	}

	return hintTables{
		data:          bw.bytes(),
		sharedOffset:  sharedOffset,
		outlineOffset: outlineOffset,
	}
}
