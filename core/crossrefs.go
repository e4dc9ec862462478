package core

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/pdfmill/pdfmill/common"
)

// xrefType indicates the type of a cross-reference entry, which is either
// a regular table entry or an entry in an object stream.
type xrefType int

const (
	// XrefTypeTableEntry indicates a normal xref table entry (uncompressed
	// object located by file offset).
	XrefTypeTableEntry xrefType = iota

	// XrefTypeObjectStream indicates an xref entry pointing inside a
	// compressed object stream.
	XrefTypeObjectStream
)

// XrefEntry defines a cross reference entry: a map between an object
// number (with generation number) and the location of the actual object,
// either as a file offset (table entry), or as a position within an
// object stream.
type XrefEntry struct {
	XType        xrefType
	ObjectNumber int
	Generation   int
	// For normal xrefs (defined by offset).
	Offset int64
	// For xrefs to object streams.
	OsObjNumber int
	OsObjIndex  int
}

// XrefTable represents the cross references of a PDF: the table of
// object locations within the file.
type XrefTable struct {
	ObjectMap map[int]XrefEntry // Maps object number to XrefEntry.

	// List of objects sorted by offset (only objects with offsets, not
	// ones in streams).
	sortedObjects []XrefEntry
}

// objectStream caches an object stream's decoded state: number of
// contained objects and the offset of each within the decoded data.
type objectStream struct {
	N       int
	ds      []byte
	offsets map[int]int64
}

// objectStreams maps container object numbers to their decoded state, so
// that each object stream is decoded at most once.
type objectStreams map[int]objectStream

// objectCache maps object numbers to the parsed Object. Holds at most one
// live entry per object number. Replacement swaps in a new entry; an
// object handed out earlier for that number keeps its old value.
type objectCache map[int]Object

// lookupObjectViaOS returns the object numbered `objNum` from the object
// stream contained in object `sobjNumber`.
func (parser *Parser) lookupObjectViaOS(sobjNumber int, objNum int) (Object, error) {
	var bufReader *bytes.Reader
	var objstm objectStream
	var cached bool

	objstm, cached = parser.objstms[sobjNumber]
	if !cached {
		soi, err := parser.LookupByNumber(sobjNumber)
		if err != nil {
			common.Log.Debug("Missing object stream with number %d", sobjNumber)
			return nil, err
		}

		so, ok := soi.(*Stream)
		if !ok {
			return nil, errors.New("invalid object stream")
		}

		if parser.crypter != nil && !parser.crypter.isDecrypted(so) {
			return nil, errors.New("need to decrypt the stream")
		}

		sod := so.Dict
		common.Log.Trace("so d: %s\n", sod.String())
		name, ok := sod.Get("Type").(*Name)
		if !ok {
			common.Log.Debug("ERROR: Object stream should always have a Type")
			return nil, errors.New("object stream missing Type")
		}
		if strings.ToLower(string(*name)) != "objstm" {
			common.Log.Debug("ERROR: Object stream type shall always be ObjStm !")
			return nil, errors.New("object stream type != ObjStm")
		}

		N, ok := sod.Get("N").(*Integer)
		if !ok {
			return nil, errors.New("invalid N in stream dictionary")
		}
		firstOffset, ok := sod.Get("First").(*Integer)
		if !ok {
			return nil, errors.New("invalid First in stream dictionary")
		}

		common.Log.Trace("type: %s number of objects: %d", name, *N)
		ds, err := DecodeStream(so)
		if err != nil {
			return nil, err
		}

		// Temporarily point the reader at the decoded buffer, restore after.
		bakOffset := parser.GetFileOffset()
		defer func() { parser.SetFileOffset(bakOffset) }()

		bufReader = bytes.NewReader(ds)
		parser.reader = bufio.NewReader(bufReader)

		common.Log.Trace("Parsing offset map")
		// Load the offset map (relative to the beginning of the stream).
		offsets := map[int]int64{}
		prevOffset := int64(-1)
		for i := 0; i < int(*N); i++ {
			parser.skipSpaces()
			// Object number.
			obj, err := parser.parseNumber()
			if err != nil {
				return nil, err
			}
			onum, ok := obj.(*Integer)
			if !ok {
				return nil, errors.New("invalid object stream offset table")
			}

			parser.skipSpaces()
			// Offset.
			obj, err = parser.parseNumber()
			if err != nil {
				return nil, err
			}
			offset, ok := obj.(*Integer)
			if !ok {
				return nil, errors.New("invalid object stream offset table")
			}

			common.Log.Trace("obj %d offset %d", *onum, *offset)
			if int64(*offset) < prevOffset {
				// The offsets shall be in increasing order; out of order
				// entries are a sign of damage but the objects are still
				// individually reachable.
				parser.appendWarning(newParseError("object stream", int64(*offset),
					errors.New("object stream offsets not increasing")))
			}
			prevOffset = int64(*offset)

			if int64(*onum) > parser.maxObjectNumber() {
				// Cannot be a real object in a file this size.
				common.Log.Debug("Ignoring object stream entry %d beyond max id", *onum)
				continue
			}
			if int(*onum) == sobjNumber {
				// A stream claiming to contain itself is a known malformation.
				common.Log.Debug("Ignoring self-referencing object stream entry %d", *onum)
				continue
			}
			offsets[int(*onum)] = int64(*firstOffset + *offset)
		}

		objstm = objectStream{N: int(*N), ds: ds, offsets: offsets}
		parser.objstms[sobjNumber] = objstm
	} else {
		// Temporarily point the reader at the decoded buffer, restore after.
		bakOffset := parser.GetFileOffset()
		defer func() { parser.SetFileOffset(bakOffset) }()

		bufReader = bytes.NewReader(objstm.ds)
		parser.reader = bufio.NewReader(bufReader)
	}

	offset, has := objstm.offsets[objNum]
	if !has {
		common.Log.Debug("ERROR: object %d not listed in object stream %d", objNum, sobjNumber)
		return nil, errors.New("object not present in object stream")
	}
	common.Log.Trace("ACTUAL offset[%d] = %d", objNum, offset)

	bufReader.Seek(offset, io.SeekStart)
	parser.reader = bufio.NewReader(bufReader)

	bb, _ := parser.reader.Peek(100)
	common.Log.Trace("OBJ peek \"%s\"", string(bb))

	val, err := parser.parseObject()
	if err != nil {
		common.Log.Debug("ERROR Fail to read object (%s)", err)
		return nil, err
	}
	if val == nil {
		return nil, errors.New("object cannot be null")
	}

	// Make an indirect object around it.
	io := Indirect{}
	io.ObjectNumber = int64(objNum)
	io.Object = val

	return &io, nil
}

// LookupByNumber looks up an Object by object number. Returns an error on
// failure.
func (parser *Parser) LookupByNumber(objNumber int) (Object, error) {
	// Outside interface for lookupByNumberWrapper. By default attempts
	// repairs of bad xref tables.
	obj, _, err := parser.lookupByNumberWrapper(objNumber, true)
	return obj, err
}

// Wrapper for lookupByNumber, checks if the object is encrypted etc.
func (parser *Parser) lookupByNumberWrapper(objNumber int, attemptRepairs bool) (Object, bool, error) {
	obj, inObjStream, err := parser.lookupByNumber(objNumber, attemptRepairs)
	if err != nil {
		return nil, inObjStream, err
	}

	// If encrypted, decrypt it prior to returning.
	// Do not attempt to decrypt objects within object streams.
	if !inObjStream && parser.crypter != nil && !parser.crypter.isDecrypted(obj) {
		err := parser.crypter.Decrypt(obj, 0, 0)
		if err != nil {
			return nil, inObjStream, err
		}
	}

	return obj, inObjStream, nil
}

// getObjectNumber returns the object and generation number for indirect
// and stream objects. An error is returned if the type is incorrect.
func getObjectNumber(obj Object) (int64, int64, error) {
	if io, isIndirect := obj.(*Indirect); isIndirect {
		return io.ObjectNumber, io.GenerationNumber, nil
	}
	if so, isStream := obj.(*Stream); isStream {
		return so.ObjectNumber, so.GenerationNumber, nil
	}
	return 0, 0, errors.New("not an indirect/stream object")
}

// lookupByNumber is used by LookupByNumber.
// attemptRepairs signals whether to attempt repair if broken.
func (parser *Parser) lookupByNumber(objNumber int, attemptRepairs bool) (Object, bool, error) {
	if parser.closed {
		return nil, false, ErrClosed
	}

	obj, ok := parser.objCache[objNumber]
	if ok {
		common.Log.Trace("Returning cached object %d", objNumber)
		return obj, false, nil
	}

	if parser.resolving[objNumber] {
		// Cycle through object resolution. Substitute null per the spec's
		// treatment of unresolvable references.
		parser.appendWarning(newParseError("", parser.GetFileOffset(),
			errors.New("loop detected resolving object "+Integer(objNumber).WriteString())))
		var nullObj Null
		return &nullObj, false, nil
	}
	parser.resolving[objNumber] = true
	defer delete(parser.resolving, objNumber)

	xref, ok := parser.xrefs.ObjectMap[objNumber]
	if !ok {
		// An indirect reference to an undefined object shall not be
		// considered an error by a conforming reader; it shall be treated
		// as a reference to the null object.
		common.Log.Trace("Unable to locate object in xrefs! - Returning null object")
		var nullObj Null
		return &nullObj, false, nil
	}

	common.Log.Trace("Lookup obj number %d", objNumber)
	if xref.XType == XrefTypeTableEntry {
		common.Log.Trace("xref entry obj num %d gen %d offset %d", xref.ObjectNumber, xref.Generation, xref.Offset)

		parser.rs.Seek(xref.Offset, io.SeekStart)
		parser.reader = bufio.NewReader(parser.rs)

		obj, err := parser.parseIndirectObject()
		if err != nil {
			common.Log.Debug("ERROR Failed reading xref (%s)", err)
			// Offset pointing to a non-object. Try to repair the file.
			if attemptRepairs {
				common.Log.Debug("Attempting to repair xrefs (top down)")
				xrefTable, err := parser.repairRebuildXrefsTopDown()
				if err != nil {
					common.Log.Debug("ERROR Failed repair (%s)", err)
					return nil, false, err
				}
				parser.xrefs = *xrefTable
				// Drop the in-progress marker: the retry is a fresh
				// resolution, not a cycle.
				delete(parser.resolving, objNumber)
				return parser.lookupByNumber(objNumber, false)
			}
			return nil, false, err
		}

		if attemptRepairs {
			// Check the object number. If it does not match, rebuild the
			// table by looking every entry up and correcting entries.
			realObjNum, _, _ := getObjectNumber(obj)
			if int(realObjNum) != objNumber {
				common.Log.Debug("Invalid xrefs: Rebuilding")
				err := parser.rebuildXrefTable()
				if err != nil {
					return nil, false, err
				}
				// Empty the cache.
				parser.objCache = objectCache{}
				delete(parser.resolving, objNumber)
				// Try looking up again and return.
				return parser.lookupByNumberWrapper(objNumber, false)
			}
		}

		common.Log.Trace("Returning obj")
		parser.objCache[objNumber] = obj
		return obj, false, nil
	} else if xref.XType == XrefTypeObjectStream {
		common.Log.Trace("xref from object stream!")
		common.Log.Trace("Object stream available in object %d/%d", xref.OsObjNumber, xref.OsObjIndex)

		if xref.OsObjNumber == objNumber {
			common.Log.Debug("ERROR Circular reference!?!")
			return nil, true, errors.New("xref circular reference")
		}

		if _, exists := parser.xrefs.ObjectMap[xref.OsObjNumber]; exists {
			optr, err := parser.lookupObjectViaOS(xref.OsObjNumber, objNumber)
			if err != nil {
				common.Log.Debug("ERROR Returning ERR (%s)", err)
				return nil, true, err
			}
			common.Log.Trace("<Loaded via OS")
			parser.objCache[objNumber] = optr
			if parser.crypter != nil {
				// Mark as decrypted (inside object stream) for caching,
				// avoiding decrypting an already decrypted object.
				parser.crypter.decryptedObjects[optr] = true
			}
			return optr, true, nil
		}

		common.Log.Debug("?? Belongs to a non-cross referenced object ...!")
		return nil, true, errors.New("os belongs to a non cross referenced object")
	}
	return nil, false, errors.New("unknown xref type")
}

// LookupByReference looks up an Object by a reference.
func (parser *Parser) LookupByReference(ref Reference) (Object, error) {
	common.Log.Trace("Looking up reference %s", ref.String())
	return parser.LookupByNumber(int(ref.ObjectNumber))
}

// Resolve resolves an Object to a direct object, looking up and resolving
// references through this parser as needed. Lookup errors are returned
// (TraceToDirect substitutes a null object instead).
func (parser *Parser) Resolve(obj Object) (Object, error) {
	ref, isRef := obj.(*Reference)
	if !isRef {
		// Direct object already.
		return obj, nil
	}

	bakOffset := parser.GetFileOffset()
	defer func() { parser.SetFileOffset(bakOffset) }()

	o, err := parser.LookupByReference(*ref)
	if err != nil {
		return nil, err
	}

	io, isInd := o.(*Indirect)
	if !isInd {
		// Not indirect (Stream or null object).
		return o, nil
	}
	o = io.Object
	_, isRef = o.(*Reference)
	if isRef {
		return io, errors.New("multi depth trace pointer to pointer")
	}

	return o, nil
}

// resolveReference resolves a reference, returning the object and whether
// it was cached.
func (parser *Parser) resolveReference(ref *Reference) (Object, bool, error) {
	cachedObj, isCached := parser.objCache[int(ref.ObjectNumber)]
	if isCached {
		return cachedObj, true, nil
	}
	obj, err := parser.LookupByReference(*ref)
	if err != nil {
		return nil, false, err
	}
	parser.objCache[int(ref.ObjectNumber)] = obj
	return obj, false, nil
}

// Replace installs `obj` as the value of object number `objNum`. Lookups
// made after the call return `obj`; an object returned for `objNum` before
// the call is not modified and does not reflect the change.
func (parser *Parser) Replace(objNum int, obj Object) {
	switch t := obj.(type) {
	case *Indirect:
		t.ObjectNumber = int64(objNum)
	case *Stream:
		t.ObjectNumber = int64(objNum)
	}
	parser.objCache[objNum] = obj
	if _, has := parser.xrefs.ObjectMap[objNum]; !has {
		parser.xrefs.ObjectMap[objNum] = XrefEntry{
			XType:        XrefTypeTableEntry,
			ObjectNumber: objNum,
		}
	}
}

// Swap exchanges the objects stored under two object numbers. Both must
// resolve. Useful for incremental-update style workflows.
func (parser *Parser) Swap(a, b int) error {
	objA, err := parser.LookupByNumber(a)
	if err != nil {
		return err
	}
	objB, err := parser.LookupByNumber(b)
	if err != nil {
		return err
	}
	parser.Replace(a, objB)
	parser.Replace(b, objA)
	return nil
}

// MakeIndirect allocates the next free object number (monotonically;
// numbers are never reused) and installs `obj` under it. The wrapped
// indirect object is returned.
func (parser *Parser) MakeIndirect(obj Object) *Indirect {
	next := 0
	for objNum := range parser.xrefs.ObjectMap {
		if objNum > next {
			next = objNum
		}
	}
	next++

	ind := MakeIndirectObject(obj)
	ind.ObjectNumber = int64(next)
	ind.parser = parser
	parser.Replace(next, ind)
	return ind
}

// AllObjects forces resolution of every xref entry and returns the live
// objects in object number order. Entries that fail to resolve surface as
// null objects, per the treatment of dangling references.
func (parser *Parser) AllObjects() ([]Object, error) {
	var out []Object
	for _, objNum := range parser.GetObjectNums() {
		obj, err := parser.LookupByNumber(objNum)
		if err != nil {
			if err == ErrClosed {
				return nil, err
			}
			parser.appendWarning(newParseError("", 0, err))
			obj = MakeNull()
		}
		out = append(out, obj)
	}
	return out, nil
}

// Erase disconnects the object numbered `objNum` from the document by
// replacing it with null.
func (parser *Parser) Erase(objNum int) {
	ind := MakeIndirectObject(MakeNull())
	ind.ObjectNumber = int64(objNum)
	parser.objCache[objNum] = ind
}

func printXrefTable(xrefTable XrefTable) {
	common.Log.Debug("=X=X=X=")
	common.Log.Debug("Xref table:")
	i := 0
	for _, xref := range xrefTable.ObjectMap {
		common.Log.Debug("i+1: %d (obj num: %d gen: %d) -> %d", i+1, xref.ObjectNumber, xref.Generation, xref.Offset)
		i++
	}
}
