// Package writer produces well-formed PDF output from an object graph,
// either built programmatically or loaded through the core parser. It
// supports classical and stream cross-reference sections, compressed
// object streams, encryption and linearized ("web optimized") layout.
package writer

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pdfmill/pdfmill/common"
	"github.com/pdfmill/pdfmill/core"
)

// ObjectStreamMode controls whether compressed object streams are emitted.
type ObjectStreamMode string

const (
	// ObjectStreamDisable writes every object standalone.
	ObjectStreamDisable = ObjectStreamMode("disable")
	// ObjectStreamPreserve keeps objects that were compressed in the
	// source inside object streams.
	ObjectStreamPreserve = ObjectStreamMode("preserve")
	// ObjectStreamGenerate packs all eligible objects into object streams.
	ObjectStreamGenerate = ObjectStreamMode("generate")
)

// StreamDataMode controls whether stream payloads are re-coded on write.
type StreamDataMode string

const (
	// StreamDataPreserve keeps stream payloads exactly as read.
	StreamDataPreserve = StreamDataMode("preserve")
	// StreamDataUncompress strips the generalized filters from streams
	// that can be decoded losslessly.
	StreamDataUncompress = StreamDataMode("uncompress")
	// StreamDataCompress adds Flate to streams lacking compression.
	StreamDataCompress = StreamDataMode("compress")
)

// Opts carries the writer configuration. The zero value selects the
// defaults: preserve object streams and stream data, standard layout.
type Opts struct {
	ObjectStreamMode string `validate:"omitempty,oneof=disable preserve generate"`
	StreamDataMode   string `validate:"omitempty,oneof=preserve uncompress compress"`
	// Linearize produces a web-optimized layout. Forces the object
	// stream mode to disable.
	Linearize bool
	// QDF selects a human-readable layout: uncompressed streams,
	// standalone objects and a classical cross-reference table. Excludes
	// linearization.
	QDF bool
	// MinVersion clamps the emitted header version from below, e.g. "1.5".
	MinVersion string `validate:"omitempty,len=3"`
	// ForceVersion overrides the emitted header version outright.
	ForceVersion string `validate:"omitempty,len=3"`
}

var optsValidator = validator.New()

// Validate checks the option values.
func (o *Opts) Validate() error {
	return optsValidator.Struct(o)
}

// crossReference is an entry of the cross reference section being built:
// type 0 (free), type 1 (offset) or type 2 (inside object stream).
type crossReference struct {
	Type int
	// Type 1
	Offset     int64
	Generation int64 // and Type 0
	// Type 2
	ObjectNumber int // and Type 0
	Index        int
}

// Writer assembles and writes a PDF document.
type Writer struct {
	root    *core.Indirect
	catalog *core.Dict
	infoObj *core.Indirect

	objects    []core.Object               // Objects to write.
	objectsMap map[core.Object]struct{}    // Quick lookup table.
	traversed  map[core.Object]struct{}    // Cache of objects traversed while resolving references.
	pending    map[core.Object][]*core.Dict

	// `writer` is the buffered sink, `writePos` tracks the current byte
	// position (needed to build cross-reference sections), `werr` is the
	// first error encountered. All writes after the first error are no-ops.
	writer   *bufio.Writer
	writePos int64
	werr     error

	// Encryption.
	crypter     *core.Crypt
	encryptDict *core.Dict
	encryptObj  *core.Indirect
	ids         *core.Array

	majorVersion int
	minorVersion int
	forceVersion bool

	objectStreamMode ObjectStreamMode
	streamDataMode   StreamDataMode
	linearize        bool
	qdf              bool

	// Force whether or not to use cross reference streams. Otherwise
	// decided by the PDF version and object stream usage.
	useCrossReferenceStream *bool

	// Object numbers that lived inside object streams in the source
	// (used by the preserve mode).
	sourceCompressed map[core.Object]bool

	crossReferenceMap map[int]crossReference

	progress func(pct int)
}

// NewWriter initializes a new empty Writer with a bare catalog.
func NewWriter() *Writer {
	w := &Writer{}

	w.objectsMap = map[core.Object]struct{}{}
	w.objects = []core.Object{}
	w.pending = map[core.Object][]*core.Dict{}
	w.traversed = map[core.Object]struct{}{}
	w.sourceCompressed = map[core.Object]bool{}
	w.objectStreamMode = ObjectStreamPreserve

	// PDF version, raised when more advanced features are used.
	w.majorVersion = 1
	w.minorVersion = 3

	// Info.
	infoDict := core.MakeDict()
	infoDict.Set("Producer", core.MakeString(fmt.Sprintf("pdfmill v%s", common.Version)))
	infoObj := core.MakeIndirectObject(infoDict)
	w.infoObj = infoObj
	w.addObject(infoObj)

	// Root catalog.
	catalogDict := core.MakeDict()
	catalogDict.Set("Type", core.MakeName("Catalog"))
	catalog := core.MakeIndirectObject(catalogDict)

	w.root = catalog
	w.catalog = catalogDict
	w.addObject(w.root)

	return w
}

// NewWriterFromParser initializes a Writer from a parsed document: the
// trailer's Root and Info are adopted and every object reachable from
// them is enqueued. Trailer keys that the writer regenerates (ID,
// Encrypt, Prev, Size, xref stream bookkeeping) are not carried over.
func NewWriterFromParser(parser *core.Parser) (*Writer, error) {
	trailer := parser.GetTrailer()
	if trailer == nil {
		return nil, errors.New("document has no trailer")
	}

	w := &Writer{}
	w.objectsMap = map[core.Object]struct{}{}
	w.objects = []core.Object{}
	w.pending = map[core.Object][]*core.Dict{}
	w.traversed = map[core.Object]struct{}{}
	w.sourceCompressed = map[core.Object]bool{}
	w.objectStreamMode = ObjectStreamPreserve

	version := parser.PdfVersion()
	w.majorVersion = version.Major
	w.minorVersion = version.Minor
	if w.majorVersion < 1 || (w.majorVersion == 1 && w.minorVersion < 3) {
		// Output is always at least 1.3.
		w.majorVersion, w.minorVersion = 1, 3
	}

	rootObj := trailer.Get("Root")
	if rootObj == nil {
		return nil, errors.New("trailer missing Root")
	}
	root, ok := core.GetIndirect(core.ResolveReference(rootObj))
	if !ok {
		return nil, errors.New("catalog is not an indirect object")
	}
	catalog, ok := core.GetDict(root.Object)
	if !ok {
		return nil, errors.New("catalog is not a dictionary")
	}
	w.root = root
	w.catalog = catalog
	if err := w.addObjects(root); err != nil {
		return nil, err
	}

	if infoObj := trailer.Get("Info"); infoObj != nil {
		if info, ok := core.GetIndirect(core.ResolveReference(infoObj)); ok {
			w.infoObj = info
			if err := w.addObjects(info); err != nil {
				return nil, err
			}
		}
	}

	// Remember which enqueued objects lived inside object streams, so the
	// preserve mode can put them back into one.
	xrefs := parser.GetXrefTable()
	for objNum, xref := range xrefs.ObjectMap {
		if xref.XType != core.XrefTypeObjectStream {
			continue
		}
		obj, err := parser.LookupByNumber(objNum)
		if err != nil {
			continue
		}
		if _, has := w.objectsMap[obj]; has {
			w.sourceCompressed[obj] = true
		}
	}

	return w, nil
}

// ApplyOpts applies a validated option set.
func (w *Writer) ApplyOpts(opts Opts) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if opts.ObjectStreamMode != "" {
		w.objectStreamMode = ObjectStreamMode(opts.ObjectStreamMode)
	}
	if opts.StreamDataMode != "" {
		w.streamDataMode = StreamDataMode(opts.StreamDataMode)
	}
	w.linearize = opts.Linearize
	w.qdf = opts.QDF
	if w.qdf && w.linearize {
		return errors.New("QDF mode excludes linearization")
	}
	if opts.MinVersion != "" {
		var major, minor int
		if _, err := fmt.Sscanf(opts.MinVersion, "%d.%d", &major, &minor); err != nil {
			return fmt.Errorf("invalid min version %q", opts.MinVersion)
		}
		if major > w.majorVersion || (major == w.majorVersion && minor > w.minorVersion) {
			w.majorVersion, w.minorVersion = major, minor
		}
	}
	if opts.ForceVersion != "" {
		var major, minor int
		if _, err := fmt.Sscanf(opts.ForceVersion, "%d.%d", &major, &minor); err != nil {
			return fmt.Errorf("invalid forced version %q", opts.ForceVersion)
		}
		w.majorVersion, w.minorVersion = major, minor
		w.forceVersion = true
	}
	return nil
}

// SetVersion sets the PDF version of the output file.
func (w *Writer) SetVersion(majorVersion, minorVersion int) {
	w.majorVersion = majorVersion
	w.minorVersion = minorVersion
}

// SetObjectStreamMode selects how compressed object streams are emitted.
func (w *Writer) SetObjectStreamMode(mode ObjectStreamMode) {
	w.objectStreamMode = mode
}

// SetLinearized selects the linearized output layout.
func (w *Writer) SetLinearized(on bool) {
	w.linearize = on
}

// SetCompressStreams adds Flate compression to streams lacking a filter.
func (w *Writer) SetCompressStreams(on bool) {
	if on {
		w.streamDataMode = StreamDataCompress
	} else {
		w.streamDataMode = StreamDataPreserve
	}
}

// SetStreamDataMode selects whether stream payloads are preserved,
// uncompressed or compressed on write.
func (w *Writer) SetStreamDataMode(mode StreamDataMode) {
	w.streamDataMode = mode
}

// SetQDF selects the human-readable layout: uncompressed streams,
// standalone objects, classical cross-reference table.
func (w *Writer) SetQDF(on bool) {
	w.qdf = on
}

// PreserveEncryption carries the source document's encryption parameters
// into the output: the same encryption dictionary, file identifier and
// file key are reused, so the original passwords keep working. The source
// must have been authenticated first.
func (w *Writer) PreserveEncryption(parser *core.Parser) error {
	crypter := parser.GetCrypter()
	if crypter == nil {
		return errors.New("source document is not encrypted")
	}
	if !parser.IsAuthenticated() {
		return errors.New("source document has not been authenticated")
	}
	trailer := parser.GetTrailer()
	if trailer == nil {
		return errors.New("source document has no trailer")
	}

	encObj, ok := core.GetIndirect(core.ResolveReference(trailer.Get("Encrypt")))
	if !ok {
		return errors.New("source encryption dictionary unavailable")
	}

	w.crypter = crypter
	w.encryptObj = encObj
	w.addObject(encObj)

	// The file identifier binds the key derivation for R<5 and must be
	// carried unchanged.
	if ids, ok := core.GetArray(trailer.Get("ID")); ok && ids.Len() == 2 {
		id0, _ := core.GetStringVal(ids.Get(0))
		id1, _ := core.GetStringVal(ids.Get(1))
		w.ids = core.MakeArray(core.MakeHexString(id0), core.MakeHexString(id1))
	}
	return nil
}

// UseCrossReferenceStream forces cross-reference stream (true) or
// classical table (false) output.
func (w *Writer) UseCrossReferenceStream(use bool) {
	w.useCrossReferenceStream = &use
}

// SetProgressReporter installs a hook invoked with a percentage while
// objects are being written.
func (w *Writer) SetProgressReporter(fn func(pct int)) {
	w.progress = fn
}

// SetStaticID overrides the generated file identifier for reproducible
// output.
func (w *Writer) SetStaticID(id0, id1 string) {
	w.ids = core.MakeArray(core.MakeHexString(id0), core.MakeHexString(id1))
}

// Catalog returns the document catalog dictionary.
func (w *Writer) Catalog() *core.Dict {
	return w.catalog
}

// Root returns the document catalog object.
func (w *Writer) Root() *core.Indirect {
	return w.root
}

// Info returns the document information object, or nil.
func (w *Writer) Info() *core.Indirect {
	return w.infoObj
}

func (w *Writer) hasObject(obj core.Object) bool {
	_, found := w.objectsMap[obj]
	return found
}

// addObject adds the object to the list of objects to write. Returns true
// if the object was not previously added.
func (w *Writer) addObject(obj core.Object) bool {
	hasObj := w.hasObject(obj)
	if !hasObj {
		err := core.ResolveReferencesDeep(obj, w.traversed)
		if err != nil {
			common.Log.Debug("ERROR: %v - skipping", err)
		}

		w.objects = append(w.objects, obj)
		w.objectsMap[obj] = struct{}{}
		return true
	}

	return false
}

// addObjects adds the object and all objects reachable from it.
func (w *Writer) addObjects(obj core.Object) error {
	common.Log.Trace("Adding objects!")

	if io, isIndirectObj := obj.(*core.Indirect); isIndirectObj {
		if w.addObject(io) {
			return w.addObjects(io.Object)
		}
		return nil
	}

	if so, isStreamObj := obj.(*core.Stream); isStreamObj {
		if w.addObject(so) {
			return w.addObjects(so.Dict)
		}
		return nil
	}

	if dict, isDict := obj.(*core.Dict); isDict {
		for _, k := range dict.Keys() {
			v := core.ResolveReference(dict.Get(k))
			if k != "Parent" {
				err := w.addObjects(v)
				if err != nil {
					return err
				}
			} else {
				if _, parentIsNull := dict.Get("Parent").(*core.Null); parentIsNull {
					// Parent is null. We can ignore it.
					continue
				}

				if hasObj := w.hasObject(v); !hasObj {
					common.Log.Debug("Parent obj not added yet!! %T %p %v", v, v, v)
					w.pending[v] = append(w.pending[v], dict)
					// Although it is missing at this point, it could be
					// added later...
				}
				if parentObj, parentIsRef := dict.Get("Parent").(*core.Reference); parentIsRef {
					// Parent must have been resolved already by the reader.
					common.Log.Debug("ERROR: Parent is a reference object - Cannot be in writer (needs to be resolved)")
					return fmt.Errorf("parent is a reference object - Cannot be in writer (needs to be resolved) - %s", parentObj)
				}
			}
		}
		return nil
	}

	if arr, isArray := obj.(*core.Array); isArray {
		if arr == nil {
			return errors.New("array is nil")
		}
		for _, v := range arr.Elements() {
			err := w.addObjects(core.ResolveReference(v))
			if err != nil {
				return err
			}
		}
		return nil
	}

	if _, isReference := obj.(*core.Reference); isReference {
		// Should never be a reference, should already be resolved.
		common.Log.Debug("ERROR: Cannot be a reference - got %#v!", obj)
		return errors.New("reference not allowed")
	}

	return nil
}

// AddObject adds an indirect object (with everything reachable from it)
// to the output set. Use for content not reachable from the catalog, or
// to copy objects from another document: the object graph is deep copied
// at write time with cycles preserved.
func (w *Writer) AddObject(obj core.Object) error {
	return w.addObjects(obj)
}

// EncryptOptions represents encryption options for the output.
type EncryptOptions struct {
	Permissions core.Permissions
	Algorithm   EncryptionAlgorithm
}

// EncryptionAlgorithm selects the algorithm used to encrypt the document.
type EncryptionAlgorithm int

const (
	// RC4_128bit uses RC4 encryption (128 bit).
	RC4_128bit = EncryptionAlgorithm(iota)
	// AES_128bit uses AES encryption (128 bit, PDF 1.6).
	AES_128bit
	// AES_256bit uses AES encryption (256 bit, PDF 2.0).
	AES_256bit
)

// Encrypt encrypts the output file with the specified user/owner passwords.
func (w *Writer) Encrypt(userPass, ownerPass []byte, options *EncryptOptions) error {
	algo := RC4_128bit
	if options != nil {
		algo = options.Algorithm
	}
	perm := core.PermOwner
	if options != nil {
		perm = options.Permissions
	}

	var cf core.CryptFilter
	switch algo {
	case RC4_128bit:
		cf = core.NewCryptFilterV2(16)
	case AES_128bit:
		cf = core.NewCryptFilterAESV2()
	case AES_256bit:
		cf = core.NewCryptFilterAESV3()
	default:
		return fmt.Errorf("unsupported algorithm: %v", options.Algorithm)
	}
	crypter, info, err := core.NewCryptForEncrypt(cf, userPass, ownerPass, perm)
	if err != nil {
		return err
	}
	w.crypter = crypter
	if info.Major != 0 {
		w.SetVersion(info.Major, info.Minor)
	}
	w.encryptDict = info.Encrypt

	w.ids = core.MakeArray(core.MakeHexString(info.ID0), core.MakeHexString(info.ID1))

	// Make an object to contain the encryption dictionary.
	io := core.MakeIndirectObject(info.Encrypt)
	w.encryptObj = io
	w.addObject(io)

	return nil
}

// writeString handles writing out a string, tracking position and errors.
func (w *Writer) writeString(s string) {
	if w.werr != nil {
		return
	}
	n, err := w.writer.WriteString(s)
	w.writePos += int64(n)
	w.werr = err
}

// writeBytes handles writing out bytes, tracking position and errors.
func (w *Writer) writeBytes(bb []byte) {
	if w.werr != nil {
		return
	}
	n, err := w.writer.Write(bb)
	w.writePos += int64(n)
	w.werr = err
}

// writeObject writes out an indirect / stream object.
func (w *Writer) writeObject(num int, obj core.Object) {
	common.Log.Trace("Write obj #%d\n", num)

	if pobj, isIndirect := obj.(*core.Indirect); isIndirect {
		w.crossReferenceMap[num] = crossReference{Type: 1, Offset: w.writePos, Generation: pobj.GenerationNumber}
		outStr := fmt.Sprintf("%d 0 obj\n", num)
		if pobj.Object == nil {
			common.Log.Debug("Error: indirect object's contained object should never be nil - setting to null")
			pobj.Object = core.MakeNull()
		}
		outStr += pobj.Object.WriteString()
		outStr += "\nendobj\n"
		w.writeString(outStr)
		return
	}

	if pobj, isStream := obj.(*core.Stream); isStream {
		w.crossReferenceMap[num] = crossReference{Type: 1, Offset: w.writePos, Generation: pobj.GenerationNumber}
		outStr := fmt.Sprintf("%d 0 obj\n", num)
		outStr += pobj.Dict.WriteString()
		outStr += "\nstream\n"
		w.writeString(outStr)
		w.writeBytes(pobj.Data)
		w.writeString("\nendstream\nendobj\n")
		return
	}

	if ostreams, isObjStreams := obj.(*core.ObjectStreams); isObjStreams {
		w.crossReferenceMap[num] = crossReference{Type: 1, Offset: w.writePos, Generation: ostreams.GenerationNumber}
		outStr := fmt.Sprintf("%d 0 obj\n", num)
		var offsets []string
		var objData string
		var offset int64

		for index, obj := range ostreams.Elements() {
			io, isIndirect := obj.(*core.Indirect)
			if !isIndirect {
				common.Log.Debug("ERROR: Object stream %d contains non indirect pdf object %v", num, obj)
				continue
			}
			data := io.Object.WriteString() + " "
			objData = objData + data
			offsets = append(offsets, fmt.Sprintf("%d %d", io.ObjectNumber, offset))
			w.crossReferenceMap[int(io.ObjectNumber)] = crossReference{Type: 2, ObjectNumber: num, Index: index}
			offset = offset + int64(len([]byte(data)))
		}
		offsetsStr := strings.Join(offsets, " ") + " "
		encoder := core.NewFlateEncoder()
		dict := encoder.MakeStreamDict()
		dict.Set("Type", core.MakeName("ObjStm"))
		n := int64(ostreams.Len())
		dict.Set("N", core.MakeInteger(n))
		first := int64(len(offsetsStr))
		dict.Set("First", core.MakeInteger(first))

		data, _ := encoder.EncodeBytes([]byte(offsetsStr + objData))
		if w.crypter != nil {
			// Objects inside an object stream are not encrypted
			// individually; the container's stream data is.
			container := &core.Stream{Dict: dict, Data: data}
			container.ObjectNumber = int64(num)
			if err := w.crypter.Encrypt(container, int64(num), 0); err == nil {
				data = container.Data
			} else {
				common.Log.Debug("ERROR: Failed encrypting object stream (%s)", err)
			}
		}
		length := int64(len(data))

		dict.Set("Length", core.MakeInteger(length))
		outStr += dict.WriteString()
		outStr += "\nstream\n"
		w.writeString(outStr)
		w.writeBytes(data)
		w.writeString("\nendstream\nendobj\n")
		return
	}

	w.writeString(obj.WriteString())
}

// updateObjectNumbers updates all the object numbers prior to writing,
// assigning a fresh dense numbering in enqueue order.
func (w *Writer) updateObjectNumbers() {
	// Update numbers.
	i := 0
	for _, obj := range w.objects {
		objNum := int64(i + 1)

		switch o := obj.(type) {
		case *core.Indirect:
			o.ObjectNumber = objNum
			o.GenerationNumber = 0
		case *core.Stream:
			o.ObjectNumber = objNum
			o.GenerationNumber = 0
		case *core.ObjectStreams:
			o.ObjectNumber = objNum
			o.GenerationNumber = 0
		default:
			common.Log.Debug("ERROR: Unknown type %T - skipping", o)
			continue
		}

		i++
	}

	getObjNum := func(obj core.Object) int64 {
		switch o := obj.(type) {
		case *core.Indirect:
			return o.ObjectNumber
		case *core.Stream:
			return o.ObjectNumber
		case *core.ObjectStreams:
			return o.ObjectNumber
		}
		return 0
	}
	// Keep the output ordered by object number.
	sort.SliceStable(w.objects, func(i, j int) bool {
		return getObjNum(w.objects[i]) < getObjNum(w.objects[j])
	})
}

// generateIDs makes the file identifier array if one was not supplied.
func (w *Writer) generateIDs() {
	if w.ids != nil {
		return
	}
	hashcode := md5.Sum([]byte(time.Now().Format(time.RFC850)))
	id0 := string(hashcode[:])
	b := make([]byte, 100)
	rand.Read(b)
	hashcode = md5.Sum(b)
	id1 := string(hashcode[:])
	w.ids = core.MakeArray(core.MakeHexString(id0), core.MakeHexString(id1))
}

// prepareStreams applies the stream data mode (adding Flate to bare
// streams, or stripping generalized filters), makes indirect Filter and
// DecodeParms values direct and refreshes Length entries.
func (w *Writer) prepareStreams() {
	mode := w.streamDataMode
	if w.qdf {
		mode = StreamDataUncompress
	}

	for _, obj := range w.objects {
		stream, isStream := obj.(*core.Stream)
		if !isStream {
			continue
		}

		// Filter and DecodeParms are always written direct.
		for _, key := range []core.Name{"Filter", "DecodeParms"} {
			if ind, isIndirect := stream.Dict.Get(key).(*core.Indirect); isIndirect {
				stream.Dict.Set(key, ind.Object)
			}
		}

		switch mode {
		case StreamDataCompress:
			if stream.Dict.Get("Filter") == nil {
				encoder := core.NewFlateEncoder()
				encoded, err := encoder.EncodeBytes(stream.Data)
				if err == nil && len(encoded) < len(stream.Data) {
					stream.Data = encoded
					stream.Dict.Set("Filter", core.MakeName(encoder.GetFilterName()))
				}
			}
		case StreamDataUncompress:
			if core.IsDecodable(stream, core.DecodeLevelGeneralized) {
				decoded, err := core.DecodeStream(stream)
				if err == nil {
					stream.Data = decoded
					stream.Dict.Remove("Filter")
					stream.Dict.Remove("DecodeParms")
				}
			}
		}

		// The Length written is always the direct, current data length.
		stream.Dict.Set("Length", core.MakeInteger(int64(len(stream.Data))))
	}
}

// isObjectStreamEligible reports whether an object may be placed into a
// compressed object stream.
func (w *Writer) isObjectStreamEligible(obj core.Object) bool {
	ind, isIndirect := obj.(*core.Indirect)
	if !isIndirect {
		// Streams and object stream containers never nest.
		return false
	}
	if ind.GenerationNumber != 0 {
		return false
	}
	if w.encryptObj != nil && obj == w.encryptObj {
		// The encryption dictionary must be readable before decryption.
		return false
	}
	if dict, ok := ind.Object.(*core.Dict); ok {
		if t, ok := core.GetNameVal(dict.Get("Type")); ok {
			if t == "Sig" && dict.Get("ByteRange") != nil && dict.Get("Contents") != nil {
				// Digital signature dictionaries must stay addressable by
				// byte range.
				return false
			}
			if t == "Catalog" && (w.crypter != nil || w.linearize) {
				return false
			}
			if t == "Page" && w.linearize {
				return false
			}
		}
	}
	return true
}

// collectObjectStreams groups eligible objects into ObjectStreams
// containers per the configured mode. The containers are appended to the
// object list; members stay in place and are skipped at top level during
// writing.
func (w *Writer) collectObjectStreams() {
	if w.objectStreamMode == ObjectStreamDisable || w.linearize {
		// Unpack any containers present so every member is standalone.
		var unpacked []core.Object
		for _, obj := range w.objects {
			if _, isContainer := obj.(*core.ObjectStreams); isContainer {
				continue
			}
			unpacked = append(unpacked, obj)
		}
		w.objects = unpacked
		return
	}

	const maxPerStream = 100

	var members []core.Object
	for _, obj := range w.objects {
		if _, isContainer := obj.(*core.ObjectStreams); isContainer {
			continue
		}
		if !w.isObjectStreamEligible(obj) {
			continue
		}
		if w.objectStreamMode == ObjectStreamPreserve && !w.sourceCompressed[obj] {
			continue
		}
		members = append(members, obj)
	}

	for start := 0; start < len(members); start += maxPerStream {
		end := start + maxPerStream
		if end > len(members) {
			end = len(members)
		}
		container := core.MakeObjectStreams(members[start:end]...)
		w.objects = append(w.objects, container)
		w.objectsMap[container] = struct{}{}
	}
}

// checkPendingObjects replaces dictionary entries that reference objects
// never added for writing with null.
func (w *Writer) checkPendingObjects() {
	for pendingObj, pendingObjDicts := range w.pending {
		if !w.hasObject(pendingObj) {
			common.Log.Debug("WARN Pending object %+v %T (%p) never added for writing", pendingObj, pendingObj, pendingObj)
			for _, pendingObjDict := range pendingObjDicts {
				for _, key := range pendingObjDict.Keys() {
					val := pendingObjDict.Get(key)
					if val == pendingObj {
						common.Log.Debug("Pending object found! and replaced with null")
						pendingObjDict.Set(key, core.MakeNull())
						break
					}
				}
			}
		}
	}
}

// checkReserved refuses to write while a reserved (still empty) indirect
// object is live in the output set. This is API misuse, not file damage.
func (w *Writer) checkReserved() error {
	for _, obj := range w.objects {
		if ind, isIndirect := obj.(*core.Indirect); isIndirect && ind.Object == nil {
			return errors.New("cannot write: reserved object never filled in")
		}
	}
	return nil
}

// Write writes out the PDF to the given sink.
func (w *Writer) Write(writer io.Writer) error {
	common.Log.Trace("Write()")

	if err := w.checkReserved(); err != nil {
		return err
	}

	if w.linearize {
		return w.writeLinearized(writer)
	}

	if w.qdf {
		// Human-readable layout: no object streams, classical xref.
		w.objectStreamMode = ObjectStreamDisable
	}

	w.checkPendingObjects()

	// Make a copy of objects prior to transforming, so callers keep
	// usable handles and cross-document copies get local identity.
	w.copyObjects()

	w.prepareStreams()
	w.collectObjectStreams()

	w.writePos = 0
	w.writer = bufio.NewWriter(writer)
	useCrossReferenceStream := w.majorVersion > 1 || (w.majorVersion == 1 && w.minorVersion > 4)
	if w.useCrossReferenceStream != nil {
		useCrossReferenceStream = *w.useCrossReferenceStream
	}
	if w.qdf {
		useCrossReferenceStream = false
	}

	// Map of objects within object streams (if used).
	objectsInObjectStreams := make(map[core.Object]bool)
	for _, obj := range w.objects {
		if objStm, isObjectStreams := obj.(*core.ObjectStreams); isObjectStreams {
			// Objects in object streams can only be referenced from an
			// xref stream (not a table).
			useCrossReferenceStream = true
			for _, obj := range objStm.Elements() {
				objectsInObjectStreams[obj] = true
			}
		}
	}

	if useCrossReferenceStream && w.majorVersion == 1 && w.minorVersion < 5 && !w.forceVersion {
		w.minorVersion = 5
	}

	w.writeString(fmt.Sprintf("%%PDF-%d.%d\n", w.majorVersion, w.minorVersion))
	w.writeString("%\xBF\xF7\xA2\xFE\n")

	w.updateObjectNumbers()
	w.generateIDs()

	// Write objects.
	common.Log.Trace("Writing %d obj", len(w.objects))
	w.crossReferenceMap = make(map[int]crossReference)
	w.crossReferenceMap[0] = crossReference{Type: 0, ObjectNumber: 0, Generation: 0xFFFF}

	// Write out indirect/stream objects that are not in object streams.
	for idx, obj := range w.objects {
		if w.progress != nil && len(w.objects) > 0 {
			w.progress(idx * 100 / len(w.objects))
		}
		if skip := objectsInObjectStreams[obj]; skip {
			continue
		}

		objectNumber := int64(0)
		switch t := obj.(type) {
		case *core.Indirect:
			objectNumber = t.ObjectNumber
		case *core.Stream:
			objectNumber = t.ObjectNumber
		case *core.ObjectStreams:
			objectNumber = t.ObjectNumber
		default:
			common.Log.Debug("ERROR: Unsupported type in writer objects: %T", obj)
			return core.ErrTypeError
		}

		// Encrypt prior to writing. The encryption dictionary itself is
		// not encrypted.
		if w.crypter != nil && obj != w.encryptObj {
			err := w.crypter.Encrypt(obj, objectNumber, 0)
			if err != nil {
				common.Log.Debug("ERROR: Failed encrypting (%s)", err)
				return err
			}
			if stream, isStream := obj.(*core.Stream); isStream {
				stream.Dict.Set("Length", core.MakeInteger(int64(len(stream.Data))))
			}
		}
		w.writeObject(int(objectNumber), obj)
	}
	if w.progress != nil {
		w.progress(100)
	}

	xrefOffset := w.writePos
	var maxIndex int
	for idx := range w.crossReferenceMap {
		if idx > maxIndex {
			maxIndex = idx
		}
	}

	// Write the trailer / cross reference stream (depending on which is
	// used).
	if useCrossReferenceStream {
		crossObjNumber := maxIndex + 1
		w.crossReferenceMap[crossObjNumber] = crossReference{Type: 1, ObjectNumber: crossObjNumber, Offset: xrefOffset}
		crossReferenceData := bytes.NewBuffer(nil)

		index := core.MakeArray()
		for idx := 0; idx <= maxIndex+1; {
			// Find the next entry to write.
			for ; idx <= maxIndex+1; idx++ {
				if _, has := w.crossReferenceMap[idx]; has {
					break
				}
			}
			if idx > maxIndex+1 {
				break
			}

			var j int
			for j = idx + 1; j <= maxIndex+1; j++ {
				if _, has := w.crossReferenceMap[j]; !has {
					break
				}
			}
			index.Append(core.MakeInteger(int64(idx)), core.MakeInteger(int64(j-idx)))

			for k := idx; k < j; k++ {
				ref := w.crossReferenceMap[k]
				switch ref.Type {
				case 0:
					binary.Write(crossReferenceData, binary.BigEndian, byte(0))
					binary.Write(crossReferenceData, binary.BigEndian, uint32(0))
					binary.Write(crossReferenceData, binary.BigEndian, uint16(0xFFFF))
				case 1:
					binary.Write(crossReferenceData, binary.BigEndian, byte(1))
					binary.Write(crossReferenceData, binary.BigEndian, uint32(ref.Offset))
					binary.Write(crossReferenceData, binary.BigEndian, uint16(ref.Generation))
				case 2:
					binary.Write(crossReferenceData, binary.BigEndian, byte(2))
					binary.Write(crossReferenceData, binary.BigEndian, uint32(ref.ObjectNumber))
					binary.Write(crossReferenceData, binary.BigEndian, uint16(ref.Index))
				}
			}

			idx = j
		}

		encoder := core.NewFlateEncoder()
		encoder.SetPredictorUp(1 + 4 + 2)
		crossReferenceStream, err := core.MakeStream(crossReferenceData.Bytes(), encoder)
		if err != nil {
			return err
		}
		crossReferenceStream.ObjectNumber = int64(crossObjNumber)
		crossReferenceStream.Dict.Set("Type", core.MakeName("XRef"))
		crossReferenceStream.Dict.Set("W", core.MakeArray(core.MakeInteger(1), core.MakeInteger(4), core.MakeInteger(2)))
		crossReferenceStream.Dict.Set("Index", index)
		crossReferenceStream.Dict.Set("Size", core.MakeInteger(int64(crossObjNumber+1)))
		if w.infoObj != nil {
			crossReferenceStream.Dict.Set("Info", w.infoObj)
		}
		crossReferenceStream.Dict.Set("Root", w.root)
		// If encrypted!
		if w.crypter != nil {
			crossReferenceStream.Dict.Set("Encrypt", w.encryptObj)
		}
		crossReferenceStream.Dict.Set("ID", w.ids)

		w.writeObject(int(crossReferenceStream.ObjectNumber), crossReferenceStream)
	} else {
		w.writeString("xref\r\n")
		for idx := 0; idx <= maxIndex; {
			// Find the next entry to write.
			for ; idx <= maxIndex; idx++ {
				if _, has := w.crossReferenceMap[idx]; has {
					break
				}
			}
			if idx > maxIndex {
				break
			}

			var j int
			for j = idx + 1; j <= maxIndex; j++ {
				if _, has := w.crossReferenceMap[j]; !has {
					break
				}
			}

			outStr := fmt.Sprintf("%d %d\r\n", idx, j-idx)
			w.writeString(outStr)
			for k := idx; k < j; k++ {
				ref := w.crossReferenceMap[k]
				switch ref.Type {
				case 0:
					outStr = fmt.Sprintf("%.10d %.5d f\r\n", 0, 65535)
					w.writeString(outStr)
				case 1:
					outStr = fmt.Sprintf("%.10d %.5d n\r\n", ref.Offset, 0)
					w.writeString(outStr)
				}
			}

			idx = j
		}

		// Generate & write trailer.
		trailer := core.MakeDict()
		if w.infoObj != nil {
			trailer.Set("Info", w.infoObj)
		}
		trailer.Set("Root", w.root)
		trailer.Set("Size", core.MakeInteger(int64(maxIndex+1)))
		// If encrypted!
		if w.crypter != nil {
			trailer.Set("Encrypt", w.encryptObj)
		}
		trailer.Set("ID", w.ids)
		w.writeString("trailer\n")
		w.writeString(trailer.WriteString())
		w.writeString("\n")
	}

	// Make offset reference.
	outStr := fmt.Sprintf("startxref\n%d\n", xrefOffset)
	w.writeString(outStr)
	w.writeString("%%EOF\n")

	if w.werr == nil {
		w.werr = w.writer.Flush()
	}

	return w.werr
}
