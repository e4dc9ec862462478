package writer

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pdfmill/pdfmill/core"
)

// makeTestDocument builds a document with `npages` pages, each carrying a
// small Flate-compressed content stream.
func makeTestDocument(t *testing.T, npages int) *Writer {
	w := NewWriter()

	pagesDict := core.MakeDict()
	pagesDict.Set("Type", core.MakeName("Pages"))
	pagesInd := core.MakeIndirectObject(pagesDict)

	kids := core.MakeArray()
	for i := 0; i < npages; i++ {
		content, err := core.MakeStream([]byte(pageContent(i)), core.NewFlateEncoder())
		require.NoError(t, err)

		pageDict := core.MakeDict()
		pageDict.Set("Type", core.MakeName("Page"))
		pageDict.Set("Parent", pagesInd)
		pageDict.Set("MediaBox", core.MakeArrayFromIntegers([]int{0, 0, 612, 792}))
		pageDict.Set("Contents", content)
		kids.Append(core.MakeIndirectObject(pageDict))
	}
	pagesDict.Set("Kids", kids)
	pagesDict.Set("Count", core.MakeInteger(int64(npages)))

	w.Catalog().Set("Pages", pagesInd)
	require.NoError(t, w.AddObject(pagesInd))

	return w
}

func pageContent(i int) string {
	return fmt.Sprintf("BT /F1 12 Tf 72 720 Td (page %d) Tj ET", i+1)
}

// reparse writes the document and parses the output back.
func reparse(t *testing.T, w *Writer) (*core.Parser, []byte) {
	var buf bytes.Buffer
	require.NoError(t, w.Write(&buf))

	parser, err := core.NewParser(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	return parser, buf.Bytes()
}

// documentPages walks the parsed pages tree and returns the page
// dictionaries in order.
func documentPages(t *testing.T, parser *core.Parser) []*core.Dict {
	catalog, ok := core.GetDict(parser.GetTrailer().Get("Root"))
	require.True(t, ok)
	pages, ok := core.GetDict(catalog.Get("Pages"))
	require.True(t, ok)
	kids, ok := core.GetArray(pages.Get("Kids"))
	require.True(t, ok)

	var out []*core.Dict
	for _, kid := range kids.Elements() {
		page, ok := core.GetDict(kid)
		require.True(t, ok)
		out = append(out, page)
	}
	return out
}

func TestWriteSimpleRoundTrip(t *testing.T) {
	w := makeTestDocument(t, 1)
	parser, raw := reparse(t, w)

	require.False(t, parser.AnyWarnings())
	require.True(t, bytes.HasPrefix(raw, []byte("%PDF-1.3\n")))
	// Binary marker bytes directly after the header line.
	require.Equal(t, []byte{'%', 0xBF, 0xF7, 0xA2, 0xFE}, raw[9:14])
	require.True(t, bytes.Contains(raw, []byte("%%EOF")))

	pages := documentPages(t, parser)
	require.Len(t, pages, 1)

	content, ok := core.GetStream(pages[0].Get("Contents"))
	require.True(t, ok)
	decoded, err := core.DecodeStream(content)
	require.NoError(t, err)
	require.Equal(t, pageContent(0), string(decoded))
}

func TestRewriteParsedDocument(t *testing.T) {
	// Write, parse, rewrite through a parser-backed writer, parse again:
	// both parses must expose the same logical structure.
	w := makeTestDocument(t, 2)
	parser1, _ := reparse(t, w)

	w2, err := NewWriterFromParser(parser1)
	require.NoError(t, err)
	parser2, _ := reparse(t, w2)

	require.False(t, parser2.AnyWarnings())

	pages1 := documentPages(t, parser1)
	pages2 := documentPages(t, parser2)
	require.Equal(t, len(pages1), len(pages2))

	for i := range pages1 {
		c1, ok := core.GetStream(pages1[i].Get("Contents"))
		require.True(t, ok)
		c2, ok := core.GetStream(pages2[i].Get("Contents"))
		require.True(t, ok)

		d1, err := core.DecodeStream(c1)
		require.NoError(t, err)
		d2, err := core.DecodeStream(c2)
		require.NoError(t, err)
		require.Equal(t, d1, d2)
	}
}

func TestObjectStreamGenerate(t *testing.T) {
	w := makeTestDocument(t, 1)
	w.SetObjectStreamMode(ObjectStreamGenerate)

	parser, raw := reparse(t, w)
	require.True(t, bytes.Contains(raw, []byte("/ObjStm")))

	// The page dictionary must live inside an object stream now.
	catalog, ok := core.GetDict(parser.GetTrailer().Get("Root"))
	require.True(t, ok)
	pages, ok := core.GetDict(catalog.Get("Pages"))
	require.True(t, ok)
	kids, ok := core.GetArray(pages.Get("Kids"))
	require.True(t, ok)

	kidRef, ok := kids.Get(0).(*core.Reference)
	require.True(t, ok)
	xref, has := parser.GetXrefTable().ObjectMap[int(kidRef.ObjectNumber)]
	require.True(t, has)
	require.Equal(t, core.XrefTypeObjectStream, xref.XType)

	// Resolving through the object stream yields the page.
	page, ok := core.GetDict(kids.Get(0))
	require.True(t, ok)
	tp, _ := core.GetNameVal(page.Get("Type"))
	require.Equal(t, "Page", tp)
}

func TestObjectStreamDisableUnpacks(t *testing.T) {
	// Generate object streams, reparse, then rewrite with the disable
	// mode: every object must come out standalone.
	w := makeTestDocument(t, 1)
	w.SetObjectStreamMode(ObjectStreamGenerate)
	parser, _ := reparse(t, w)

	w2, err := NewWriterFromParser(parser)
	require.NoError(t, err)
	w2.SetObjectStreamMode(ObjectStreamDisable)
	w2.UseCrossReferenceStream(false)

	parser2, raw := reparse(t, w2)
	require.False(t, bytes.Contains(raw, []byte("/ObjStm")))

	for _, xref := range parser2.GetXrefTable().ObjectMap {
		require.Equal(t, core.XrefTypeTableEntry, xref.XType)
	}
}

func TestObjectStreamPreserve(t *testing.T) {
	// Preserve keeps compressed objects compressed across a rewrite.
	w := makeTestDocument(t, 1)
	w.SetObjectStreamMode(ObjectStreamGenerate)
	parser, _ := reparse(t, w)

	w2, err := NewWriterFromParser(parser)
	require.NoError(t, err)
	w2.SetObjectStreamMode(ObjectStreamPreserve)

	_, raw := reparse(t, w2)
	require.True(t, bytes.Contains(raw, []byte("/ObjStm")))
}

func TestEncryptionRoundTripRC4(t *testing.T) {
	w := makeTestDocument(t, 1)
	require.NoError(t, w.Encrypt([]byte("user"), []byte("owner"), nil))

	var buf bytes.Buffer
	require.NoError(t, w.Write(&buf))

	parser, err := core.NewParser(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	encrypted, err := parser.IsEncrypted()
	require.NoError(t, err)
	require.True(t, encrypted)

	ok, err := parser.Decrypt([]byte("user"))
	require.NoError(t, err)
	require.True(t, ok)

	pages := documentPages(t, parser)
	require.Len(t, pages, 1)

	content, found := core.GetStream(pages[0].Get("Contents"))
	require.True(t, found)
	decoded, err := core.DecodeStream(content)
	require.NoError(t, err)
	require.Equal(t, pageContent(0), string(decoded))
}

func TestEncryptionRoundTripAES256(t *testing.T) {
	w := makeTestDocument(t, 1)
	opts := &EncryptOptions{Permissions: core.PermOwner, Algorithm: AES_256bit}
	require.NoError(t, w.Encrypt([]byte("user"), []byte("owner"), opts))

	var buf bytes.Buffer
	require.NoError(t, w.Write(&buf))

	parser, err := core.NewParser(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	encrypted, err := parser.IsEncrypted()
	require.NoError(t, err)
	require.True(t, encrypted)

	// The owner password opens the document.
	ok, err := parser.Decrypt([]byte("owner"))
	require.NoError(t, err)
	require.True(t, ok)

	pages := documentPages(t, parser)
	content, found := core.GetStream(pages[0].Get("Contents"))
	require.True(t, found)
	decoded, err := core.DecodeStream(content)
	require.NoError(t, err)
	require.Equal(t, pageContent(0), string(decoded))

	// Re-encrypt with a different user password and reopen.
	w2, err := NewWriterFromParser(parser)
	require.NoError(t, err)
	require.NoError(t, w2.Encrypt([]byte("user2"), []byte("owner2"), opts))

	var buf2 bytes.Buffer
	require.NoError(t, w2.Write(&buf2))

	parser2, err := core.NewParser(bytes.NewReader(buf2.Bytes()))
	require.NoError(t, err)
	encrypted, err = parser2.IsEncrypted()
	require.NoError(t, err)
	require.True(t, encrypted)
	ok, err = parser2.Decrypt([]byte("user2"))
	require.NoError(t, err)
	require.True(t, ok)

	pages2 := documentPages(t, parser2)
	content2, found := core.GetStream(pages2[0].Get("Contents"))
	require.True(t, found)
	decoded2, err := core.DecodeStream(content2)
	require.NoError(t, err)
	require.Equal(t, decoded, decoded2)
}

func TestEncryptionWrongPassword(t *testing.T) {
	w := makeTestDocument(t, 1)
	opts := &EncryptOptions{Permissions: core.PermOwner, Algorithm: AES_256bit}
	require.NoError(t, w.Encrypt([]byte("user"), []byte("owner"), opts))

	var buf bytes.Buffer
	require.NoError(t, w.Write(&buf))

	parser, err := core.NewParser(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	_, err = parser.IsEncrypted()
	require.NoError(t, err)

	ok, err := parser.Decrypt([]byte("wrong"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriteCopyPreservesCycles(t *testing.T) {
	w := NewWriter()

	// Indirect cycle: A.Self -> B, B.Back -> A.
	a := core.MakeDict()
	b := core.MakeDict()
	ai := core.MakeIndirectObject(a)
	bi := core.MakeIndirectObject(b)
	a.Set("Self", bi)
	b.Set("Back", ai)

	w.Catalog().Set("CycleRoot", ai)
	require.NoError(t, w.AddObject(ai))

	parser, _ := reparse(t, w)

	catalog, ok := core.GetDict(parser.GetTrailer().Get("Root"))
	require.True(t, ok)

	aRef, ok := catalog.Get("CycleRoot").(*core.Reference)
	require.True(t, ok)

	aDict, ok := core.GetDict(catalog.Get("CycleRoot"))
	require.True(t, ok)
	bDict, ok := core.GetDict(aDict.Get("Self"))
	require.True(t, ok)

	backRef, ok := bDict.Get("Back").(*core.Reference)
	require.True(t, ok)

	// Following Self.Back leads back to A: same object number, and the
	// resolved dictionary exposes the same Self entry.
	require.Equal(t, aRef.ObjectNumber, backRef.ObjectNumber)
	backDict, ok := core.GetDict(bDict.Get("Back"))
	require.True(t, ok)
	require.NotNil(t, backDict.Get("Self"))
}

func TestReservedObjectRefused(t *testing.T) {
	w := NewWriter()
	reserved := core.MakeIndirectObject(nil)
	w.Catalog().Set("Pending", reserved)
	require.NoError(t, w.AddObject(reserved))

	var buf bytes.Buffer
	err := w.Write(&buf)
	require.Error(t, err)
	require.Contains(t, err.Error(), "reserved")
}

func TestIndirectNullCollapses(t *testing.T) {
	w := makeTestDocument(t, 1)

	nullInd := core.MakeIndirectObject(core.MakeNull())
	w.Catalog().Set("Dangling", nullInd)
	require.NoError(t, w.AddObject(nullInd))

	parser, _ := reparse(t, w)
	catalog, ok := core.GetDict(parser.GetTrailer().Get("Root"))
	require.True(t, ok)

	// The null entry reads back as absent.
	require.Nil(t, catalog.Get("Dangling"))
}

func TestStaticID(t *testing.T) {
	w1 := makeTestDocument(t, 1)
	w1.SetStaticID("0123456789abcdef", "fedcba9876543210")
	var buf1 bytes.Buffer
	require.NoError(t, w1.Write(&buf1))

	w2 := makeTestDocument(t, 1)
	w2.SetStaticID("0123456789abcdef", "fedcba9876543210")
	var buf2 bytes.Buffer
	require.NoError(t, w2.Write(&buf2))

	require.Equal(t, buf1.Bytes(), buf2.Bytes())
}

func TestCompressStreams(t *testing.T) {
	w := NewWriter()
	// A stream with no filter; highly compressible payload.
	stream, err := core.MakeStream(bytes.Repeat([]byte("abcdef "), 200), nil)
	require.NoError(t, err)
	w.Catalog().Set("Blob", stream)
	require.NoError(t, w.AddObject(stream))
	w.SetCompressStreams(true)

	parser, _ := reparse(t, w)
	catalog, ok := core.GetDict(parser.GetTrailer().Get("Root"))
	require.True(t, ok)
	blob, ok := core.GetStream(catalog.Get("Blob"))
	require.True(t, ok)

	filter, ok := core.GetNameVal(blob.Dict.Get("Filter"))
	require.True(t, ok)
	require.Equal(t, "FlateDecode", filter)

	decoded, err := core.DecodeStream(blob)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte("abcdef "), 200), decoded)
}

func TestOptsValidation(t *testing.T) {
	w := makeTestDocument(t, 1)

	require.Error(t, w.ApplyOpts(Opts{ObjectStreamMode: "bogus"}))
	require.NoError(t, w.ApplyOpts(Opts{ObjectStreamMode: "generate"}))
	require.Equal(t, ObjectStreamGenerate, w.objectStreamMode)

	require.NoError(t, w.ApplyOpts(Opts{MinVersion: "1.6"}))
	require.Equal(t, 6, w.minorVersion)

	require.NoError(t, w.ApplyOpts(Opts{ForceVersion: "1.4"}))
	require.Equal(t, 4, w.minorVersion)
}

func TestProgressReporter(t *testing.T) {
	w := makeTestDocument(t, 3)
	var last int
	w.SetProgressReporter(func(pct int) {
		require.GreaterOrEqual(t, pct, last)
		last = pct
	})

	var buf bytes.Buffer
	require.NoError(t, w.Write(&buf))
	require.Equal(t, 100, last)
}

func TestStreamDataUncompress(t *testing.T) {
	w := makeTestDocument(t, 1)
	w.SetStreamDataMode(StreamDataUncompress)

	parser, raw := reparse(t, w)
	require.False(t, bytes.Contains(raw, []byte("FlateDecode")))

	pages := documentPages(t, parser)
	content, ok := core.GetStream(pages[0].Get("Contents"))
	require.True(t, ok)
	// Payload is stored raw now.
	require.Nil(t, content.Dict.Get("Filter"))
	require.Equal(t, pageContent(0), string(content.Data))
}

func TestQDFMode(t *testing.T) {
	w := makeTestDocument(t, 1)
	w.SetObjectStreamMode(ObjectStreamGenerate)
	w.SetQDF(true)

	parser, raw := reparse(t, w)
	// QDF output: no object streams, classical xref, raw streams.
	require.False(t, bytes.Contains(raw, []byte("/ObjStm")))
	require.False(t, bytes.Contains(raw, []byte("/XRef")))
	require.True(t, bytes.Contains(raw, []byte("trailer")))

	pages := documentPages(t, parser)
	content, ok := core.GetStream(pages[0].Get("Contents"))
	require.True(t, ok)
	require.Equal(t, pageContent(0), string(content.Data))
}

func TestPreserveEncryption(t *testing.T) {
	w := makeTestDocument(t, 1)
	require.NoError(t, w.Encrypt([]byte("user"), []byte("owner"), nil))

	var buf bytes.Buffer
	require.NoError(t, w.Write(&buf))

	parser, err := core.NewParser(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	encrypted, err := parser.IsEncrypted()
	require.NoError(t, err)
	require.True(t, encrypted)
	ok, err := parser.Decrypt([]byte("user"))
	require.NoError(t, err)
	require.True(t, ok)

	// Force resolution before rewriting.
	pages := documentPages(t, parser)
	require.Len(t, pages, 1)

	w2, err := NewWriterFromParser(parser)
	require.NoError(t, err)
	require.NoError(t, w2.PreserveEncryption(parser))

	var buf2 bytes.Buffer
	require.NoError(t, w2.Write(&buf2))

	// The original password still opens the rewritten document.
	parser2, err := core.NewParser(bytes.NewReader(buf2.Bytes()))
	require.NoError(t, err)
	encrypted, err = parser2.IsEncrypted()
	require.NoError(t, err)
	require.True(t, encrypted)
	ok, err = parser2.Decrypt([]byte("user"))
	require.NoError(t, err)
	require.True(t, ok)

	pages2 := documentPages(t, parser2)
	content, found := core.GetStream(pages2[0].Get("Contents"))
	require.True(t, found)
	decoded, err := core.DecodeStream(content)
	require.NoError(t, err)
	require.Equal(t, pageContent(0), string(decoded))
}
