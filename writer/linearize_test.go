package writer

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pdfmill/pdfmill/core"
)

var reLinDict = regexp.MustCompile(`/Linearized 1 /L (\d+) /H \[ (\d+) (\d+) \] /O (\d+) /E (\d+) /N (\d+) /T (\d+)`)

func linearizedParams(t *testing.T, raw []byte) (L, H0, H1, O, E, N, T int64) {
	m := reLinDict.FindSubmatch(raw)
	require.NotNil(t, m, "linearization parameter dictionary not found")
	vals := make([]int64, 7)
	for i := 0; i < 7; i++ {
		v, err := strconv.ParseInt(string(m[i+1]), 10, 64)
		require.NoError(t, err)
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], vals[3], vals[4], vals[5], vals[6]
}

func TestLinearizedWrite(t *testing.T) {
	w := makeTestDocument(t, 3)
	w.SetLinearized(true)

	var buf bytes.Buffer
	require.NoError(t, w.Write(&buf))
	raw := buf.Bytes()

	L, H0, H1, O, E, N, T := linearizedParams(t, raw)

	// /L equals the total file size.
	require.Equal(t, int64(len(raw)), L)
	// /N equals the page count.
	require.Equal(t, int64(3), N)

	// /H points at the hint stream object.
	require.True(t, H0 > 0 && H0 < int64(len(raw)))
	require.True(t, H1 > 0)
	hintHeader := fmt.Sprintf("%d 0 obj", hintObjectNumber(t, raw, H0))
	require.True(t, bytes.HasPrefix(raw[H0:], []byte(hintHeader)))
	require.True(t, bytes.Contains(raw[H0:H0+H1], []byte("stream")))

	// /O names the first page object; its body follows the hint stream.
	firstPageHeader := []byte(fmt.Sprintf("\n%d 0 obj", O))
	pageIdx := bytes.Index(raw, firstPageHeader)
	require.True(t, pageIdx > 0)
	require.True(t, int64(pageIdx+1) >= H0+H1)

	// /E bounds the end of the first-page section.
	require.True(t, E > int64(pageIdx))
	require.True(t, E <= L)

	// /T points into the main cross-reference table.
	require.True(t, T > E)
	require.True(t, T < L)

	// The first xref appears before the first page's content.
	xrefIdx := bytes.Index(raw, []byte("xref\n"))
	require.True(t, xrefIdx > 0)
	require.True(t, xrefIdx < pageIdx)
}

// hintObjectNumber reads the object number at offset `off`.
func hintObjectNumber(t *testing.T, raw []byte, off int64) int {
	m := regexp.MustCompile(`^(\d+) 0 obj`).FindSubmatch(raw[off:])
	require.NotNil(t, m)
	n, err := strconv.Atoi(string(m[1]))
	require.NoError(t, err)
	return n
}

func TestLinearizedReparse(t *testing.T) {
	w := makeTestDocument(t, 3)
	w.SetLinearized(true)

	var buf bytes.Buffer
	require.NoError(t, w.Write(&buf))

	parser, err := core.NewParser(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.False(t, parser.AnyWarnings())

	pages := documentPages(t, parser)
	require.Len(t, pages, 3)

	// Pages come back in order with their payloads intact.
	for i, page := range pages {
		content, ok := core.GetStream(page.Get("Contents"))
		require.True(t, ok)
		decoded, err := core.DecodeStream(content)
		require.NoError(t, err)
		require.Equal(t, pageContent(i), string(decoded))
	}
}

func TestLinearizedSinglePage(t *testing.T) {
	w := makeTestDocument(t, 1)
	w.SetLinearized(true)

	var buf bytes.Buffer
	require.NoError(t, w.Write(&buf))

	L, _, _, _, _, N, _ := linearizedParams(t, buf.Bytes())
	require.Equal(t, int64(buf.Len()), L)
	require.Equal(t, int64(1), N)

	parser, err := core.NewParser(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, documentPages(t, parser), 1)
}

func TestLinearizedSharedObjects(t *testing.T) {
	// A font dictionary shared by all pages must end up addressable from
	// every page after the rewrite.
	w := NewWriter()

	font := core.MakeDict()
	font.Set("Type", core.MakeName("Font"))
	font.Set("Subtype", core.MakeName("Type1"))
	font.Set("BaseFont", core.MakeName("Helvetica"))
	fontInd := core.MakeIndirectObject(font)

	pagesDict := core.MakeDict()
	pagesDict.Set("Type", core.MakeName("Pages"))
	pagesInd := core.MakeIndirectObject(pagesDict)

	kids := core.MakeArray()
	for i := 0; i < 2; i++ {
		content, err := core.MakeStream([]byte(pageContent(i)), core.NewFlateEncoder())
		require.NoError(t, err)

		resources := core.MakeDict()
		fonts := core.MakeDict()
		fonts.Set("F1", fontInd)
		resources.Set("Font", fonts)

		pageDict := core.MakeDict()
		pageDict.Set("Type", core.MakeName("Page"))
		pageDict.Set("Parent", pagesInd)
		pageDict.Set("Resources", resources)
		pageDict.Set("Contents", content)
		kids.Append(core.MakeIndirectObject(pageDict))
	}
	pagesDict.Set("Kids", kids)
	pagesDict.Set("Count", core.MakeInteger(2))
	w.Catalog().Set("Pages", pagesInd)
	require.NoError(t, w.AddObject(pagesInd))

	w.SetLinearized(true)
	var buf bytes.Buffer
	require.NoError(t, w.Write(&buf))

	parser, err := core.NewParser(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	pages := documentPages(t, parser)
	require.Len(t, pages, 2)
	for _, page := range pages {
		resources, ok := core.GetDict(page.Get("Resources"))
		require.True(t, ok)
		fonts, ok := core.GetDict(resources.Get("Font"))
		require.True(t, ok)
		fontDict, ok := core.GetDict(fonts.Get("F1"))
		require.True(t, ok)
		base, _ := core.GetNameVal(fontDict.Get("BaseFont"))
		require.Equal(t, "Helvetica", base)
	}

	// Both pages reference the same shared font object.
	r1, ok := mustFontRef(pages[0])
	require.True(t, ok)
	r2, ok := mustFontRef(pages[1])
	require.True(t, ok)
	require.Equal(t, r1, r2)
}

func mustFontRef(page *core.Dict) (int64, bool) {
	resources, ok := core.GetDict(page.Get("Resources"))
	if !ok {
		return 0, false
	}
	fonts, ok := core.GetDict(resources.Get("Font"))
	if !ok {
		return 0, false
	}
	ref, ok := fonts.Get("F1").(*core.Reference)
	if !ok {
		return 0, false
	}
	return ref.ObjectNumber, true
}

func TestLinearizedNoPagesFails(t *testing.T) {
	w := NewWriter()
	w.SetLinearized(true)

	var buf bytes.Buffer
	err := w.Write(&buf)
	require.Error(t, err)
	require.Contains(t, err.Error(), "pages")
}
