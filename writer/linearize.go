package writer

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/pdfmill/pdfmill/common"
	"github.com/pdfmill/pdfmill/core"
)

// Linearized output is produced in two passes, because the first-page
// section carries values (file length, hint stream position, xref
// offsets) that refer forward. Pass 1 writes to a counting discard sink
// with the hint stream omitted; the hint tables are then computed from
// pass-1 offsets — which therefore exclude the hint stream bytes, exactly
// as the hint encoding requires — and pass 2 writes the real bytes with
// every post-hint offset shifted by the hint object's length. All forward
// referring numeric fields are zero-padded to a fixed width so both
// passes produce identical byte layouts.

// linLayout describes the computed linearized object order.
type linLayout struct {
	// front holds the document-open objects in file order: catalog,
	// ViewerPreferences/PageMode/Threads/OpenAction/AcroForm targets,
	// and the encryption dictionary. The linearization dictionary and
	// the hint stream are emitted around them.
	front []core.Object
	// part6 is the first-page section: the first page object followed by
	// objects referenced only from the first page, then outlines when the
	// document opens in outline mode.
	part6 []core.Object
	// pageGroups holds the private objects of pages 2..N (page object
	// first), in page order.
	pageGroups [][]core.Object
	// shared holds objects referenced from more than one page.
	shared []core.Object
	// rest is everything else: pages tree, info, unreferenced content.
	rest []core.Object

	pages        []*core.Indirect
	sharedIndex  map[core.Object]int
	pageUsers    map[core.Object]map[int]bool
	outlineCount int

	linDictNum   int
	firstPageNum int
	hintNum      int
	catalogNum   int
	infoNum      int
	encryptNum   int
	totalObjects int
	nBack        int
}

// linPassResult carries the byte positions recorded during one
// linearization pass.
type linPassResult struct {
	offsets      map[int]int64
	firstXref    int64
	hintPos      int64
	endFirstPage int64
	mainXref     int64
	tOffset      int64
	fileLen      int64
	// pageBounds[i] is the [start, end) byte range of page i's section
	// (index 0 is the first-page section).
	pageBounds    [][2]int64
	sharedStarts  []int64
	sharedEnd     int64
	outlineStart  int64
	outlineLength int64
}

func setObjectNumber(obj core.Object, num int) {
	switch o := obj.(type) {
	case *core.Indirect:
		o.ObjectNumber = int64(num)
		o.GenerationNumber = 0
	case *core.Stream:
		o.ObjectNumber = int64(num)
		o.GenerationNumber = 0
	}
}

func objectNumberOf(obj core.Object) int {
	switch o := obj.(type) {
	case *core.Indirect:
		return int(o.ObjectNumber)
	case *core.Stream:
		return int(o.ObjectNumber)
	}
	return 0
}

// collectPages walks the pages tree and returns the page objects in order.
func (w *Writer) collectPages() []*core.Indirect {
	var pages []*core.Indirect
	visited := map[core.Object]bool{}

	var walk func(obj core.Object)
	walk = func(obj core.Object) {
		ind, ok := obj.(*core.Indirect)
		if !ok {
			return
		}
		if visited[ind] {
			return
		}
		visited[ind] = true
		dict, ok := core.GetDict(ind.Object)
		if !ok {
			return
		}
		if t, _ := core.GetNameVal(dict.Get("Type")); t == "Page" {
			pages = append(pages, ind)
			return
		}
		if kids, ok := core.GetArray(dict.Get("Kids")); ok {
			for _, k := range kids.Elements() {
				walk(core.ResolveReference(k))
			}
		}
	}

	walk(core.ResolveReference(w.catalog.Get("Pages")))
	return pages
}

// markPageUsers records page `idx` as a user of every object transitively
// referenced from `obj`, without crossing into other pages, the pages
// tree or the catalog.
func (w *Writer) markPageUsers(obj core.Object, idx int, users map[core.Object]map[int]bool,
	visited map[core.Object]bool, pageSet map[core.Object]bool) {
	switch t := obj.(type) {
	case *core.Indirect:
		if visited[t] {
			return
		}
		if pageSet[t] || t == w.root {
			return
		}
		if dict, ok := core.GetDict(t.Object); ok {
			if tp, _ := core.GetNameVal(dict.Get("Type")); tp == "Pages" {
				return
			}
		}
		visited[t] = true
		if users[t] == nil {
			users[t] = map[int]bool{}
		}
		users[t][idx] = true
		w.markPageUsers(t.Object, idx, users, visited, pageSet)
	case *core.Stream:
		if visited[t] {
			return
		}
		visited[t] = true
		if users[t] == nil {
			users[t] = map[int]bool{}
		}
		users[t][idx] = true
		w.markPageUsers(t.Dict, idx, users, visited, pageSet)
	case *core.Dict:
		for _, key := range t.Keys() {
			if key == "Parent" {
				continue
			}
			w.markPageUsers(t.Get(key), idx, users, visited, pageSet)
		}
	case *core.Array:
		for _, el := range t.Elements() {
			w.markPageUsers(el, idx, users, visited, pageSet)
		}
	}
}

// collectReachable gathers the indirect objects reachable from `obj`.
func collectReachable(obj core.Object, out map[core.Object]bool) {
	switch t := obj.(type) {
	case *core.Indirect:
		if out[t] {
			return
		}
		out[t] = true
		collectReachable(t.Object, out)
	case *core.Stream:
		if out[t] {
			return
		}
		out[t] = true
		collectReachable(t.Dict, out)
	case *core.Dict:
		for _, key := range t.Keys() {
			if key == "Parent" {
				continue
			}
			collectReachable(t.Get(key), out)
		}
	case *core.Array:
		for _, el := range t.Elements() {
			collectReachable(el, out)
		}
	}
}

// buildLinearLayout categorizes the enqueued objects into the linearized
// parts. Ambiguities resolve to the first applicable rule in part order.
func (w *Writer) buildLinearLayout() (*linLayout, error) {
	l := &linLayout{}

	l.pages = w.collectPages()
	if len(l.pages) == 0 {
		return nil, errors.New("unable to find any pages")
	}

	pageSet := map[core.Object]bool{}
	for _, p := range l.pages {
		pageSet[p] = true
	}

	// Per-object user sets.
	users := map[core.Object]map[int]bool{}
	for i, page := range l.pages {
		visited := map[core.Object]bool{}
		w.markPageUsers(page.Object, i, users, visited, pageSet)
	}
	l.pageUsers = users

	// Document-open objects.
	special := map[core.Object]bool{w.root: true}
	l.front = append(l.front, w.root)
	for _, key := range []core.Name{"ViewerPreferences", "PageMode", "Threads", "OpenAction", "AcroForm"} {
		v := w.catalog.Get(key)
		if ind, ok := v.(*core.Indirect); ok && !special[ind] {
			special[ind] = true
			l.front = append(l.front, ind)
		}
	}
	if w.encryptObj != nil {
		special[w.encryptObj] = true
		l.front = append(l.front, w.encryptObj)
	}

	// Outline objects go into the first-page section when the document
	// opens with outlines visible.
	outlineObjs := map[core.Object]bool{}
	useOutlines := false
	if pm, ok := core.GetNameVal(w.catalog.Get("PageMode")); ok && pm == "UseOutlines" {
		useOutlines = true
		if outlines := w.catalog.Get("Outlines"); outlines != nil {
			collectReachable(core.ResolveReference(outlines), outlineObjs)
		}
	}

	l.pageGroups = make([][]core.Object, len(l.pages))
	for i := 1; i < len(l.pages); i++ {
		l.pageGroups[i] = append(l.pageGroups[i], l.pages[i])
	}
	l.part6 = append(l.part6, l.pages[0])

	var outlineTail []core.Object
	l.sharedIndex = map[core.Object]int{}

	for _, obj := range w.objects {
		switch obj.(type) {
		case *core.Indirect, *core.Stream:
		default:
			continue
		}
		if special[obj] || pageSet[obj] {
			continue
		}
		if useOutlines && outlineObjs[obj] {
			outlineTail = append(outlineTail, obj)
			continue
		}
		u := users[obj]
		switch {
		case len(u) == 1:
			var idx int
			for i := range u {
				idx = i
			}
			if idx == 0 {
				l.part6 = append(l.part6, obj)
			} else {
				l.pageGroups[idx] = append(l.pageGroups[idx], obj)
			}
		case len(u) > 1:
			l.sharedIndex[obj] = len(l.shared)
			l.shared = append(l.shared, obj)
		default:
			l.rest = append(l.rest, obj)
		}
	}

	l.part6 = append(l.part6, outlineTail...)
	l.outlineCount = len(outlineTail)

	return l, nil
}

// assignLinearNumbers numbers the second half 1..n and continues with the
// front half, so both cross-reference tables cover single contiguous
// subsections.
func (w *Writer) assignLinearNumbers(l *linLayout) {
	num := 1
	for i := 1; i < len(l.pageGroups); i++ {
		for _, obj := range l.pageGroups[i] {
			setObjectNumber(obj, num)
			num++
		}
	}
	for _, obj := range l.shared {
		setObjectNumber(obj, num)
		num++
	}
	for _, obj := range l.rest {
		setObjectNumber(obj, num)
		num++
	}
	l.nBack = num - 1

	l.linDictNum = num
	num++
	for _, obj := range l.front {
		setObjectNumber(obj, num)
		num++
	}
	l.hintNum = num
	num++
	for _, obj := range l.part6 {
		setObjectNumber(obj, num)
		num++
	}
	l.totalObjects = num - 1

	l.firstPageNum = objectNumberOf(l.pages[0])
	l.catalogNum = objectNumberOf(w.root)
	if w.infoObj != nil {
		l.infoNum = objectNumberOf(w.infoObj)
	}
	if w.encryptObj != nil {
		l.encryptNum = objectNumberOf(w.encryptObj)
	}
}

// writeAndRecord writes an object and records its start offset.
func (w *Writer) writeAndRecord(obj core.Object, res *linPassResult) {
	num := objectNumberOf(obj)
	res.offsets[num] = w.writePos
	w.writeObject(num, obj)
}

// linearizePass emits the full linearized byte layout once. With prev ==
// nil this is the measuring pass: forward values are written as padded
// zeros and the hint stream is omitted. With prev set, real values from
// the previous pass are used, shifted by the hint object length for
// positions at or beyond the hint insertion point.
func (w *Writer) linearizePass(sink io.Writer, l *linLayout, prev *linPassResult, hintObj []byte, hintLen int64) (*linPassResult, error) {
	res := &linPassResult{offsets: map[int]int64{}}
	w.writer = bufio.NewWriter(sink)
	w.writePos = 0
	w.werr = nil
	w.crossReferenceMap = make(map[int]crossReference)

	// pval returns the final absolute offset of an object, from the
	// measuring pass plus the hint shift.
	pval := func(objNum int) int64 {
		if prev == nil {
			return 0
		}
		if objNum == l.hintNum {
			return prev.hintPos
		}
		off := prev.offsets[objNum]
		if off >= prev.hintPos {
			off += hintLen
		}
		return off
	}

	// Part 1: header.
	w.writeString(fmt.Sprintf("%%PDF-%d.%d\n", w.majorVersion, w.minorVersion))
	w.writeString("%\xBF\xF7\xA2\xFE\n")

	// Part 2: linearization parameter dictionary. All forward values are
	// fixed width so the measuring pass reserves the exact room.
	res.offsets[l.linDictNum] = w.writePos
	var fileLen, hintPos, endFP, tOff int64
	if prev != nil {
		fileLen = prev.fileLen + hintLen
		hintPos = prev.hintPos
		endFP = prev.endFirstPage + hintLen
		tOff = prev.tOffset + hintLen
	}
	w.writeString(fmt.Sprintf("%d 0 obj\n<< /Linearized 1 /L %011d /H [ %011d %011d ] /O %d /E %011d /N %d /T %011d >>\nendobj\n",
		l.linDictNum, fileLen, hintPos, hintLen, l.firstPageNum, endFP, len(l.pages), tOff))

	// Part 3: first-page cross-reference table.
	res.firstXref = w.writePos
	frontCount := l.totalObjects - l.nBack
	w.writeString(fmt.Sprintf("xref\n%d %d\n", l.linDictNum, frontCount))
	for n := l.linDictNum; n < l.linDictNum+frontCount; n++ {
		w.writeString(fmt.Sprintf("%010d %05d n \n", pval(n), 0))
	}
	var mainXrefOff int64
	if prev != nil {
		mainXrefOff = prev.mainXref + hintLen
	}
	trailerStr := fmt.Sprintf("trailer\n<< /Size %d /Prev %011d /Root %d 0 R", l.totalObjects+1, mainXrefOff, l.catalogNum)
	if l.infoNum != 0 {
		trailerStr += fmt.Sprintf(" /Info %d 0 R", l.infoNum)
	}
	if l.encryptNum != 0 {
		trailerStr += fmt.Sprintf(" /Encrypt %d 0 R", l.encryptNum)
	}
	trailerStr += fmt.Sprintf(" /ID %s >>\nstartxref\n0\n%%%%EOF\n", w.ids.WriteString())
	w.writeString(trailerStr)

	// Part 4: document-open objects (catalog first), plus the encryption
	// dictionary.
	for _, obj := range l.front {
		w.writeAndRecord(obj, res)
	}

	// Part 5: hint stream (second pass only; the measuring pass records
	// the insertion point).
	res.hintPos = w.writePos
	if hintObj != nil {
		w.writeBytes(hintObj)
	}

	// Part 6: first-page section.
	res.pageBounds = make([][2]int64, len(l.pages))
	start := w.writePos
	outlineStartIdx := len(l.part6) - l.outlineCount
	for i, obj := range l.part6 {
		if i == outlineStartIdx && l.outlineCount > 0 {
			res.outlineStart = w.writePos
		}
		w.writeAndRecord(obj, res)
	}
	res.endFirstPage = w.writePos
	res.pageBounds[0] = [2]int64{start, w.writePos}
	if l.outlineCount > 0 {
		res.outlineLength = w.writePos - res.outlineStart
	}

	// Part 7: remaining pages' private objects, in page order.
	for i := 1; i < len(l.pageGroups); i++ {
		start := w.writePos
		for _, obj := range l.pageGroups[i] {
			w.writeAndRecord(obj, res)
		}
		res.pageBounds[i] = [2]int64{start, w.writePos}
	}

	// Part 8: objects used by more than one page. This includes objects
	// the first page shares with later pages; they are not placed in the
	// first-page section.
	for _, obj := range l.shared {
		res.sharedStarts = append(res.sharedStarts, w.writePos)
		w.writeAndRecord(obj, res)
	}
	res.sharedEnd = w.writePos

	// Part 9: everything else.
	for _, obj := range l.rest {
		w.writeAndRecord(obj, res)
	}

	// Part 11: main cross-reference table and trailer.
	res.mainXref = w.writePos
	w.writeString(fmt.Sprintf("xref\n0 %d\n", l.nBack+1))
	res.tOffset = w.writePos
	w.writeString("0000000000 65535 f \n")
	for n := 1; n <= l.nBack; n++ {
		w.writeString(fmt.Sprintf("%010d %05d n \n", pval(n), 0))
	}
	endTrailer := fmt.Sprintf("trailer\n<< /Size %d /Root %d 0 R", l.totalObjects+1, l.catalogNum)
	if l.infoNum != 0 {
		endTrailer += fmt.Sprintf(" /Info %d 0 R", l.infoNum)
	}
	if l.encryptNum != 0 {
		endTrailer += fmt.Sprintf(" /Encrypt %d 0 R", l.encryptNum)
	}
	endTrailer += fmt.Sprintf(" /ID %s >>\nstartxref\n%d\n%%%%EOF\n", w.ids.WriteString(), res.firstXref)
	w.writeString(endTrailer)

	if w.werr == nil {
		w.werr = w.writer.Flush()
	}
	res.fileLen = w.writePos

	return res, w.werr
}

// buildHintStream computes the hint tables from the measuring pass and
// renders the complete hint stream object bytes.
func (w *Writer) buildHintStream(l *linLayout, p1 *linPassResult) ([]byte, error) {
	pages := make([]pageHintInfo, len(l.pages))
	for i := range l.pages {
		info := pageHintInfo{
			offset: p1.pageBounds[i][0],
			length: p1.pageBounds[i][1] - p1.pageBounds[i][0],
		}
		if i == 0 {
			info.nObjects = len(l.part6)
		} else {
			info.nObjects = len(l.pageGroups[i])
		}
		// Shared object references of this page, as indices into the
		// shared table.
		for obj, idx := range l.sharedIndex {
			if l.pageUsers[obj][i] {
				info.sharedRefs = append(info.sharedRefs, idx)
			}
		}
		sort.Ints(info.sharedRefs)
		pages[i] = info
	}

	shared := sharedHintInfo{}
	if len(l.shared) > 0 {
		shared.firstObjectNum = objectNumberOf(l.shared[0])
		shared.firstOffset = p1.sharedStarts[0]
		shared.nFirstPage = len(pages[0].sharedRefs)
		for i := range l.shared {
			end := p1.sharedEnd
			if i+1 < len(p1.sharedStarts) {
				end = p1.sharedStarts[i+1]
			}
			shared.groupLengths = append(shared.groupLengths, end-p1.sharedStarts[i])
		}
	}

	var outline *outlineHintInfo
	if l.outlineCount > 0 {
		outline = &outlineHintInfo{
			firstObjectNum: objectNumberOf(l.part6[len(l.part6)-l.outlineCount]),
			offset:         p1.outlineStart,
			nObjects:       l.outlineCount,
			groupLength:    p1.outlineLength,
		}
	}

	tables := buildHintTables(pages, shared, outline)

	encoder := core.NewFlateEncoder()
	compressed, err := encoder.EncodeBytes(tables.data)
	if err != nil {
		return nil, err
	}

	hintStream := &core.Stream{}
	hintStream.ObjectNumber = int64(l.hintNum)
	hintStream.Dict = core.MakeDict()
	hintStream.Dict.Set("Filter", core.MakeName(core.StreamEncodingFilterNameFlate))
	hintStream.Dict.Set("S", core.MakeInteger(int64(tables.sharedOffset)))
	if outline != nil {
		hintStream.Dict.Set("O", core.MakeInteger(int64(tables.outlineOffset)))
	}
	hintStream.Data = compressed

	if w.crypter != nil {
		if err := w.crypter.Encrypt(hintStream, int64(l.hintNum), 0); err != nil {
			return nil, err
		}
	}
	hintStream.Dict.Set("Length", core.MakeInteger(int64(len(hintStream.Data))))

	var b bytes.Buffer
	b.WriteString(fmt.Sprintf("%d 0 obj\n", l.hintNum))
	b.WriteString(hintStream.Dict.WriteString())
	b.WriteString("\nstream\n")
	b.Write(hintStream.Data)
	b.WriteString("\nendstream\nendobj\n")
	return b.Bytes(), nil
}

// writeLinearized produces the web-optimized layout. Object streams are
// not used: the first-page cross-reference section is a classical table,
// which keeps both passes byte-stable.
func (w *Writer) writeLinearized(sink io.Writer) error {
	w.checkPendingObjects()
	w.copyObjects()
	w.prepareStreams()

	if w.majorVersion < 1 || (w.majorVersion == 1 && w.minorVersion < 3) {
		w.majorVersion, w.minorVersion = 1, 3
	}
	w.generateIDs()

	l, err := w.buildLinearLayout()
	if err != nil {
		return err
	}
	w.assignLinearNumbers(l)

	// Encrypt up front: object content must be identical in both passes,
	// and AES output is randomized per invocation.
	if w.crypter != nil {
		all := make([]core.Object, 0, l.totalObjects)
		all = append(all, l.front...)
		all = append(all, l.part6...)
		for i := 1; i < len(l.pageGroups); i++ {
			all = append(all, l.pageGroups[i]...)
		}
		all = append(all, l.shared...)
		all = append(all, l.rest...)
		for _, obj := range all {
			if obj == w.encryptObj {
				continue
			}
			if err := w.crypter.Encrypt(obj, int64(objectNumberOf(obj)), 0); err != nil {
				common.Log.Debug("ERROR: Failed encrypting (%s)", err)
				return err
			}
			if stream, isStream := obj.(*core.Stream); isStream {
				stream.Dict.Set("Length", core.MakeInteger(int64(len(stream.Data))))
			}
		}
	}

	// Pass 1: measure.
	p1, err := w.linearizePass(io.Discard, l, nil, nil, 0)
	if err != nil {
		return err
	}

	hintObj, err := w.buildHintStream(l, p1)
	if err != nil {
		return err
	}

	// Pass 2: write for real.
	_, err = w.linearizePass(sink, l, p1, hintObj, int64(len(hintObj)))
	return err
}
