package core

// Routines related to repairing malformed pdf files.

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"

	"github.com/pdfmill/pdfmill/common"
)

var repairReXrefTable = regexp.MustCompile(`[\r\n]\s*(xref)\s*[\r\n]`)
var repairReTrailer = regexp.MustCompile(`trailer`)

// repairLocateXref locates a standard xref table by looking for the
// "xref" keyword near the current position. Xref object streams are not
// handled by this path.
func (parser *Parser) repairLocateXref() (int64, error) {
	readBuf := int64(1000)
	parser.rs.Seek(-readBuf, io.SeekCurrent)

	curOffset, err := parser.rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	b2 := make([]byte, readBuf)
	parser.rs.Read(b2)

	results := repairReXrefTable.FindAllStringIndex(string(b2), -1)
	if len(results) < 1 {
		common.Log.Debug("ERROR: Repair: xref not found!")
		return 0, errors.New("repair: xref not found")
	}

	localOffset := int64(results[len(results)-1][0])
	xrefOffset := curOffset + localOffset
	return xrefOffset, nil
}

// rebuildXrefTable renumbers the xref table. Useful when the cross
// reference entries point at objects with the wrong numbers.
func (parser *Parser) rebuildXrefTable() error {
	newXrefs := XrefTable{}
	newXrefs.ObjectMap = map[int]XrefEntry{}
	for objNum, xref := range parser.xrefs.ObjectMap {
		obj, _, err := parser.lookupByNumberWrapper(objNum, false)
		if err != nil {
			common.Log.Debug("ERROR: Unable to look up object (%s)", err)
			common.Log.Debug("ERROR: Xref table completely broken - attempting to repair ")
			xrefTable, err := parser.repairRebuildXrefsTopDown()
			if err != nil {
				common.Log.Debug("ERROR: Failed xref rebuild repair (%s)", err)
				return err
			}
			parser.xrefs = *xrefTable
			common.Log.Debug("Repaired xref table built")
			return nil
		}
		actObjNum, actGenNum, err := getObjectNumber(obj)
		if err != nil {
			return err
		}

		xref.ObjectNumber = int(actObjNum)
		xref.Generation = int(actGenNum)
		newXrefs.ObjectMap[int(actObjNum)] = xref
	}

	parser.xrefs = newXrefs
	parser.appendWarning(newParseError("", 0, errors.New("xref entries pointed at wrong objects - table renumbered")))
	common.Log.Debug("New xref table built")
	printXrefTable(parser.xrefs)
	return nil
}

// parseObjectNumberFromString parses the object and generation number
// from a string such as "12 0 obj" -> (12,0,nil).
func parseObjectNumberFromString(str string) (int, int, error) {
	result := reIndirectObject.FindStringSubmatch(str)
	if len(result) < 3 {
		return 0, 0, errors.New("unable to detect indirect object signature")
	}

	on, _ := strconv.Atoi(result[1])
	gn, _ := strconv.Atoi(result[2])

	return on, gn, nil
}

// repairRebuildXrefsTopDown parses the entire file from top down, going
// through the file byte-by-byte looking for "<num> <gen> obj" patterns.
// N.B. This collects the XrefTypeTableEntry data only; entries that the
// previously loaded xref placed inside object streams survive so the
// containers remain locatable.
func (parser *Parser) repairRebuildXrefsTopDown() (*XrefTable, error) {
	if parser.repairsAttempted {
		// Avoid multiple repairs (only try once).
		return nil, fmt.Errorf("repair failed")
	}
	parser.repairsAttempted = true
	parser.appendWarning(newParseError("", 0, errors.New("cross-reference data unusable - reconstructing from full scan")))

	// Go to beginning, reset reader.
	parser.rs.Seek(0, io.SeekStart)
	parser.reader = bufio.NewReader(parser.rs)

	// Keep a running buffer of last bytes.
	bufLen := 20
	last := make([]byte, bufLen)

	xrefTable := XrefTable{}
	xrefTable.ObjectMap = make(map[int]XrefEntry)

	// Keep entries residing in object streams; the full scan below only
	// finds standalone objects and the containers themselves.
	for objNum, xref := range parser.xrefs.ObjectMap {
		if xref.XType == XrefTypeObjectStream {
			xrefTable.ObjectMap[objNum] = xref
		}
	}

	for {
		b, err := parser.reader.ReadByte()
		if err != nil {
			if err == io.EOF {
				break
			} else {
				return nil, err
			}
		}

		// Format:
		// object number - whitespace - generation number - obj
		// e.g. "12 0 obj"
		if b == 'j' && last[bufLen-1] == 'b' && last[bufLen-2] == 'o' && IsWhiteSpace(last[bufLen-3]) {
			i := bufLen - 4
			// Go past whitespace
			for IsWhiteSpace(last[i]) && i > 0 {
				i--
			}
			if i == 0 || !IsDecimalDigit(last[i]) {
				continue
			}
			// Go past generation number
			for IsDecimalDigit(last[i]) && i > 0 {
				i--
			}
			if i == 0 || !IsWhiteSpace(last[i]) {
				continue
			}
			// Go past whitespace
			for IsWhiteSpace(last[i]) && i > 0 {
				i--
			}
			if i == 0 || !IsDecimalDigit(last[i]) {
				continue
			}
			// Go past object number.
			for IsDecimalDigit(last[i]) && i > 0 {
				i--
			}
			if i == 0 {
				continue // Probably too long to be a valid object...
			}

			objOffset := parser.GetFileOffset() - int64(bufLen-i)

			objstr := append(last[i+1:], b)
			objNum, genNum, err := parseObjectNumberFromString(string(objstr))
			if err != nil {
				common.Log.Debug("Unable to parse object number: %v", err)
				return nil, err
			}
			if int64(objNum) > parser.maxObjectNumber() {
				continue
			}

			// Create and insert the xref entry if not existing, or the
			// generation number is higher. Entries found later in the
			// file take precedence at the same generation.
			if curXref, has := xrefTable.ObjectMap[objNum]; !has || curXref.Generation <= genNum {
				xrefEntry := XrefEntry{}
				xrefEntry.XType = XrefTypeTableEntry
				xrefEntry.ObjectNumber = objNum
				xrefEntry.Generation = genNum
				xrefEntry.Offset = objOffset
				xrefTable.ObjectMap[objNum] = xrefEntry
			}
		}

		last = append(last[1:bufLen], b)
	}

	if len(parser.warnings) > repairWarningLimit {
		return nil, ErrTooManyRepairs
	}

	return &xrefTable, nil
}

// repairParseFile performs a full-file recovery: rebuilds the xref table
// by scanning and locates a usable trailer dictionary. Called when the
// normal xref loading path fails outright.
func (parser *Parser) repairParseFile() (*Dict, error) {
	xrefTable, err := parser.repairRebuildXrefsTopDown()
	if err != nil {
		return nil, err
	}
	parser.xrefs = *xrefTable
	parser.objCache = objectCache{}

	// Locate trailer dictionaries by scanning for the keyword; the last
	// one in the file that parses and carries /Root wins.
	if trailer, err := parser.repairLocateTrailer(); err == nil {
		return trailer, nil
	}

	// No classical trailer found. Look for an xref stream among the
	// recovered objects; the last one in the file wins. Its dictionary
	// doubles as the trailer and its entries locate compressed objects.
	common.Log.Debug("No trailer found - looking for an xref stream among recovered objects")
	var candidates []XrefEntry
	for _, xref := range parser.xrefs.ObjectMap {
		if xref.XType == XrefTypeTableEntry && xref.Offset > 0 {
			candidates = append(candidates, xref)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Offset > candidates[j].Offset
	})
	for _, xref := range candidates {
		parser.SetFileOffset(xref.Offset)
		obj, err := parser.parseIndirectObject()
		if err != nil {
			continue
		}
		stream, isStream := obj.(*Stream)
		if !isStream {
			continue
		}
		if name, ok := stream.Dict.Get("Type").(*Name); !ok || *name != "XRef" {
			continue
		}
		// Parse it for its trailer keys and compressed-object entries.
		parser.SetFileOffset(xref.Offset)
		trailer, err := parser.parseXrefStream(nil)
		if err != nil {
			continue
		}
		parser.appendWarning(newParseError("", xref.Offset, errors.New("recovered trailer from xref stream")))
		return trailer, nil
	}

	return nil, errors.New("unable to locate a trailer dictionary")
}

// repairLocateTrailer scans the file for "trailer" keywords and returns
// the last trailer dictionary that parses successfully and has a /Root
// entry.
func (parser *Parser) repairLocateTrailer() (*Dict, error) {
	parser.rs.Seek(0, io.SeekStart)

	// Scan for keyword occurrences in chunks, keeping absolute offsets.
	var trailerOffsets []int64
	const chunkSize = 4096
	overlap := len("trailer") - 1
	buf := make([]byte, chunkSize+overlap)
	base := int64(0)
	carry := 0
	for {
		n, err := parser.rs.Read(buf[carry:])
		if n > 0 {
			data := buf[:carry+n]
			for _, loc := range repairReTrailer.FindAllIndex(data, -1) {
				trailerOffsets = append(trailerOffsets, base+int64(loc[0]))
			}
			// Keep the tail so matches spanning chunks are not lost.
			keep := overlap
			if len(data) < keep {
				keep = len(data)
			}
			copy(buf, data[len(data)-keep:])
			base += int64(len(data) - keep)
			carry = keep
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	if len(trailerOffsets) == 0 {
		return nil, errors.New("no trailer keyword found")
	}

	// The last one in the file that parses into a dictionary wins.
	for i := len(trailerOffsets) - 1; i >= 0; i-- {
		if len(parser.warnings) > repairWarningLimit {
			return nil, ErrTooManyRepairs
		}
		parser.SetFileOffset(trailerOffsets[i] + int64(len("trailer")))
		parser.skipSpaces()
		parser.skipComments()
		trailer, err := parser.ParseDict()
		if err != nil {
			parser.appendWarning(newParseError("", trailerOffsets[i], errors.New("unparseable trailer candidate - skipping")))
			continue
		}
		if trailer.Get("Root") == nil {
			common.Log.Debug("Trailer candidate without Root - skipping")
			continue
		}
		return trailer, nil
	}

	return nil, errors.New("no usable trailer dictionary found")
}

// repairSeekXrefMarker looks for the first sign of an xref table from the
// end of the file and positions the reader at it.
func (parser *Parser) repairSeekXrefMarker() error {
	// Get the file size.
	fSize, err := parser.rs.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}

	reXrefTableStart := regexp.MustCompile(`\sxref\s*`)

	// Define the starting point (from the end of the file) to search from.
	var offset int64

	// Define a buffer length in terms of how many bytes to read from the
	// end of the file.
	var buflen int64 = 1000

	for offset < fSize {
		if fSize <= (buflen + offset) {
			buflen = fSize - offset
		}

		// Move back enough (as we need to read forward).
		_, err := parser.rs.Seek(-offset-buflen, io.SeekEnd)
		if err != nil {
			return err
		}

		// Read the data.
		b1 := make([]byte, buflen)
		parser.rs.Read(b1)

		common.Log.Trace("Looking for xref : \"%s\"", string(b1))
		ind := reXrefTableStart.FindAllStringIndex(string(b1), -1)
		if ind != nil {
			// Found it.
			lastInd := ind[len(ind)-1]
			common.Log.Trace("Ind: % d", ind)
			parser.rs.Seek(-offset-buflen+int64(lastInd[0]), io.SeekEnd)
			parser.reader = bufio.NewReader(parser.rs)
			// Go past whitespace, finish at 'x'.
			for {
				bb, err := parser.reader.Peek(1)
				if err != nil {
					return err
				}
				common.Log.Trace("B: %d %c", bb[0], bb[0])
				if !IsWhiteSpace(bb[0]) {
					break
				}
				parser.reader.Discard(1)
			}

			return nil
		}

		common.Log.Debug("Warning: EOF marker not found! - continue seeking")
		offset += buflen
	}

	common.Log.Debug("Error: Xref table marker was not found.")
	return errors.New("xref not found ")
}

// seekPdfVersionTopDown is called when the PDF version is not found in
// the header. Looks for the version marker by scanning top-down.
func (parser *Parser) seekPdfVersionTopDown() (int, int, error) {
	// Go to beginning, reset reader.
	parser.rs.Seek(0, io.SeekStart)
	parser.reader = bufio.NewReader(parser.rs)

	// Keep a running buffer of last bytes.
	bufLen := 20
	last := make([]byte, bufLen)

	for {
		b, err := parser.reader.ReadByte()
		if err != nil {
			if err == io.EOF {
				break
			} else {
				return 0, 0, err
			}
		}

		// Match "%PDF-M.m" anywhere in the file.
		if IsDecimalDigit(b) && last[bufLen-1] == '.' && IsDecimalDigit(last[bufLen-2]) && last[bufLen-3] == '-' &&
			last[bufLen-4] == 'F' && last[bufLen-5] == 'D' && last[bufLen-6] == 'P' {
			major := int(last[bufLen-2] - '0')
			minor := int(b - '0')
			return major, minor, nil
		}

		last = append(last[1:bufLen], b)
	}

	return 0, 0, ErrNoPdfVersion
}
