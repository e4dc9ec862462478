package core

import (
	"bufio"
	"errors"
	"io"

	"github.com/pdfmill/pdfmill/common"
)

// ReadAtLeast reads at least n bytes into slice p.
// Returns the number of bytes read (should always be == n), and an error
// on failure.
func (parser *Parser) ReadAtLeast(p []byte, n int) (int, error) {
	remaining := n
	start := 0
	numRounds := 0
	for remaining > 0 {
		nRead, err := parser.reader.Read(p[start:])
		if err != nil {
			common.Log.Debug("ERROR Failed reading (%d;%d) %s", nRead, numRounds, err.Error())
			return start, errors.New("failed reading")
		}
		numRounds++
		start += nRead
		remaining -= nRead
	}
	return start, nil
}

// GetFileOffset returns the current file offset, accounting for buffered position.
func (parser *Parser) GetFileOffset() int64 {
	offset, _ := parser.rs.Seek(0, io.SeekCurrent)
	offset -= int64(parser.reader.Buffered())
	return offset
}

// SetFileOffset sets the file to an offset position and resets the buffer.
func (parser *Parser) SetFileOffset(offset int64) {
	if offset < 0 {
		offset = 0
	}
	parser.rs.Seek(offset, io.SeekStart)
	parser.reader = bufio.NewReader(parser.rs)
}

// ReadBytesAt reads byte content at a specific offset and length within the PDF.
// The parser position is restored afterwards.
func (parser *Parser) ReadBytesAt(offset, length int64) ([]byte, error) {
	curPos := parser.GetFileOffset()

	_, err := parser.rs.Seek(offset, io.SeekStart)
	if err != nil {
		return nil, err
	}

	bb := make([]byte, length)
	_, err = io.ReadAtLeast(parser.rs, bb, int(length))
	if err != nil {
		return nil, err
	}

	// Restore.
	parser.SetFileOffset(curPos)

	return bb, nil
}

// offsetReader is a ReadSeeker view that hides `offset` leading bytes of
// the underlying source. Used when garbage precedes the %PDF header so
// that all later offsets stay consistent with the discovered header.
type offsetReader struct {
	rs     io.ReadSeeker
	offset int64
}

func newOffsetReader(rs io.ReadSeeker, offset int64) (*offsetReader, error) {
	r := &offsetReader{
		rs:     rs,
		offset: offset,
	}
	_, err := r.Seek(0, io.SeekStart)
	return r, err
}

func (r *offsetReader) Read(p []byte) (n int, err error) {
	return r.rs.Read(p)
}

func (r *offsetReader) Seek(offset int64, whence int) (int64, error) {
	if whence == io.SeekStart {
		offset += r.offset
	}
	n, err := r.rs.Seek(offset, whence)
	if err != nil {
		return n, err
	}
	if n < r.offset {
		return 0, errors.New("seek before the start of the data")
	}
	return n - r.offset, nil
}
