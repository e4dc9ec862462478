package core

// Stream filter implementations. Currently supported:
// - Raw (Identity)
// - FlateDecode
// - LZW
// - RunLength
// - ASCII Hex
// - ASCII85
// Image codecs (DCT, JPX, CCITT, JBIG2) are handled above this layer;
// streams carrying them pass through undecoded.

import (
	"bytes"
	"compress/zlib"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	// Two slightly different implementations of LZW are needed: the PDF
	// EarlyChange parameter selects when code lengths grow.
	lzw0 "compress/lzw"

	lzw1 "golang.org/x/image/tiff/lzw"

	"github.com/pdfmill/pdfmill/common"
)

// Stream encoding filter names.
const (
	StreamEncodingFilterNameFlate     = "FlateDecode"
	StreamEncodingFilterNameLZW       = "LZWDecode"
	StreamEncodingFilterNameDCT       = "DCTDecode"
	StreamEncodingFilterNameRunLength = "RunLengthDecode"
	StreamEncodingFilterNameASCIIHex  = "ASCIIHexDecode"
	StreamEncodingFilterNameASCII85   = "ASCII85Decode"
	StreamEncodingFilterNameCCITTFax  = "CCITTFaxDecode"
	StreamEncodingFilterNameJBIG2     = "JBIG2Decode"
	StreamEncodingFilterNameJPX       = "JPXDecode"
	StreamEncodingFilterNameRaw       = "Raw"
)

// StreamEncoder represents the interface for all PDF stream filters.
type StreamEncoder interface {
	GetFilterName() string
	MakeDecodeParams() Object
	MakeStreamDict() *Dict
	UpdateParams(params *Dict)

	EncodeBytes(data []byte) ([]byte, error)
	DecodeBytes(encoded []byte) ([]byte, error)
	DecodeStream(streamObj *Stream) ([]byte, error)
}

// FlateEncoder represents Flate encoding.
type FlateEncoder struct {
	Predictor        int
	BitsPerComponent int
	// For predictors
	Columns int
	Colors  int
}

// NewFlateEncoder makes a new flate encoder with default parameters,
// predictor 1 and bits per component 8.
func NewFlateEncoder() *FlateEncoder {
	encoder := &FlateEncoder{}

	// Default (No prediction)
	encoder.Predictor = 1

	// Currently only supporting 8.
	encoder.BitsPerComponent = 8

	encoder.Colors = 1
	encoder.Columns = 1

	return encoder
}

// SetPredictor sets the PNG sub predictor. Specify the number of samples
// per row; used for grouping data together for compression.
func (enc *FlateEncoder) SetPredictor(columns int) {
	enc.Predictor = 11
	enc.Columns = columns
}

// SetPredictorUp sets the PNG up predictor, used by cross reference
// streams. Specify the number of samples per row.
func (enc *FlateEncoder) SetPredictorUp(columns int) {
	enc.Predictor = 12
	enc.Columns = columns
}

// GetFilterName returns the name of the encoding filter.
func (enc *FlateEncoder) GetFilterName() string {
	return StreamEncodingFilterNameFlate
}

// MakeDecodeParams makes a new instance of an encoding dictionary based on
// the current encoder settings.
func (enc *FlateEncoder) MakeDecodeParams() Object {
	if enc.Predictor > 1 {
		decodeParams := MakeDict()
		decodeParams.Set("Predictor", MakeInteger(int64(enc.Predictor)))

		// Only add if not the default option.
		if enc.BitsPerComponent != 8 {
			decodeParams.Set("BitsPerComponent", MakeInteger(int64(enc.BitsPerComponent)))
		}
		if enc.Columns != 1 {
			decodeParams.Set("Columns", MakeInteger(int64(enc.Columns)))
		}
		if enc.Colors != 1 {
			decodeParams.Set("Colors", MakeInteger(int64(enc.Colors)))
		}
		return decodeParams
	}
	return nil
}

// MakeStreamDict makes a new instance of an encoding dictionary for a
// stream object, with the Filter and DecodeParms set.
func (enc *FlateEncoder) MakeStreamDict() *Dict {
	dict := MakeDict()
	dict.Set("Filter", MakeName(enc.GetFilterName()))

	decodeParams := enc.MakeDecodeParams()
	if decodeParams != nil {
		dict.Set("DecodeParms", decodeParams)
	}

	return dict
}

// UpdateParams updates the parameter values of the encoder.
func (enc *FlateEncoder) UpdateParams(params *Dict) {
	predictor, err := GetNumberAsInt64(params.Get("Predictor"))
	if err == nil {
		enc.Predictor = int(predictor)
	}

	bpc, err := GetNumberAsInt64(params.Get("BitsPerComponent"))
	if err == nil {
		enc.BitsPerComponent = int(bpc)
	}

	columns, err := GetNumberAsInt64(params.Get("Width"))
	if err == nil {
		enc.Columns = int(columns)
	}

	colorComponents, err := GetNumberAsInt64(params.Get("ColorComponents"))
	if err == nil {
		enc.Colors = int(colorComponents)
	}
}

// newFlateEncoderFromStream creates a flate decoder from a stream object,
// taking the encoding parameters from the DecodeParms dictionary entry.
func newFlateEncoderFromStream(streamObj *Stream, decodeParams *Dict) (*FlateEncoder, error) {
	encoder := NewFlateEncoder()

	encDict := streamObj.Dict
	if encDict == nil {
		// No encoding dictionary.
		return encoder, nil
	}

	// If decodeParams not provided, see if we can get from the stream.
	if decodeParams == nil {
		obj := TraceToDirect(encDict.Get("DecodeParms"))
		switch t := obj.(type) {
		case *Array:
			if t.Len() != 1 {
				common.Log.Debug("Error: DecodeParms array length != 1 (%d)", t.Len())
				return nil, ErrRangeError
			}
			obj = TraceToDirect(t.Get(0))
			if dp, ok := obj.(*Dict); ok {
				decodeParams = dp
			}
		case *Dict:
			decodeParams = t
		case *Null, nil:
			// No decode params set.
		default:
			common.Log.Debug("Error: DecodeParms not a dictionary (%T)", obj)
			return nil, fmt.Errorf("invalid DecodeParms")
		}
	}
	if decodeParams == nil {
		// Can safely return here, the rest depends on the decode params.
		return encoder, nil
	}

	common.Log.Trace("decode params: %s", decodeParams.String())
	obj := decodeParams.Get("Predictor")
	if obj == nil {
		common.Log.Debug("Error: Predictor missing from DecodeParms - Continue with default (1)")
	} else {
		predictor, ok := obj.(*Integer)
		if !ok {
			common.Log.Debug("Error: Predictor specified but not numeric (%T)", obj)
			return nil, fmt.Errorf("invalid Predictor")
		}
		encoder.Predictor = int(*predictor)
	}

	// Bits per component. Use default if not specified (8).
	obj = decodeParams.Get("BitsPerComponent")
	if obj != nil {
		bpc, ok := obj.(*Integer)
		if !ok {
			common.Log.Debug("ERROR: Invalid BitsPerComponent")
			return nil, fmt.Errorf("invalid BitsPerComponent")
		}
		encoder.BitsPerComponent = int(*bpc)
	}

	if encoder.Predictor > 1 {
		// Columns.
		encoder.Columns = 1
		obj = decodeParams.Get("Columns")
		if obj != nil {
			columns, ok := obj.(*Integer)
			if !ok {
				return nil, fmt.Errorf("predictor column invalid")
			}

			encoder.Columns = int(*columns)
		}

		// Colors: number of interleaved color components per sample
		// (default 1 if not specified).
		encoder.Colors = 1
		obj = decodeParams.Get("Colors")
		if obj != nil {
			colors, ok := obj.(*Integer)
			if !ok {
				return nil, fmt.Errorf("predictor colors not an integer")
			}
			encoder.Colors = int(*colors)
		}
	}

	return encoder, nil
}

// DecodeBytes decodes a slice of Flate encoded bytes and returns the result.
func (enc *FlateEncoder) DecodeBytes(encoded []byte) ([]byte, error) {
	common.Log.Trace("FlateDecode bytes")
	if len(encoded) == 0 {
		common.Log.Debug("ERROR: empty Flate encoded buffer. Returning empty byte slice.")
		return []byte{}, nil
	}

	bufReader := bytes.NewReader(encoded)
	r, err := zlib.NewReader(bufReader)
	if err != nil {
		common.Log.Debug("Decoding error %v\n", err)
		common.Log.Debug("Stream (%d) % x", len(encoded), encoded)
		return nil, err
	}
	defer r.Close()

	var outBuf bytes.Buffer
	outBuf.ReadFrom(r)

	return outBuf.Bytes(), nil
}

// Prediction filters for PNG predictors.
const (
	pfNone  = 0 // No prediction (raw).
	pfSub   = 1 // Predicts same as left sample.
	pfUp    = 2 // Predicts same as sample above.
	pfAvg   = 3 // Predict based on left and above.
	pfPaeth = 4 // Paeth algorithm prediction.
)

// postDecodePredict applies the predictor to decoded `outData` to get the
// final output data.
func (enc *FlateEncoder) postDecodePredict(outData []byte) ([]byte, error) {
	if enc.Predictor <= 1 {
		return outData, nil
	}

	if enc.Predictor == 2 { // TIFF encoding.
		common.Log.Trace("Tiff encoding")
		common.Log.Trace("Colors: %d", enc.Colors)

		rowLength := enc.Columns * enc.Colors
		if rowLength < 1 {
			// No data. Return empty set.
			return []byte{}, nil
		}
		rows := len(outData) / rowLength
		if len(outData)%rowLength != 0 {
			common.Log.Debug("ERROR: TIFF encoding: Invalid row length...")
			return nil, fmt.Errorf("invalid row length (%d/%d)", len(outData), rowLength)
		}
		if rowLength%enc.Colors != 0 {
			return nil, fmt.Errorf("invalid row length (%d) for colors %d", rowLength, enc.Colors)
		}
		if rowLength > len(outData) {
			common.Log.Debug("Row length cannot be longer than data length (%d/%d)", rowLength, len(outData))
			return nil, ErrRangeError
		}

		pOutBuffer := bytes.NewBuffer(nil)

		for i := 0; i < rows; i++ {
			rowData := outData[rowLength*i : rowLength*(i+1)]
			// Predicts the same as the sample to the left, interleaved by colors.
			for j := enc.Colors; j < rowLength; j++ {
				rowData[j] += rowData[j-enc.Colors]
			}
			pOutBuffer.Write(rowData)
		}
		return pOutBuffer.Bytes(), nil
	} else if enc.Predictor >= 10 && enc.Predictor <= 15 {
		common.Log.Trace("PNG Encoding")
		// Columns is the number of samples per row; each sample can
		// contain multiple color components.
		rowLength := enc.Columns*enc.Colors + 1 // 1 byte to specify predictor algorithm per row.
		rows := len(outData) / rowLength
		if len(outData)%rowLength != 0 {
			return nil, fmt.Errorf("invalid row length (%d/%d)", len(outData), rowLength)
		}
		if rowLength > len(outData) {
			common.Log.Debug("Row length cannot be longer than data length (%d/%d)", rowLength, len(outData))
			return nil, ErrRangeError
		}

		pOutBuffer := bytes.NewBuffer(nil)

		common.Log.Trace("Predictor columns: %d", enc.Columns)
		common.Log.Trace("Length: %d / %d = %d rows", len(outData), rowLength, rows)
		prevRowData := make([]byte, rowLength)

		bytesPerPixel := enc.Colors // Assuming BPC = 8.

		for i := 0; i < rows; i++ {
			rowData := outData[rowLength*i : rowLength*(i+1)]

			fb := rowData[0]
			switch fb {
			case pfNone:
			case pfSub:
				for j := 1 + bytesPerPixel; j < rowLength; j++ {
					rowData[j] += rowData[j-bytesPerPixel]
				}
			case pfUp:
				for j := 1; j < rowLength; j++ {
					rowData[j] += prevRowData[j]
				}
			case pfAvg:
				for j := 1; j < bytesPerPixel+1; j++ {
					rowData[j] += prevRowData[j] / 2
				}
				for j := bytesPerPixel + 1; j < rowLength; j++ {
					rowData[j] += byte((int(rowData[j-bytesPerPixel]) + int(prevRowData[j])) / 2)
				}
			case pfPaeth:
				for j := 1; j < rowLength; j++ {
					var a, b, c byte
					b = prevRowData[j] // above.
					if j >= bytesPerPixel+1 {
						a = rowData[j-bytesPerPixel]
						c = prevRowData[j-bytesPerPixel]
					}
					rowData[j] += paeth(a, b, c)
				}
			default:
				common.Log.Debug("ERROR: Invalid filter byte (%d) @row %d", fb, i)
				return nil, fmt.Errorf("invalid filter byte (%d)", fb)
			}

			copy(prevRowData, rowData)
			pOutBuffer.Write(rowData[1:])
		}
		return pOutBuffer.Bytes(), nil
	}

	common.Log.Debug("ERROR: Unsupported predictor (%d)", enc.Predictor)
	return nil, fmt.Errorf("unsupported predictor (%d)", enc.Predictor)
}

// DecodeStream decodes a Flate encoded stream object and gives back the
// decoded bytes.
func (enc *FlateEncoder) DecodeStream(streamObj *Stream) ([]byte, error) {
	common.Log.Trace("FlateDecode stream")
	common.Log.Trace("Predictor: %d", enc.Predictor)
	if enc.BitsPerComponent != 8 {
		return nil, fmt.Errorf("invalid BitsPerComponent=%d (only 8 supported)", enc.BitsPerComponent)
	}

	outData, err := enc.DecodeBytes(streamObj.Data)
	if err != nil {
		return nil, err
	}

	return enc.postDecodePredict(outData)
}

// EncodeBytes encodes the data and returns the encoded value based on the
// encoder parameters. Predictors 1 (none), 11 (PNG sub) and 12 (PNG up)
// are supported for encoding.
func (enc *FlateEncoder) EncodeBytes(data []byte) ([]byte, error) {
	if enc.Predictor != 1 && enc.Predictor != 11 && enc.Predictor != 12 {
		common.Log.Debug("Encoding error: FlateEncoder Predictor = 1, 11, 12 only supported")
		return nil, ErrUnsupportedEncodingParameters
	}

	if enc.Predictor == 11 || enc.Predictor == 12 {
		// The length of each output row in number of samples.
		// N.B. Each output row has one extra byte as compared to the input
		// to indicate the predictor type.
		rowLength := enc.Columns
		rows := len(data) / rowLength
		if len(data)%rowLength != 0 {
			common.Log.Error("Invalid row length")
			return nil, errors.New("invalid row length")
		}

		pOutBuffer := bytes.NewBuffer(nil)

		tmpData := make([]byte, rowLength)
		prevRowData := make([]byte, rowLength)

		for i := 0; i < rows; i++ {
			rowData := data[rowLength*i : rowLength*(i+1)]
			if enc.Predictor == 11 {
				// Sub: predicts the same as the sample to the left.
				tmpData[0] = rowData[0]
				for j := 1; j < rowLength; j++ {
					tmpData[j] = byte(int(rowData[j]-rowData[j-1]) % 256)
				}
				pOutBuffer.WriteByte(pfSub)
			} else {
				// Up: predicts the same as the sample above.
				for j := 0; j < rowLength; j++ {
					tmpData[j] = byte(int(rowData[j]-prevRowData[j]) % 256)
				}
				copy(prevRowData, rowData)
				pOutBuffer.WriteByte(pfUp)
			}
			pOutBuffer.Write(tmpData)
		}

		data = pOutBuffer.Bytes()
	}

	var b bytes.Buffer
	w := zlib.NewWriter(&b)
	w.Write(data)
	w.Close()

	return b.Bytes(), nil
}

// LZWEncoder provides LZW encoding/decoding functionality.
type LZWEncoder struct {
	Predictor        int
	BitsPerComponent int
	// For predictors
	Columns int
	Colors  int
	// LZW algorithm setting.
	EarlyChange int
}

// NewLZWEncoder makes a new LZW encoder with default parameters.
func NewLZWEncoder() *LZWEncoder {
	encoder := &LZWEncoder{}

	// Default (No prediction)
	encoder.Predictor = 1

	// Currently only supporting 8.
	encoder.BitsPerComponent = 8

	encoder.Colors = 1
	encoder.Columns = 1
	encoder.EarlyChange = 1

	return encoder
}

// GetFilterName returns the name of the encoding filter.
func (enc *LZWEncoder) GetFilterName() string {
	return StreamEncodingFilterNameLZW
}

// MakeDecodeParams makes a new instance of an encoding dictionary based on
// the current encoder settings.
func (enc *LZWEncoder) MakeDecodeParams() Object {
	if enc.Predictor > 1 {
		decodeParams := MakeDict()
		decodeParams.Set("Predictor", MakeInteger(int64(enc.Predictor)))

		if enc.BitsPerComponent != 8 {
			decodeParams.Set("BitsPerComponent", MakeInteger(int64(enc.BitsPerComponent)))
		}
		if enc.Columns != 1 {
			decodeParams.Set("Columns", MakeInteger(int64(enc.Columns)))
		}
		if enc.Colors != 1 {
			decodeParams.Set("Colors", MakeInteger(int64(enc.Colors)))
		}
		return decodeParams
	}
	return nil
}

// MakeStreamDict makes a new instance of an encoding dictionary for a
// stream object. Has the Filter set and the DecodeParms.
func (enc *LZWEncoder) MakeStreamDict() *Dict {
	dict := MakeDict()

	dict.Set("Filter", MakeName(enc.GetFilterName()))

	decodeParams := enc.MakeDecodeParams()
	if decodeParams != nil {
		dict.Set("DecodeParms", decodeParams)
	}

	dict.Set("EarlyChange", MakeInteger(int64(enc.EarlyChange)))

	return dict
}

// UpdateParams updates the parameter values of the encoder.
func (enc *LZWEncoder) UpdateParams(params *Dict) {
	predictor, err := GetNumberAsInt64(params.Get("Predictor"))
	if err == nil {
		enc.Predictor = int(predictor)
	}

	bpc, err := GetNumberAsInt64(params.Get("BitsPerComponent"))
	if err == nil {
		enc.BitsPerComponent = int(bpc)
	}

	columns, err := GetNumberAsInt64(params.Get("Width"))
	if err == nil {
		enc.Columns = int(columns)
	}

	colorComponents, err := GetNumberAsInt64(params.Get("ColorComponents"))
	if err == nil {
		enc.Colors = int(colorComponents)
	}

	earlyChange, err := GetNumberAsInt64(params.Get("EarlyChange"))
	if err == nil {
		enc.EarlyChange = int(earlyChange)
	}
}

// newLZWEncoderFromStream creates an LZW encoder/decoder from a stream
// object, taking the encoding parameters from the DecodeParms entry.
func newLZWEncoderFromStream(streamObj *Stream, decodeParams *Dict) (*LZWEncoder, error) {
	// Start with default settings.
	encoder := NewLZWEncoder()

	encDict := streamObj.Dict
	if encDict == nil {
		// No encoding dictionary.
		return encoder, nil
	}

	// If decodeParams not provided, see if we can get from the stream.
	if decodeParams == nil {
		obj := TraceToDirect(encDict.Get("DecodeParms"))
		if obj != nil {
			if dp, isDict := obj.(*Dict); isDict {
				decodeParams = dp
			} else if a, isArr := obj.(*Array); isArr {
				if a.Len() == 1 {
					if dp, isDict := GetDict(a.Get(0)); isDict {
						decodeParams = dp
					}
				}
			}
			if decodeParams == nil {
				if _, isNull := obj.(*Null); !isNull {
					common.Log.Error("DecodeParms not a dictionary %#v", obj)
					return nil, fmt.Errorf("invalid DecodeParms")
				}
			}
		}
	}

	// The EarlyChange indicates when to increase code length, as different
	// implementations use different mechanisms. Essentially this chooses
	// which LZW implementation to use. The default is 1 (one code early).
	obj := encDict.Get("EarlyChange")
	if obj != nil {
		earlyChange, ok := obj.(*Integer)
		if !ok {
			common.Log.Debug("Error: EarlyChange specified but not numeric (%T)", obj)
			return nil, fmt.Errorf("invalid EarlyChange")
		}
		if *earlyChange != 0 && *earlyChange != 1 {
			return nil, fmt.Errorf("invalid EarlyChange value (not 0 or 1)")
		}

		encoder.EarlyChange = int(*earlyChange)
	} else {
		encoder.EarlyChange = 1 // default
	}

	if decodeParams == nil {
		// No decode parameters; the following options all come from there.
		return encoder, nil
	}

	obj = decodeParams.Get("Predictor")
	if obj != nil {
		predictor, ok := obj.(*Integer)
		if !ok {
			common.Log.Debug("Error: Predictor specified but not numeric (%T)", obj)
			return nil, fmt.Errorf("invalid Predictor")
		}
		encoder.Predictor = int(*predictor)
	}

	// Bits per component. Use default if not specified (8).
	obj = decodeParams.Get("BitsPerComponent")
	if obj != nil {
		bpc, ok := obj.(*Integer)
		if !ok {
			common.Log.Debug("ERROR: Invalid BitsPerComponent")
			return nil, fmt.Errorf("invalid BitsPerComponent")
		}
		encoder.BitsPerComponent = int(*bpc)
	}

	if encoder.Predictor > 1 {
		// Columns.
		encoder.Columns = 1
		obj = decodeParams.Get("Columns")
		if obj != nil {
			columns, ok := obj.(*Integer)
			if !ok {
				return nil, fmt.Errorf("predictor column invalid")
			}

			encoder.Columns = int(*columns)
		}

		// Colors: number of interleaved color components per sample
		// (default 1 if not specified).
		encoder.Colors = 1
		obj = decodeParams.Get("Colors")
		if obj != nil {
			colors, ok := obj.(*Integer)
			if !ok {
				return nil, fmt.Errorf("predictor colors not an integer")
			}
			encoder.Colors = int(*colors)
		}
	}

	common.Log.Trace("decode params: %s", decodeParams.String())
	return encoder, nil
}

// DecodeBytes decodes a slice of LZW encoded bytes and returns the result.
func (enc *LZWEncoder) DecodeBytes(encoded []byte) ([]byte, error) {
	var outBuf bytes.Buffer
	bufReader := bytes.NewReader(encoded)

	var r io.ReadCloser
	if enc.EarlyChange == 1 {
		// LZW implementation with code length increases one code early (1).
		r = lzw1.NewReader(bufReader, lzw1.MSB, 8)
	} else {
		// 0: LZW implementation with postponed code length increases.
		r = lzw0.NewReader(bufReader, lzw0.MSB, 8)
	}
	defer r.Close()

	_, err := outBuf.ReadFrom(r)
	if err != nil {
		return nil, err
	}

	return outBuf.Bytes(), nil
}

// DecodeStream decodes an LZW encoded stream and returns the result as a
// slice of bytes.
func (enc *LZWEncoder) DecodeStream(streamObj *Stream) ([]byte, error) {
	common.Log.Trace("LZW Decoding")
	common.Log.Trace("Predictor: %d", enc.Predictor)

	outData, err := enc.DecodeBytes(streamObj.Data)
	if err != nil {
		return nil, err
	}

	if enc.Predictor <= 1 {
		return outData, nil
	}

	// The predictor logic is shared with Flate.
	flate := NewFlateEncoder()
	flate.Predictor = enc.Predictor
	flate.BitsPerComponent = enc.BitsPerComponent
	flate.Columns = enc.Columns
	flate.Colors = enc.Colors
	return flate.postDecodePredict(outData)
}

// EncodeBytes implements support for LZW encoding. Currently not
// supporting predictors (raw compressed data only). Only supports the
// EarlyChange = 0 algorithm (compress/lzw) as the other implementation
// does not have a write method.
func (enc *LZWEncoder) EncodeBytes(data []byte) ([]byte, error) {
	if enc.Predictor != 1 {
		return nil, fmt.Errorf("LZW Predictor = 1 only supported yet")
	}

	if enc.EarlyChange == 1 {
		return nil, fmt.Errorf("LZW Early Change = 0 only supported yet")
	}

	var b bytes.Buffer
	w := lzw0.NewWriter(&b, lzw0.MSB, 8)
	w.Write(data)
	w.Close()

	return b.Bytes(), nil
}

// RunLengthEncoder represents Run Length encoding.
type RunLengthEncoder struct {
}

// NewRunLengthEncoder makes a new run length encoder.
func NewRunLengthEncoder() *RunLengthEncoder {
	return &RunLengthEncoder{}
}

// GetFilterName returns the name of the encoding filter.
func (enc *RunLengthEncoder) GetFilterName() string {
	return StreamEncodingFilterNameRunLength
}

// newRunLengthEncoderFromStream creates a new run length decoder from a
// stream object.
func newRunLengthEncoderFromStream(streamObj *Stream, decodeParams *Dict) (*RunLengthEncoder, error) {
	return NewRunLengthEncoder(), nil
}

// DecodeBytes decodes a byte slice from Run length encoding.
//
// 7.4.5 RunLengthDecode Filter
// The encoded data is a sequence of runs, where each run consists of a
// length byte followed by 1 to 128 bytes of data. If the length byte is in
// the range 0 to 127, the following length + 1 bytes are copied literally.
// If length is in the range 129 to 255, the following single byte is
// copied 257 - length times. A length value of 128 denotes EOD.
func (enc *RunLengthEncoder) DecodeBytes(encoded []byte) ([]byte, error) {
	bufReader := bytes.NewReader(encoded)
	var inb []byte
	for {
		b, err := bufReader.ReadByte()
		if err != nil {
			return nil, err
		}
		if b > 128 {
			v, err := bufReader.ReadByte()
			if err != nil {
				return nil, err
			}
			for i := 0; i < 257-int(b); i++ {
				inb = append(inb, v)
			}
		} else if b < 128 {
			for i := 0; i < int(b)+1; i++ {
				v, err := bufReader.ReadByte()
				if err != nil {
					return nil, err
				}
				inb = append(inb, v)
			}
		} else {
			break
		}
	}

	return inb, nil
}

// DecodeStream decodes a run length encoded stream object and gives back
// the decoded bytes.
func (enc *RunLengthEncoder) DecodeStream(streamObj *Stream) ([]byte, error) {
	return enc.DecodeBytes(streamObj.Data)
}

// EncodeBytes encodes the data and returns the encoded value based on the
// encoder parameters.
func (enc *RunLengthEncoder) EncodeBytes(data []byte) ([]byte, error) {
	bufReader := bytes.NewReader(data)
	var inb []byte
	var literal []byte

	b0, err := bufReader.ReadByte()
	if err == io.EOF {
		return []byte{}, nil
	} else if err != nil {
		return nil, err
	}
	runLen := 1

	for {
		b, err := bufReader.ReadByte()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}

		if b == b0 {
			if len(literal) > 0 {
				literal = literal[:len(literal)-1]
				if len(literal) > 0 {
					inb = append(inb, byte(len(literal)-1))
					inb = append(inb, literal...)
				}
				runLen = 1
				literal = []byte{}
			}
			runLen++
			if runLen >= 127 {
				inb = append(inb, byte(257-runLen), b0)
				runLen = 0
			}
		} else {
			if runLen > 0 {
				if runLen == 1 {
					literal = []byte{b0}
				} else {
					inb = append(inb, byte(257-runLen), b0)
				}

				runLen = 0
			}
			literal = append(literal, b)
			if len(literal) >= 127 {
				inb = append(inb, byte(len(literal)-1))
				inb = append(inb, literal...)
				literal = []byte{}
			}
		}
		b0 = b
	}

	if len(literal) > 0 {
		inb = append(inb, byte(len(literal)-1))
		inb = append(inb, literal...)
	} else if runLen > 0 {
		inb = append(inb, byte(257-runLen), b0)
	}
	inb = append(inb, 128)
	return inb, nil
}

// MakeDecodeParams makes a new instance of an encoding dictionary based on
// the current encoder settings.
func (enc *RunLengthEncoder) MakeDecodeParams() Object {
	return nil
}

// MakeStreamDict makes a new instance of an encoding dictionary for a
// stream object.
func (enc *RunLengthEncoder) MakeStreamDict() *Dict {
	dict := MakeDict()
	dict.Set("Filter", MakeName(enc.GetFilterName()))
	return dict
}

// UpdateParams updates the parameter values of the encoder.
func (enc *RunLengthEncoder) UpdateParams(params *Dict) {
}

// ASCIIHexEncoder implements ASCII hex encoder/decoder.
type ASCIIHexEncoder struct {
}

// NewASCIIHexEncoder makes a new ASCII hex encoder.
func NewASCIIHexEncoder() *ASCIIHexEncoder {
	return &ASCIIHexEncoder{}
}

// GetFilterName returns the name of the encoding filter.
func (enc *ASCIIHexEncoder) GetFilterName() string {
	return StreamEncodingFilterNameASCIIHex
}

// MakeDecodeParams makes a new instance of an encoding dictionary based on
// the current encoder settings.
func (enc *ASCIIHexEncoder) MakeDecodeParams() Object {
	return nil
}

// MakeStreamDict makes a new instance of an encoding dictionary for a
// stream object.
func (enc *ASCIIHexEncoder) MakeStreamDict() *Dict {
	dict := MakeDict()
	dict.Set("Filter", MakeName(enc.GetFilterName()))
	return dict
}

// UpdateParams updates the parameter values of the encoder.
func (enc *ASCIIHexEncoder) UpdateParams(params *Dict) {
}

// DecodeBytes decodes a slice of ASCII hex encoded bytes and returns the
// result.
func (enc *ASCIIHexEncoder) DecodeBytes(encoded []byte) ([]byte, error) {
	bufReader := bytes.NewReader(encoded)
	var inb []byte
	for {
		b, err := bufReader.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == '>' {
			break
		}
		if IsWhiteSpace(b) {
			continue
		}
		if (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F') || (b >= '0' && b <= '9') {
			inb = append(inb, b)
		} else {
			common.Log.Debug("ERROR: Invalid ascii hex character (%c)", b)
			return nil, fmt.Errorf("invalid ascii hex character (%c)", b)
		}
	}
	if len(inb)%2 == 1 {
		inb = append(inb, '0')
	}
	common.Log.Trace("Inbound %s", inb)
	outb := make([]byte, hex.DecodedLen(len(inb)))
	_, err := hex.Decode(outb, inb)
	if err != nil {
		return nil, err
	}
	return outb, nil
}

// DecodeStream implements ASCII hex decoding.
func (enc *ASCIIHexEncoder) DecodeStream(streamObj *Stream) ([]byte, error) {
	return enc.DecodeBytes(streamObj.Data)
}

// EncodeBytes ASCII hex encodes the passed in slice of bytes.
func (enc *ASCIIHexEncoder) EncodeBytes(data []byte) ([]byte, error) {
	var encoded bytes.Buffer

	for _, b := range data {
		encoded.WriteString(fmt.Sprintf("%.2X ", b))
	}
	encoded.WriteByte('>')

	return encoded.Bytes(), nil
}

// ASCII85Encoder implements ASCII85 encoder/decoder.
type ASCII85Encoder struct {
}

// NewASCII85Encoder makes a new ASCII85 encoder.
func NewASCII85Encoder() *ASCII85Encoder {
	return &ASCII85Encoder{}
}

// GetFilterName returns the name of the encoding filter.
func (enc *ASCII85Encoder) GetFilterName() string {
	return StreamEncodingFilterNameASCII85
}

// MakeDecodeParams makes a new instance of an encoding dictionary based on
// the current encoder settings.
func (enc *ASCII85Encoder) MakeDecodeParams() Object {
	return nil
}

// MakeStreamDict makes a new instance of an encoding dictionary for a
// stream object.
func (enc *ASCII85Encoder) MakeStreamDict() *Dict {
	dict := MakeDict()
	dict.Set("Filter", MakeName(enc.GetFilterName()))
	return dict
}

// UpdateParams updates the parameter values of the encoder.
func (enc *ASCII85Encoder) UpdateParams(params *Dict) {
}

// DecodeBytes decodes a byte slice with ASCII85. 5 ASCII characters -> 4
// raw binary bytes.
func (enc *ASCII85Encoder) DecodeBytes(encoded []byte) ([]byte, error) {
	var decoded []byte

	common.Log.Trace("ASCII85 Decode")

	i := 0
	eod := false

	for i < len(encoded) && !eod {
		codes := [5]byte{0, 0, 0, 0, 0}
		spaces := 0 // offset due to whitespace.
		j := 0
		toWrite := 4
		for j < 5+spaces {
			if i+j == len(encoded) {
				break
			}
			code := encoded[i+j]
			if IsWhiteSpace(code) {
				// Skip whitespace.
				spaces++
				j++
				continue
			} else if code == '~' && i+j+1 < len(encoded) && encoded[i+j+1] == '>' {
				toWrite = (j - spaces) - 1
				if toWrite < 0 {
					toWrite = 0
				}
				// EOD marker. Marks end of data.
				eod = true
				break
			} else if code >= '!' && code <= 'u' {
				// Valid code.
				code -= '!'
			} else if code == 'z' && j-spaces == 0 {
				// 'z' at the beginning of the byte sequence means that all
				// 5 codes are 0. Already all 0 initialized, so can break.
				toWrite = 4
				j++
				break
			} else {
				common.Log.Error("Failed decoding, invalid code")
				return nil, errors.New("invalid code encountered")
			}

			codes[j-spaces] = code
			j++
		}
		i += j

		// Pad with 'u' 84 (unused ones).
		// Takes care of ends of input data that is not a multiple of 4 bytes.
		for m := toWrite + 1; m < 5; m++ {
			codes[m] = 84
		}

		// Convert to a uint32 value.
		value := uint32(codes[0])*85*85*85*85 + uint32(codes[1])*85*85*85 + uint32(codes[2])*85*85 + uint32(codes[3])*85 + uint32(codes[4])

		// Convert to 4 bytes.
		decodedBytes := []byte{
			byte((value >> 24) & 0xff),
			byte((value >> 16) & 0xff),
			byte((value >> 8) & 0xff),
			byte(value & 0xff)}

		decoded = append(decoded, decodedBytes[:toWrite]...)
	}

	common.Log.Trace("ASCII85, encoded: % X", encoded)
	common.Log.Trace("ASCII85, decoded: % X", decoded)

	return decoded, nil
}

// DecodeStream implements ASCII85 stream decoding.
func (enc *ASCII85Encoder) DecodeStream(streamObj *Stream) ([]byte, error) {
	return enc.DecodeBytes(streamObj.Data)
}

// base256Tobase85 converts a base 256 number to a series of base 85 values
// (5 codes).
//
//	85^5 = 4437053125 > 256^4 = 4294967296
func (enc *ASCII85Encoder) base256Tobase85(base256val uint32) [5]byte {
	base85 := [5]byte{0, 0, 0, 0, 0}
	remainder := base256val
	for i := 0; i < 5; i++ {
		divider := uint32(1)
		for j := 0; j < 4-i; j++ {
			divider *= 85
		}
		val := remainder / divider
		remainder = remainder % divider
		base85[i] = byte(val)
	}
	return base85
}

// EncodeBytes encodes data into ASCII85 encoded format.
func (enc *ASCII85Encoder) EncodeBytes(data []byte) ([]byte, error) {
	var encoded bytes.Buffer

	for i := 0; i < len(data); i += 4 {
		b1 := data[i]
		n := 1

		b2 := byte(0)
		if i+1 < len(data) {
			b2 = data[i+1]
			n++
		}

		b3 := byte(0)
		if i+2 < len(data) {
			b3 = data[i+2]
			n++
		}

		b4 := byte(0)
		if i+3 < len(data) {
			b4 = data[i+3]
			n++
		}

		// Convert to a uint32 number.
		base256 := (uint32(b1) << 24) | (uint32(b2) << 16) | (uint32(b3) << 8) | uint32(b4)
		if base256 == 0 {
			encoded.WriteByte('z')
		} else {
			base85vals := enc.base256Tobase85(base256)
			for _, val := range base85vals[:n+1] {
				encoded.WriteByte(val + '!')
			}
		}
	}

	// EOD.
	encoded.WriteString("~>")
	return encoded.Bytes(), nil
}

// RawEncoder implements Raw encoder/decoder (no encoding, pass through).
type RawEncoder struct{}

// NewRawEncoder returns a new instance of RawEncoder.
func NewRawEncoder() *RawEncoder {
	return &RawEncoder{}
}

// GetFilterName returns the name of the encoding filter.
func (enc *RawEncoder) GetFilterName() string {
	return StreamEncodingFilterNameRaw
}

// MakeDecodeParams makes a new instance of an encoding dictionary based on
// the current encoder settings.
func (enc *RawEncoder) MakeDecodeParams() Object {
	return nil
}

// MakeStreamDict makes a new instance of an encoding dictionary for a
// stream object.
func (enc *RawEncoder) MakeStreamDict() *Dict {
	return MakeDict()
}

// UpdateParams updates the parameter values of the encoder.
func (enc *RawEncoder) UpdateParams(params *Dict) {
}

// DecodeBytes returns the passed in slice of bytes.
// The purpose of the method is to satisfy the StreamEncoder interface.
func (enc *RawEncoder) DecodeBytes(encoded []byte) ([]byte, error) {
	return encoded, nil
}

// DecodeStream returns the passed in stream as a slice of bytes.
// The purpose of the method is to satisfy the StreamEncoder interface.
func (enc *RawEncoder) DecodeStream(streamObj *Stream) ([]byte, error) {
	return streamObj.Data, nil
}

// EncodeBytes returns the passed in slice of bytes.
// The purpose of the method is to satisfy the StreamEncoder interface.
func (enc *RawEncoder) EncodeBytes(data []byte) ([]byte, error) {
	return data, nil
}

// MultiEncoder supports serial encoding.
type MultiEncoder struct {
	// Encoders in the order that they are to be applied.
	encoders []StreamEncoder
}

// NewMultiEncoder returns a new instance of MultiEncoder.
func NewMultiEncoder() *MultiEncoder {
	encoder := MultiEncoder{}
	encoder.encoders = []StreamEncoder{}

	return &encoder
}

func newMultiEncoderFromStream(streamObj *Stream) (*MultiEncoder, error) {
	mencoder := NewMultiEncoder()

	encDict := streamObj.Dict
	if encDict == nil {
		// No encoding dictionary.
		return mencoder, nil
	}

	// Prepare the decode params array (one for each filter type).
	// Optional, not always present.
	var decodeParamsDict *Dict
	var decodeParamsArray []Object
	obj := encDict.Get("DecodeParms")
	if obj != nil {
		// If it is a dictionary, assume it applies to all.
		dict, isDict := obj.(*Dict)
		if isDict {
			decodeParamsDict = dict
		}

		// If it is an array, assume there is one for each.
		arr, isArray := obj.(*Array)
		if isArray {
			for _, dictObj := range arr.Elements() {
				dictObj = TraceToDirect(dictObj)
				if dict, is := dictObj.(*Dict); is {
					decodeParamsArray = append(decodeParamsArray, dict)
				} else {
					decodeParamsArray = append(decodeParamsArray, MakeDict())
				}
			}
		}
	}

	obj = encDict.Get("Filter")
	if obj == nil {
		return nil, fmt.Errorf("filter missing")
	}

	array, ok := obj.(*Array)
	if !ok {
		return nil, fmt.Errorf("multi filter can only be made from array")
	}

	for idx, obj := range array.Elements() {
		name, ok := obj.(*Name)
		if !ok {
			return nil, fmt.Errorf("multi filter array element not a name")
		}

		var dp Object

		// If decode params dict is set, use it. Otherwise take from array.
		if decodeParamsDict != nil {
			dp = decodeParamsDict
		} else {
			// Only get the dp if provided. Oftentimes there is no decode
			// params dict provided.
			if len(decodeParamsArray) > 0 {
				if idx >= len(decodeParamsArray) {
					return nil, fmt.Errorf("missing elements in decode params array")
				}
				dp = decodeParamsArray[idx]
			}
		}

		var dParams *Dict
		if dict, is := dp.(*Dict); is {
			dParams = dict
		}

		common.Log.Trace("Next name: %s, dp: %v, dParams: %v", *name, dp, dParams)
		switch *name {
		case StreamEncodingFilterNameFlate:
			encoder, err := newFlateEncoderFromStream(streamObj, dParams)
			if err != nil {
				return nil, err
			}
			mencoder.AddEncoder(encoder)
		case StreamEncodingFilterNameLZW:
			encoder, err := newLZWEncoderFromStream(streamObj, dParams)
			if err != nil {
				return nil, err
			}
			mencoder.AddEncoder(encoder)
		case StreamEncodingFilterNameASCIIHex:
			mencoder.AddEncoder(NewASCIIHexEncoder())
		case StreamEncodingFilterNameASCII85:
			mencoder.AddEncoder(NewASCII85Encoder())
		case StreamEncodingFilterNameRunLength:
			encoder, err := newRunLengthEncoderFromStream(streamObj, dParams)
			if err != nil {
				return nil, err
			}
			mencoder.AddEncoder(encoder)
		default:
			common.Log.Error("Unsupported filter %s", *name)
			return nil, fmt.Errorf("invalid filter in multi filter array")
		}
	}

	return mencoder, nil
}

// GetFilterName returns the names of the underlying encoding filters,
// separated by spaces.
// Note: should not be used in a /Filter dictionary entry. Use
// GetFilterArray for that.
func (enc *MultiEncoder) GetFilterName() string {
	name := ""
	for idx, encoder := range enc.encoders {
		name += encoder.GetFilterName()
		if idx < len(enc.encoders)-1 {
			name += " "
		}
	}
	return name
}

// GetFilterArray returns the names of the underlying encoding filters in
// an array that can be used as a /Filter entry.
func (enc *MultiEncoder) GetFilterArray() *Array {
	names := make([]Object, len(enc.encoders))
	for i, e := range enc.encoders {
		names[i] = MakeName(e.GetFilterName())
	}
	return MakeArray(names...)
}

// MakeDecodeParams makes a new instance of an encoding dictionary based on
// the current encoder settings.
func (enc *MultiEncoder) MakeDecodeParams() Object {
	if len(enc.encoders) == 0 {
		return nil
	}

	if len(enc.encoders) == 1 {
		return enc.encoders[0].MakeDecodeParams()
	}

	array := MakeArray()
	for _, encoder := range enc.encoders {
		decodeParams := encoder.MakeDecodeParams()
		if decodeParams == nil {
			array.Append(MakeNull())
		} else {
			array.Append(decodeParams)
		}
	}

	return array
}

// AddEncoder adds the passed in encoder to the underlying encoder slice.
func (enc *MultiEncoder) AddEncoder(encoder StreamEncoder) {
	enc.encoders = append(enc.encoders, encoder)
}

// MakeStreamDict makes a new instance of an encoding dictionary for a
// stream object.
func (enc *MultiEncoder) MakeStreamDict() *Dict {
	dict := MakeDict()
	dict.Set("Filter", enc.GetFilterArray())

	// Pass all values from children, except Filter and DecodeParms.
	for _, encoder := range enc.encoders {
		encDict := encoder.MakeStreamDict()
		for _, key := range encDict.Keys() {
			val := encDict.Get(key)
			if key != "Filter" && key != "DecodeParms" {
				dict.Set(key, val)
			}
		}
	}

	// Make the decode params array or dict.
	decodeParams := enc.MakeDecodeParams()
	if decodeParams != nil {
		dict.Set("DecodeParms", decodeParams)
	}

	return dict
}

// UpdateParams updates the parameter values of the encoder.
func (enc *MultiEncoder) UpdateParams(params *Dict) {
	for _, encoder := range enc.encoders {
		encoder.UpdateParams(params)
	}
}

// DecodeBytes decodes a multi-encoded slice of bytes by passing it through
// the DecodeBytes method of the underlying encoders.
func (enc *MultiEncoder) DecodeBytes(encoded []byte) ([]byte, error) {
	decoded := encoded
	var err error
	// Apply in forward order.
	for _, encoder := range enc.encoders {
		common.Log.Trace("Multi Encoder Decode: Applying Filter: %v %T", encoder, encoder)

		decoded, err = encoder.DecodeBytes(decoded)
		if err != nil {
			return nil, err
		}
	}

	return decoded, nil
}

// DecodeStream decodes a multi-encoded stream by passing it through the
// DecodeStream method of the underlying encoders.
func (enc *MultiEncoder) DecodeStream(streamObj *Stream) ([]byte, error) {
	return enc.DecodeBytes(streamObj.Data)
}

// EncodeBytes encodes the passed in slice of bytes by passing it through
// the EncodeBytes method of the underlying encoders.
func (enc *MultiEncoder) EncodeBytes(data []byte) ([]byte, error) {
	encoded := data
	var err error

	// Apply in inverse order.
	for i := len(enc.encoders) - 1; i >= 0; i-- {
		encoder := enc.encoders[i]
		encoded, err = encoder.EncodeBytes(encoded)
		if err != nil {
			return nil, err
		}
	}

	return encoded, nil
}
