package core

import (
	"fmt"

	"github.com/pdfmill/pdfmill/common"
)

// DecodeLevel selects which classes of filters may be stripped from
// stream data when rewriting a document.
type DecodeLevel int

const (
	// DecodeLevelNone preserves all stream data exactly as read.
	DecodeLevelNone DecodeLevel = iota
	// DecodeLevelGeneralized decodes generalized filters (Flate, LZW,
	// RunLength, ASCIIHex, ASCII85).
	DecodeLevelGeneralized
	// DecodeLevelSpecialized additionally decodes specialized lossless
	// filters. Currently equivalent to DecodeLevelGeneralized, as the
	// image codecs live above this layer.
	DecodeLevelSpecialized
	// DecodeLevelAll decodes everything this layer knows how to decode.
	DecodeLevelAll
)

// generalizedFilters are the filters that can always be stripped and
// re-applied without loss.
var generalizedFilters = map[string]bool{
	StreamEncodingFilterNameFlate:     true,
	StreamEncodingFilterNameLZW:       true,
	StreamEncodingFilterNameRunLength: true,
	StreamEncodingFilterNameASCIIHex:  true,
	StreamEncodingFilterNameASCII85:   true,
	StreamEncodingFilterNameRaw:       true,
}

// IsDecodable reports whether the stream's filter chain can be decoded by
// this layer at the given level.
func IsDecodable(streamObj *Stream, level DecodeLevel) bool {
	if level == DecodeLevelNone {
		return false
	}
	filterObj := TraceToDirect(streamObj.Dict.Get("Filter"))
	switch t := filterObj.(type) {
	case nil, *Null:
		return true
	case *Name:
		return generalizedFilters[string(*t)]
	case *Array:
		for _, el := range t.Elements() {
			name, ok := GetName(el)
			if !ok || !generalizedFilters[string(*name)] {
				return false
			}
		}
		return true
	}
	return false
}

// NewEncoderFromStream creates a StreamEncoder based on the stream's
// dictionary.
func NewEncoderFromStream(streamObj *Stream) (StreamEncoder, error) {
	filterObj := TraceToDirect(streamObj.Dict.Get("Filter"))
	if filterObj == nil {
		// No filter, return raw data back.
		return NewRawEncoder(), nil
	}

	if _, isNull := filterObj.(*Null); isNull {
		// Filter is null -> raw data.
		return NewRawEncoder(), nil
	}

	// The filter should be a name or an array with a list of filter names.
	method, ok := filterObj.(*Name)
	if !ok {
		array, ok := filterObj.(*Array)
		if !ok {
			return nil, fmt.Errorf("filter not a Name or Array object")
		}
		if array.Len() == 0 {
			// Empty array -> indicates raw filter (no filter).
			return NewRawEncoder(), nil
		}

		if array.Len() != 1 {
			menc, err := newMultiEncoderFromStream(streamObj)
			if err != nil {
				common.Log.Error("Failed creating multi encoder: %v", err)
				return nil, err
			}

			common.Log.Trace("Multi enc: %s\n", menc)
			return menc, nil
		}

		// Single element.
		filterObj = array.Get(0)
		method, ok = filterObj.(*Name)
		if !ok {
			return nil, fmt.Errorf("filter array member not a Name object")
		}
	}

	switch *method {
	case StreamEncodingFilterNameFlate:
		return newFlateEncoderFromStream(streamObj, nil)
	case StreamEncodingFilterNameLZW:
		return newLZWEncoderFromStream(streamObj, nil)
	case StreamEncodingFilterNameRunLength:
		return newRunLengthEncoderFromStream(streamObj, nil)
	case StreamEncodingFilterNameASCIIHex:
		return NewASCIIHexEncoder(), nil
	case StreamEncodingFilterNameASCII85, "A85":
		return NewASCII85Encoder(), nil
	}
	common.Log.Debug("ERROR: Unsupported encoding method!")
	return nil, fmt.Errorf("unsupported encoding method (%s)", *method)
}

// DecodeStream decodes the stream data and returns the decoded data.
// An error is returned upon failure.
func DecodeStream(streamObj *Stream) ([]byte, error) {
	common.Log.Trace("Decode stream")

	encoder, err := NewEncoderFromStream(streamObj)
	if err != nil {
		common.Log.Debug("ERROR: Stream decoding failed: %v", err)
		return nil, err
	}
	common.Log.Trace("Encoder: %#v\n", encoder)

	decoded, err := encoder.DecodeStream(streamObj)
	if err != nil {
		common.Log.Debug("ERROR: Stream decoding failed: %v", err)
		return nil, err
	}

	return decoded, nil
}

// EncodeStream encodes the stream data using the encoder specified by the
// stream's dictionary.
func EncodeStream(streamObj *Stream) error {
	common.Log.Trace("Encode stream")

	encoder, err := NewEncoderFromStream(streamObj)
	if err != nil {
		common.Log.Debug("Stream decoding failed: %v", err)
		return err
	}

	if lzwenc, is := encoder.(*LZWEncoder); is {
		// If LZW, make sure to use EarlyChange 0. There is no write
		// support for 1 yet.
		lzwenc.EarlyChange = 0
		streamObj.Dict.Set("EarlyChange", MakeInteger(0))
	}

	common.Log.Trace("Encoder: %+v\n", encoder)
	encoded, err := encoder.EncodeBytes(streamObj.Data)
	if err != nil {
		common.Log.Debug("Stream encoding failed: %v", err)
		return err
	}

	streamObj.Data = encoded

	// Update length.
	streamObj.Dict.Set("Length", MakeInteger(int64(len(encoded))))

	return nil
}
