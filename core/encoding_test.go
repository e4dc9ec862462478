package core

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlateEncodingRoundTrip(t *testing.T) {
	rawStream := []byte("this is a dummy text with some \x01\x02\x03 binary data")

	encoder := NewFlateEncoder()

	encoded, err := encoder.EncodeBytes(rawStream)
	require.NoError(t, err)

	decoded, err := encoder.DecodeBytes(encoded)
	require.NoError(t, err)
	require.Equal(t, rawStream, decoded)
}

func TestFlatePredictorSubRoundTrip(t *testing.T) {
	// 4 rows of 8 samples.
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i * 7)
	}

	encoder := NewFlateEncoder()
	encoder.SetPredictor(8)

	encoded, err := encoder.EncodeBytes(raw)
	require.NoError(t, err)

	stream := &Stream{Dict: encoder.MakeStreamDict(), Data: encoded}
	decoder, err := newFlateEncoderFromStream(stream, nil)
	require.NoError(t, err)
	require.Equal(t, 11, decoder.Predictor)
	require.Equal(t, 8, decoder.Columns)

	decoded, err := decoder.DecodeStream(stream)
	require.NoError(t, err)
	require.Equal(t, raw, decoded)
}

func TestFlatePredictorUpRoundTrip(t *testing.T) {
	// The cross-reference stream configuration: PNG up predictor over
	// 7-byte rows.
	raw := []byte{
		1, 0, 0, 0, 15, 0, 0,
		1, 0, 0, 0, 120, 0, 0,
		2, 0, 0, 0, 9, 0, 1,
		1, 0, 0, 1, 3, 0, 0,
	}

	encoder := NewFlateEncoder()
	encoder.SetPredictorUp(7)

	encoded, err := encoder.EncodeBytes(raw)
	require.NoError(t, err)

	stream := &Stream{Dict: encoder.MakeStreamDict(), Data: encoded}
	decoder, err := newFlateEncoderFromStream(stream, nil)
	require.NoError(t, err)
	require.Equal(t, 12, decoder.Predictor)

	decoded, err := decoder.DecodeStream(stream)
	require.NoError(t, err)
	require.Equal(t, raw, decoded)
}

func TestLZWDecode(t *testing.T) {
	raw := []byte("fairly repetitive data data data data data")

	enc := NewLZWEncoder()
	enc.EarlyChange = 0
	encoded, err := enc.EncodeBytes(raw)
	require.NoError(t, err)

	decoded, err := enc.DecodeBytes(encoded)
	require.NoError(t, err)
	require.Equal(t, raw, decoded)
}

func TestRunLengthEncodingRoundTrip(t *testing.T) {
	testcases := [][]byte{
		[]byte("aaaaaaaaaaaaaaaaaaaaabc"),
		[]byte("abcdefg"),
		[]byte("aabbbbbbcdddddddddddddddddddddddddddddddddddddddddddd"),
		{},
	}

	enc := NewRunLengthEncoder()
	for _, raw := range testcases {
		encoded, err := enc.EncodeBytes(raw)
		require.NoError(t, err)
		if len(raw) == 0 {
			continue
		}
		decoded, err := enc.DecodeBytes(encoded)
		require.NoError(t, err)
		require.Equal(t, raw, decoded)
	}
}

func TestASCIIHexEncodingRoundTrip(t *testing.T) {
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01}

	enc := NewASCIIHexEncoder()
	encoded, err := enc.EncodeBytes(raw)
	require.NoError(t, err)
	require.Equal(t, byte('>'), encoded[len(encoded)-1])

	decoded, err := enc.DecodeBytes(encoded)
	require.NoError(t, err)
	require.Equal(t, raw, decoded)
}

func TestASCII85EncodingRoundTrip(t *testing.T) {
	testcases := [][]byte{
		[]byte("this is some text"),
		[]byte("this is some tex"),
		[]byte("this is some te"),
		{0, 0, 0, 0, 1, 2, 3},
	}

	enc := NewASCII85Encoder()
	for _, raw := range testcases {
		encoded, err := enc.EncodeBytes(raw)
		require.NoError(t, err)
		require.True(t, bytes.HasSuffix(encoded, []byte("~>")))

		decoded, err := enc.DecodeBytes(encoded)
		require.NoError(t, err)
		require.Equal(t, raw, decoded)
	}
}

func TestMultiEncoder(t *testing.T) {
	rawText := "this is some text that will be encoded multiple times"

	// Flate innermost, then ASCII hex: the Filter array lists decoding
	// order.
	flate := NewFlateEncoder()
	ahx := NewASCIIHexEncoder()

	menc := NewMultiEncoder()
	menc.AddEncoder(ahx)
	menc.AddEncoder(flate)

	encoded, err := menc.EncodeBytes([]byte(rawText))
	require.NoError(t, err)

	decoded, err := menc.DecodeBytes(encoded)
	require.NoError(t, err)
	require.Equal(t, []byte(rawText), decoded)

	// And via a stream dictionary.
	dict := menc.MakeStreamDict()
	filters, ok := GetArray(dict.Get("Filter"))
	require.True(t, ok)
	require.Equal(t, 2, filters.Len())

	stream := &Stream{Dict: dict, Data: encoded}
	streamEnc, err := NewEncoderFromStream(stream)
	require.NoError(t, err)
	decoded, err = streamEnc.DecodeStream(stream)
	require.NoError(t, err)
	require.Equal(t, []byte(rawText), decoded)
}

func TestEncoderFromStreamRaw(t *testing.T) {
	stream := &Stream{Dict: MakeDict(), Data: []byte("plain")}
	enc, err := NewEncoderFromStream(stream)
	require.NoError(t, err)
	require.Equal(t, StreamEncodingFilterNameRaw, enc.GetFilterName())

	decoded, err := DecodeStream(stream)
	require.NoError(t, err)
	require.Equal(t, []byte("plain"), decoded)
}

func TestEncoderFromStreamUnsupported(t *testing.T) {
	dict := MakeDict()
	dict.Set("Filter", MakeName("DCTDecode"))
	stream := &Stream{Dict: dict, Data: []byte{0xff, 0xd8}}

	_, err := NewEncoderFromStream(stream)
	require.Error(t, err)
	require.False(t, IsDecodable(stream, DecodeLevelAll))
}

func TestIsDecodable(t *testing.T) {
	dict := MakeDict()
	dict.Set("Filter", MakeName("FlateDecode"))
	stream := &Stream{Dict: dict}

	require.False(t, IsDecodable(stream, DecodeLevelNone))
	require.True(t, IsDecodable(stream, DecodeLevelGeneralized))
}
