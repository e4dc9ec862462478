package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNameWriteString(t *testing.T) {
	testcases := map[string]string{
		"Name1":      "/Name1",
		"Lime Green": "/Lime#20Green",
		"A#B":        "/A#23B",
		"paren(":     "/paren#28",
		"":           "/",
	}

	for in, expected := range testcases {
		name := MakeName(in)
		require.Equal(t, expected, name.WriteString())
	}
}

func TestNameWriteRoundTrip(t *testing.T) {
	for _, raw := range []string{"Lime Green", "A;Name_With-Various***Characters?", "paired()parentheses"} {
		name := MakeName(raw)
		parser := makeParserForText(name.WriteString() + " ")
		parsed, err := parser.parseName()
		require.NoError(t, err)
		require.Equal(t, raw, string(parsed))
	}
}

func TestStringWriteString(t *testing.T) {
	str := MakeString("a(b)c\\d\ne")
	require.Equal(t, `(a\(b\)c\\d\ne)`, str.WriteString())

	hexstr := MakeHexString("\x01\xfe")
	require.Equal(t, "<01fe>", hexstr.WriteString())
}

func TestDictNullAbsorption(t *testing.T) {
	dict := MakeDict()
	dict.Set("A", MakeInteger(1))
	dict.Set("B", MakeInteger(2))
	require.Equal(t, 2, len(dict.Keys()))

	// Writing null removes the key.
	dict.Set("A", MakeNull())
	require.Nil(t, dict.Get("A"))
	require.Equal(t, 1, len(dict.Keys()))
}

func TestDictInsertionOrder(t *testing.T) {
	dict := MakeDict()
	dict.Set("Z", MakeInteger(1))
	dict.Set("A", MakeInteger(2))
	dict.Set("M", MakeInteger(3))
	require.Equal(t, []Name{"Z", "A", "M"}, dict.Keys())

	// Overwriting does not reorder.
	dict.Set("A", MakeInteger(5))
	require.Equal(t, []Name{"Z", "A", "M"}, dict.Keys())
}

func TestDictSetIfNotNil(t *testing.T) {
	dict := MakeDict()

	var typedNil *Array
	dict.SetIfNotNil("A", typedNil)
	require.Nil(t, dict.Get("A"))

	dict.SetIfNotNil("B", MakeInteger(3))
	require.NotNil(t, dict.Get("B"))
}

func TestFloatSerialization(t *testing.T) {
	f := MakeFloat(1.5)
	require.Equal(t, "1.5", f.WriteString())

	f = MakeFloat(-0.25)
	require.Equal(t, "-0.25", f.WriteString())
}

func TestArrayHelpers(t *testing.T) {
	arr := MakeArrayFromIntegers([]int{1, 2, 3})
	require.Equal(t, 3, arr.Len())

	vals, err := arr.ToIntegerArray()
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, vals)

	floats, err := arr.ToFloat64Array()
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2, 3}, floats)

	arr.Append(MakeName("X"))
	_, err = arr.ToIntegerArray()
	require.ErrorIs(t, err, ErrTypeError)
}

func TestTraceToDirect(t *testing.T) {
	inner := MakeInteger(42)
	ind := MakeIndirectObject(inner)
	wrapped := MakeIndirectObject(ind)

	direct := TraceToDirect(wrapped)
	num, ok := direct.(*Integer)
	require.True(t, ok)
	require.Equal(t, Integer(42), *num)
}

func TestEqualObjects(t *testing.T) {
	d1 := MakeDict()
	d1.Set("A", MakeInteger(1))
	d1.Set("B", MakeString("x"))

	d2 := MakeDict()
	d2.Set("B", MakeString("x"))
	d2.Set("A", MakeInteger(1))

	require.True(t, EqualObjects(d1, d2))

	d2.Set("A", MakeInteger(2))
	require.False(t, EqualObjects(d1, d2))
}

func TestMakeStreamSetsLength(t *testing.T) {
	stream, err := MakeStream([]byte("hello world"), nil)
	require.NoError(t, err)

	length, ok := GetIntVal(stream.Dict.Get("Length"))
	require.True(t, ok)
	require.Equal(t, 11, length)
	require.Equal(t, []byte("hello world"), stream.Data)
}

func TestReferenceWriteString(t *testing.T) {
	ref := &Reference{ObjectNumber: 12, GenerationNumber: 3}
	require.Equal(t, "12 3 R", ref.WriteString())

	ind := MakeIndirectObject(MakeInteger(5))
	ind.ObjectNumber = 9
	require.Equal(t, "9 0 R", ind.WriteString())
}
