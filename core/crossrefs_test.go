package core

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMakeIndirectAllocatesMonotonically(t *testing.T) {
	parser, err := NewParser(bytes.NewReader([]byte(makeSimplePdf())))
	require.NoError(t, err)

	ind := parser.MakeIndirect(MakeInteger(7))
	require.Equal(t, int64(4), ind.ObjectNumber)

	ind2 := parser.MakeIndirect(MakeString("x"))
	require.Equal(t, int64(5), ind2.ObjectNumber)

	// The allocated objects resolve through the cache.
	obj, err := parser.LookupByNumber(4)
	require.NoError(t, err)
	val, ok := GetIntVal(obj)
	require.True(t, ok)
	require.Equal(t, 7, val)
}

func TestLookupSharesLiveEntry(t *testing.T) {
	parser, err := NewParser(bytes.NewReader([]byte(makeSimplePdf())))
	require.NoError(t, err)

	obj, err := parser.LookupByNumber(3)
	require.NoError(t, err)
	ind, ok := obj.(*Indirect)
	require.True(t, ok)

	// Mutating the resolved dictionary is visible through a second
	// handle: both resolve to the same live entry.
	dict := ind.Object.(*Dict)
	dict.Set("Rotate", MakeInteger(90))

	again, err := parser.LookupByNumber(3)
	require.NoError(t, err)
	rot, ok := GetIntVal(again.(*Indirect).Object.(*Dict).Get("Rotate"))
	require.True(t, ok)
	require.Equal(t, 90, rot)
}

func TestSwapEntries(t *testing.T) {
	parser, err := NewParser(bytes.NewReader([]byte(makeSimplePdf())))
	require.NoError(t, err)

	require.NoError(t, parser.Swap(2, 3))

	obj, err := parser.LookupByNumber(2)
	require.NoError(t, err)
	tp, _ := GetNameVal(obj.(*Indirect).Object.(*Dict).Get("Type"))
	require.Equal(t, "Page", tp)
}

func TestEraseEntry(t *testing.T) {
	parser, err := NewParser(bytes.NewReader([]byte(makeSimplePdf())))
	require.NoError(t, err)

	parser.Erase(3)
	obj, err := parser.LookupByNumber(3)
	require.NoError(t, err)
	ind, ok := obj.(*Indirect)
	require.True(t, ok)
	_, isNull := ind.Object.(*Null)
	require.True(t, isNull)
}

func TestAllObjects(t *testing.T) {
	parser, err := NewParser(bytes.NewReader([]byte(makeSimplePdf())))
	require.NoError(t, err)

	objs, err := parser.AllObjects()
	require.NoError(t, err)
	require.Len(t, objs, 3)
}
