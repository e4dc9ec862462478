package core

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfmill/pdfmill/common"
)

// checkBounds checks a slice range to make sure it is within bounds for
// accessing: slice[a:b] where sliceLen=len(slice).
func checkBounds(sliceLen, a, b int) error {
	if a < 0 || a > sliceLen {
		return errors.New("slice index a out of bounds")
	}
	if b < a {
		return errors.New("invalid slice index b < a")
	}
	if b > sliceLen {
		return errors.New("slice index b out of bounds")
	}

	return nil
}

// GetObjectNums returns a sorted list of object numbers of the PDF
// objects in the file.
func (parser *Parser) GetObjectNums() []int {
	var objNums []int
	for _, x := range parser.xrefs.ObjectMap {
		objNums = append(objNums, x.ObjectNumber)
	}

	// Sort the object numbers to give consistent ordering of PDF objects
	// in output. Needed since the xref table is a map.
	sort.Ints(objNums)

	return objNums
}

// ResolveReference resolves the reference if `obj` is a *Reference and
// returns the object referenced to. Otherwise returns back `obj`.
func ResolveReference(obj Object) Object {
	if ref, isRef := obj.(*Reference); isRef {
		return ref.Resolve()
	}
	return obj
}

// ResolveReferencesDeep recursively traverses object `o`, looking up and
// replacing references with indirect objects.
// Optionally a map of already deep-resolved objects can be provided via
// `traversed`. The map is updated while traversing to avoid visiting the
// same objects multiple times.
func ResolveReferencesDeep(o Object, traversed map[Object]struct{}) error {
	if traversed == nil {
		traversed = map[Object]struct{}{}
	}
	return resolveReferencesDeep(o, 0, traversed)
}

func resolveReferencesDeep(o Object, depth int, traversed map[Object]struct{}) error {
	common.Log.Trace("Traverse object data (depth = %d)", depth)
	if _, isTraversed := traversed[o]; isTraversed {
		common.Log.Trace("-Already traversed...")
		return nil
	}
	traversed[o] = struct{}{}

	switch t := o.(type) {
	case *Indirect:
		return resolveReferencesDeep(t.Object, depth+1, traversed)
	case *Stream:
		return resolveReferencesDeep(t.Dict, depth+1, traversed)
	case *Dict:
		for _, name := range t.Keys() {
			v := t.Get(name)
			if ref, isRef := v.(*Reference); isRef {
				resolvedObj := ref.Resolve()
				t.Set(name, resolvedObj)
				err := resolveReferencesDeep(resolvedObj, depth+1, traversed)
				if err != nil {
					return err
				}
			} else {
				err := resolveReferencesDeep(v, depth+1, traversed)
				if err != nil {
					return err
				}
			}
		}
		return nil
	case *Array:
		for idx, v := range t.Elements() {
			if ref, isRef := v.(*Reference); isRef {
				resolvedObj := ref.Resolve()
				t.Set(idx, resolvedObj)
				err := resolveReferencesDeep(resolvedObj, depth+1, traversed)
				if err != nil {
					return err
				}
			} else {
				err := resolveReferencesDeep(v, depth+1, traversed)
				if err != nil {
					return err
				}
			}
		}
		return nil
	case *Reference:
		common.Log.Debug("ERROR: Tracing a reference!")
		return errors.New("error tracing a reference")
	}

	return nil
}

// Inspect analyzes the document object structure. Returns a map of object
// types (by name) with the instance count as value. Useful for inspecting
// odd files.
func (parser *Parser) Inspect() (map[string]int, error) {
	return parser.inspect()
}

func (parser *Parser) inspect() (map[string]int, error) {
	common.Log.Trace("--------INSPECT ----------")
	common.Log.Trace("Xref table:")

	objTypes := map[string]int{}
	objCount := 0
	failedCount := 0

	var keys []int
	for k := range parser.xrefs.ObjectMap {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	for _, k := range keys {
		xref := parser.xrefs.ObjectMap[k]
		if xref.ObjectNumber == 0 {
			continue
		}
		objCount++
		common.Log.Trace("Looking up object number: %d", xref.ObjectNumber)
		o, err := parser.LookupByNumber(xref.ObjectNumber)
		if err != nil {
			common.Log.Trace("ERROR: Fail to lookup obj %d (%s)", xref.ObjectNumber, err)
			failedCount++
			continue
		}

		iobj, isIndirect := o.(*Indirect)
		if isIndirect {
			dict, isDict := iobj.Object.(*Dict)
			if isDict {
				// Check for a Type parameter, fall back to Subtype.
				if ot, has := dict.Get("Type").(*Name); has {
					objTypes[string(*ot)]++
				} else if ot, has := dict.Get("Subtype").(*Name); has {
					objTypes[string(*ot)]++
				}
				if val, has := dict.Get("S").(*Name); has && *val == "JavaScript" {
					objTypes["JavaScript"]++
				}
			}
		} else if sobj, isStream := o.(*Stream); isStream {
			if otype, ok := sobj.Dict.Get("Type").(*Name); ok {
				objTypes[string(*otype)]++
			}
		} else { // Direct.
			dict, isDict := o.(*Dict)
			if isDict {
				if ot, isName := dict.Get("Type").(*Name); isName {
					objTypes[string(*ot)]++
				}
			}
		}
	}
	common.Log.Trace("Object count: %d", objCount)
	common.Log.Trace("Failed lookup: %d", failedCount)

	if len(parser.xrefs.ObjectMap) < 1 {
		common.Log.Debug("ERROR: This document is invalid (xref table missing!)")
		return nil, fmt.Errorf("invalid document (xref table missing)")
	}

	return objTypes, nil
}

// EqualObjects returns true if `obj1` and `obj2` have the same contents.
//
// NOTE: It is a good idea to flatten obj1 and obj2 with FlattenObject
// before calling this function so that contents, rather than references,
// are compared.
func EqualObjects(obj1, obj2 Object) bool {
	return equalObjects(obj1, obj2, 0)
}

// equalObjects returns true if `obj1` and `obj2` have the same contents,
// recursively checking the contents of indirect objects, arrays and dicts
// to a depth of traceMaxDepth.
func equalObjects(obj1, obj2 Object, depth int) bool {
	if depth > traceMaxDepth {
		common.Log.Error("Trace depth level beyond %d - error!", traceMaxDepth)
		return false
	}

	if obj1 == nil && obj2 == nil {
		return true
	} else if obj1 == nil || obj2 == nil {
		return false
	}
	if reflect.TypeOf(obj1) != reflect.TypeOf(obj2) {
		return false
	}

	// obj1 and obj2 are non-nil and of the same type.
	switch t1 := obj1.(type) {
	case *Null:
		return true
	case *Reference:
		t2 := obj2.(*Reference)
		return t1.ObjectNumber == t2.ObjectNumber && t1.GenerationNumber == t2.GenerationNumber
	case *Name:
		return *t1 == *(obj2.(*Name))
	case *String:
		return t1.val == obj2.(*String).val
	case *Integer:
		return *t1 == *(obj2.(*Integer))
	case *Bool:
		return *t1 == *(obj2.(*Bool))
	case *Float:
		return t1.val == obj2.(*Float).val
	case *Indirect:
		return equalObjects(TraceToDirect(obj1), TraceToDirect(obj2), depth+1)
	case *Array:
		t2 := obj2.(*Array)
		if len(t1.vec) != len(t2.vec) {
			return false
		}
		for i, o1 := range t1.vec {
			if !equalObjects(o1, t2.vec[i], depth+1) {
				return false
			}
		}
		return true
	case *Dict:
		t2 := obj2.(*Dict)
		d1, d2 := t1.dict, t2.dict
		if len(d1) != len(d2) {
			return false
		}
		for k, o1 := range d1 {
			o2, ok := d2[k]
			if !ok || !equalObjects(o1, o2, depth+1) {
				return false
			}
		}
		return true
	case *Stream:
		t2 := obj2.(*Stream)
		return equalObjects(t1.Dict, t2.Dict, depth+1)
	default:
		common.Log.Error("ERROR: Unknown type: %T - should never happen!", obj1)
	}

	return false
}

// FlattenObject returns the contents of `obj`: `obj` with indirect
// objects replaced by their values.
// The replacements are made recursively to a depth of traceMaxDepth.
// NOTE: Dicts are sorted to make objects with same contents have the same
// serialized strings.
func FlattenObject(obj Object) Object {
	return flattenObject(obj, 0)
}

func flattenObject(obj Object, depth int) Object {
	if depth > traceMaxDepth {
		common.Log.Error("Trace depth level beyond %d - error!", traceMaxDepth)
		return MakeNull()
	}
	switch t := obj.(type) {
	case *Indirect:
		obj = flattenObject(t.Object, depth+1)
	case *Array:
		for i, o := range t.vec {
			t.vec[i] = flattenObject(o, depth+1)
		}
	case *Dict:
		for k, o := range t.dict {
			t.dict[k] = flattenObject(o, depth+1)
		}
		sort.Slice(t.keys, func(i, j int) bool { return t.keys[i] < t.keys[j] })
	}
	return obj
}

// ParseNumber parses a numeric object from a buffered stream.
// Section 7.3.3: Integer or Real.
//
// An integer is one or more decimal digits optionally preceded by a sign.
// A real is decimal digits with an optional sign and a leading, trailing,
// or embedded period. A conforming writer does not use exponential
// format, but such numbers appear in real files, so the reader supports
// them (no confusion with other types, so no compromise).
//
// Integers that over/underflow int64 clamp to the int64 limits.
func ParseNumber(buf *bufio.Reader) (Object, error) {
	isFloat := false
	allowSigns := true
	var r bytes.Buffer
	for {
		if common.Log.IsLogLevel(common.LogLevelTrace) {
			common.Log.Trace("Parsing number \"%s\"", r.String())
		}
		bb, err := buf.Peek(1)
		if err == io.EOF {
			// Handle EOF like end of line; can happen with object streams
			// where the object is at the end of the decoded data.
			break
		}
		if err != nil {
			common.Log.Debug("ERROR %s", err)
			return nil, err
		}
		if allowSigns && (bb[0] == '-' || bb[0] == '+') {
			// Only appears in the beginning, otherwise serves as a delimiter.
			b, _ := buf.ReadByte()
			r.WriteByte(b)
			allowSigns = false // Only allowed in beginning, and after e (exponential).
		} else if IsDecimalDigit(bb[0]) {
			b, _ := buf.ReadByte()
			r.WriteByte(b)
		} else if bb[0] == '.' {
			b, _ := buf.ReadByte()
			r.WriteByte(b)
			isFloat = true
		} else if bb[0] == 'e' || bb[0] == 'E' {
			// Exponential number format.
			b, _ := buf.ReadByte()
			r.WriteByte(b)
			isFloat = true
			allowSigns = true
		} else {
			break
		}
	}

	var o Object
	if isFloat {
		fVal, err := strconv.ParseFloat(r.String(), 64)
		if err != nil {
			common.Log.Debug("Error parsing number %v err=%v. Using 0.0. Output may be incorrect", r.String(), err)
			fVal = 0.0
		}

		o = &Float{val: fVal, raw: r.String()}
	} else {
		intVal, err := strconv.ParseInt(r.String(), 10, 64)
		if err != nil {
			if errors.Is(err, strconv.ErrRange) {
				// Clamp to the int64 limits.
				if strings.HasPrefix(r.String(), "-") {
					intVal = math.MinInt64
				} else {
					intVal = math.MaxInt64
				}
				common.Log.Debug("Number %v out of range - clamping to %d", r.String(), intVal)
			} else {
				common.Log.Debug("Error parsing number %v err=%v. Using 0. Output may be incorrect", r.String(), err)
				intVal = 0
			}
		}

		objInt := Integer(intVal)
		o = &objInt
	}

	return o, nil
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
