package core

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pdfmill/pdfmill/common"
)

// Object is the interface all PDF object model primitives implement.
type Object interface {
	// String outputs a string representation of the primitive (for debugging).
	String() string

	// WriteString outputs the object serialized as expected by the PDF standard.
	WriteString() string
}

// Bool represents the primitive PDF boolean object.
type Bool bool

// Integer represents the primitive PDF integer numerical object.
type Integer int64

// Float represents the primitive PDF real numerical object. The original
// lexeme is retained when the value comes from parsed input, so rewriting
// a file does not change the textual representation of real numbers.
type Float struct {
	val float64
	// raw is the lexeme the value was parsed from, empty for constructed values.
	raw string
}

// String represents the primitive PDF string object.
type String struct {
	val   string
	isHex bool
}

// Name represents the primitive PDF name object, held in canonical form:
// #xx escapes resolved and no leading slash.
type Name string

// Array represents the primitive PDF array object.
type Array struct {
	vec []Object
}

// Dict represents the primitive PDF dictionary object. Key insertion
// order is retained for serialization.
type Dict struct {
	dict map[Name]Object
	keys []Name

	// For lazy loading, need access to the parser (and the cross reference
	// table for object access).
	parser *Parser
}

// Null represents the primitive PDF null object.
type Null struct{}

// Reference represents the primitive PDF reference object.
type Reference struct {
	parser           *Parser
	ObjectNumber     int64
	GenerationNumber int64
}

// Indirect represents an indirect PDF object: a numbered container
// owning a direct object.
type Indirect struct {
	Reference
	Object
}

// Stream represents a PDF stream object: a dictionary plus raw byte data.
// Streams are always indirect.
type Stream struct {
	Reference
	*Dict
	Data []byte
}

// ObjectStreams is the writer-side container for a compressed object
// stream (/Type /ObjStm): a set of indirect objects serialized into a
// single stream on output.
type ObjectStreams struct {
	Reference
	vec []Object
}

// MakeDict creates and returns an empty Dict.
func MakeDict() *Dict {
	d := &Dict{}
	d.dict = map[Name]Object{}
	d.keys = []Name{}
	return d
}

// MakeName creates a Name from a string.
func MakeName(s string) *Name {
	name := Name(s)
	return &name
}

// MakeInteger creates an Integer from an int64.
func MakeInteger(val int64) *Integer {
	num := Integer(val)
	return &num
}

// MakeBool creates a Bool from a bool value.
func MakeBool(val bool) *Bool {
	bval := Bool(val)
	return &bval
}

// MakeFloat creates a Float from a float64.
func MakeFloat(val float64) *Float {
	return &Float{val: val}
}

// MakeArray creates an Array from a list of Objects.
func MakeArray(objects ...Object) *Array {
	array := &Array{}
	array.vec = []Object{}
	array.vec = append(array.vec, objects...)
	return array
}

// MakeArrayFromIntegers creates an Array from a slice of ints, where each
// array element is an Integer.
func MakeArrayFromIntegers(vals []int) *Array {
	array := MakeArray()
	for _, val := range vals {
		array.Append(MakeInteger(int64(val)))
	}
	return array
}

// MakeArrayFromIntegers64 creates an Array from a slice of int64s, where
// each array element is an Integer.
func MakeArrayFromIntegers64(vals []int64) *Array {
	array := MakeArray()
	for _, val := range vals {
		array.Append(MakeInteger(val))
	}
	return array
}

// MakeArrayFromFloats creates an Array from a slice of float64s, where
// each array element is a Float.
func MakeArrayFromFloats(vals []float64) *Array {
	array := MakeArray()
	for _, val := range vals {
		array.Append(MakeFloat(val))
	}
	return array
}

// MakeString creates a String from a Go string.
// NOTE: PDF does not use utf-8 string encoding like Go so `s` will often
// not be a utf-8 encoded string.
func MakeString(s string) *String {
	str := String{val: s}
	return &str
}

// MakeStringFromBytes creates a String from a byte slice.
// This is more natural than MakeString as `data` is usually not utf-8 encoded.
func MakeStringFromBytes(data []byte) *String {
	return MakeString(string(data))
}

// MakeHexString creates a String intended for output as a hexadecimal string.
func MakeHexString(s string) *String {
	str := String{val: s, isHex: true}
	return &str
}

// MakeNull creates a Null.
func MakeNull() *Null {
	null := Null{}
	return &null
}

// MakeIndirectObject creates an Indirect wrapping the direct object `obj`.
func MakeIndirectObject(obj Object) *Indirect {
	ind := &Indirect{}
	ind.Object = obj
	return ind
}

// MakeStream creates a Stream with specified contents and encoding. If
// encoder is nil, raw encoding is used (no encoding applied).
func MakeStream(contents []byte, encoder StreamEncoder) (*Stream, error) {
	stream := &Stream{}

	if encoder == nil {
		encoder = NewRawEncoder()
	}

	stream.Dict = encoder.MakeStreamDict()

	encoded, err := encoder.EncodeBytes(contents)
	if err != nil {
		return nil, err
	}
	stream.Dict.Set("Length", MakeInteger(int64(len(encoded))))

	stream.Data = encoded
	return stream, nil
}

// MakeObjectStreams creates an ObjectStreams container from a list of objects.
func MakeObjectStreams(objects ...Object) *ObjectStreams {
	streams := &ObjectStreams{}
	streams.vec = []Object{}
	streams.vec = append(streams.vec, objects...)
	return streams
}

// GetParser returns the parser the reference belongs to (for lazy loading
// or comparing references across documents).
func (ref *Reference) GetParser() *Parser {
	return ref.parser
}

// Resolve resolves the reference and returns the indirect or stream object.
// If the reference cannot be resolved, a *Null object is returned.
func (ref *Reference) Resolve() Object {
	if ref.parser == nil {
		return MakeNull()
	}
	obj, _, err := ref.parser.resolveReference(ref)
	if err != nil {
		common.Log.Debug("ERROR resolving reference: %v - returning null object", err)
		return MakeNull()
	}
	if obj == nil {
		common.Log.Debug("ERROR resolving reference: nil object - returning a null object")
		return MakeNull()
	}
	return obj
}

// String returns the state of the bool as "true" or "false".
func (b *Bool) String() string {
	if *b {
		return "true"
	}
	return "false"
}

// WriteString outputs the object as it is to be written to file.
func (b *Bool) WriteString() string {
	if *b {
		return "true"
	}
	return "false"
}

func (i *Integer) String() string {
	return fmt.Sprintf("%d", *i)
}

// WriteString outputs the object as it is to be written to file.
func (i *Integer) WriteString() string {
	return strconv.FormatInt(int64(*i), 10)
}

// Val returns the float64 value of the Float.
func (f *Float) Val() float64 {
	return f.val
}

func (f *Float) String() string {
	return fmt.Sprintf("%f", f.val)
}

// WriteString outputs the object as it is to be written to file. The
// original lexeme wins when the value came from parsed input, unless it
// used exponential notation which a conforming writer may not emit.
func (f *Float) WriteString() string {
	if f.raw != "" && !strings.ContainsAny(f.raw, "eE") {
		return f.raw
	}
	return strconv.FormatFloat(f.val, 'f', -1, 64)
}

// String returns a string representation of the String object.
func (s *String) String() string {
	return s.val
}

// Str returns the underlying string value directly. Defined in addition to
// String to clarify that this accessor never adds debug decoration.
func (s *String) Str() string {
	return s.val
}

// Bytes returns the String content as a byte slice.
func (s *String) Bytes() []byte {
	return []byte(s.val)
}

// IsHexEncoded reports whether the string serializes in <...> hex form.
func (s *String) IsHexEncoded() bool {
	return s.isHex
}

// WriteString outputs the object as it is to be written to file.
func (s *String) WriteString() string {
	var output bytes.Buffer

	// Hex representation.
	if s.isHex {
		shex := hex.EncodeToString(s.Bytes())
		output.WriteString("<")
		output.WriteString(shex)
		output.WriteString(">")
		return output.String()
	}

	// Otherwise regular string.
	escapeSequences := map[byte]string{
		'\n': "\\n",
		'\r': "\\r",
		'\t': "\\t",
		'\b': "\\b",
		'\f': "\\f",
		'(':  "\\(",
		')':  "\\)",
		'\\': "\\\\",
	}

	output.WriteString("(")
	for i := 0; i < len(s.val); i++ {
		char := s.val[i]
		if escStr, useEsc := escapeSequences[char]; useEsc {
			output.WriteString(escStr)
		} else {
			output.WriteByte(char)
		}
	}
	output.WriteString(")")
	return output.String()
}

// String returns a string representation of `name`.
func (name *Name) String() string {
	return string(*name)
}

// WriteString outputs the object as it is to be written to file, escaping
// bytes that cannot appear literally in a serialized name.
func (name *Name) WriteString() string {
	var output bytes.Buffer

	if len(*name) > 127 {
		common.Log.Debug("ERROR: Name too long (%s)", *name)
	}

	output.WriteString("/")
	for i := 0; i < len(*name); i++ {
		char := (*name)[i]
		if !IsPrintable(char) || char == '#' || IsDelimiter(char) {
			output.WriteString(fmt.Sprintf("#%.2x", char))
		} else {
			output.WriteByte(char)
		}
	}

	return output.String()
}

// Elements returns a slice of the Object elements in the array.
func (array *Array) Elements() []Object {
	if array == nil {
		return nil
	}
	return array.vec
}

// Len returns the number of elements in the array.
func (array *Array) Len() int {
	if array == nil {
		return 0
	}
	return len(array.vec)
}

// Get returns the i-th element of the array or nil if out of bounds.
func (array *Array) Get(i int) Object {
	if array == nil || i >= len(array.vec) || i < 0 {
		return nil
	}
	return array.vec[i]
}

// Set sets the Object at index i of the array. An error is returned if the
// index is outside bounds.
func (array *Array) Set(i int, obj Object) error {
	if i < 0 || i >= len(array.vec) {
		return errors.New("outside bounds")
	}
	array.vec[i] = obj
	return nil
}

// Append appends Object(s) to the array.
func (array *Array) Append(objects ...Object) {
	if array == nil {
		common.Log.Debug("Warn - Attempt to append to a nil array")
		return
	}
	if array.vec == nil {
		array.vec = []Object{}
	}
	array.vec = append(array.vec, objects...)
}

// Clear resets the array to an empty state.
func (array *Array) Clear() {
	array.vec = []Object{}
}

// ToFloat64Array returns a slice of all elements in the array as float64
// values. An error is returned if the array contains non-numeric objects.
func (array *Array) ToFloat64Array() ([]float64, error) {
	var vals []float64

	for _, obj := range array.Elements() {
		switch t := obj.(type) {
		case *Integer:
			vals = append(vals, float64(*t))
		case *Float:
			vals = append(vals, t.val)
		default:
			return nil, ErrTypeError
		}
	}

	return vals, nil
}

// ToIntegerArray returns a slice of all array elements as an int slice.
// An error is returned if the array contains non-integer objects.
func (array *Array) ToIntegerArray() ([]int, error) {
	var vals []int

	for _, obj := range array.Elements() {
		if number, is := obj.(*Integer); is {
			vals = append(vals, int(*number))
		} else {
			return nil, ErrTypeError
		}
	}

	return vals, nil
}

// ToInt64Slice returns a slice of all array elements as an int64 slice.
// An error is returned if the array contains non-integer objects.
func (array *Array) ToInt64Slice() ([]int64, error) {
	var vals []int64

	for _, obj := range array.Elements() {
		if number, is := obj.(*Integer); is {
			vals = append(vals, int64(*number))
		} else {
			return nil, ErrTypeError
		}
	}

	return vals, nil
}

// String returns a string describing `array`.
func (array *Array) String() string {
	outStr := "["
	for ind, o := range array.Elements() {
		outStr += o.String()
		if ind < (array.Len() - 1) {
			outStr += ", "
		}
	}
	outStr += "]"
	return outStr
}

// WriteString outputs the object as it is to be written to file.
func (array *Array) WriteString() string {
	var b strings.Builder
	b.WriteString("[")

	for ind, o := range array.Elements() {
		b.WriteString(o.WriteString())
		if ind < (array.Len() - 1) {
			b.WriteString(" ")
		}
	}

	b.WriteString("]")
	return b.String()
}

// GetNumberAsFloat returns the contents of `obj` as a float if it is an
// integer or float, or an error if it isn't.
func GetNumberAsFloat(obj Object) (float64, error) {
	switch t := obj.(type) {
	case *Float:
		return t.val, nil
	case *Integer:
		return float64(*t), nil
	}
	return 0, ErrNotANumber
}

// GetNumberAsInt64 returns the contents of `obj` as an int64 if it is an
// integer or float, or an error if it isn't. This is for cases where an
// integer is expected, but some implementations store the number in a
// floating point format.
func GetNumberAsInt64(obj Object) (int64, error) {
	switch t := obj.(type) {
	case *Float:
		common.Log.Debug("Number expected as integer was stored as float (type casting used)")
		return int64(t.val), nil
	case *Integer:
		return int64(*t), nil
	}
	return 0, ErrNotANumber
}

// IsNullObject returns true if `obj` is a Null.
func IsNullObject(obj Object) bool {
	_, isNull := TraceToDirect(obj).(*Null)
	return isNull
}

// Merge merges in key/values from another dictionary, overwriting existing
// keys. The mutated dictionary is returned to allow method chaining.
func (d *Dict) Merge(another *Dict) *Dict {
	if another != nil {
		for _, key := range another.Keys() {
			val := another.Get(key)
			d.Set(key, val)
		}
	}

	return d
}

// String returns a string describing `d`.
func (d *Dict) String() string {
	var b strings.Builder
	b.WriteString("Dict(")
	for _, k := range d.keys {
		v := d.dict[k]
		b.WriteString(`"` + k.String() + `": `)
		b.WriteString(v.String())
		b.WriteString(`, `)
	}
	b.WriteString(")")
	return b.String()
}

// WriteString outputs the object as it is to be written to file.
func (d *Dict) WriteString() string {
	var b strings.Builder

	b.WriteString("<<")
	for _, k := range d.keys {
		v := d.dict[k]
		b.WriteString(k.WriteString())
		b.WriteString(" ")
		b.WriteString(v.WriteString())
	}

	b.WriteString(">>")
	return b.String()
}

// Set sets the dictionary's key -> val mapping entry. Overwrites if the key
// is already set. Setting a *Null value removes the key, matching the
// standard's treatment of null dictionary entries.
func (d *Dict) Set(key Name, val Object) {
	if _, isNull := val.(*Null); isNull {
		d.Remove(key)
		return
	}
	_, found := d.dict[key]
	if !found {
		d.keys = append(d.keys, key)
	}
	d.dict[key] = val
}

// Get returns the Object corresponding to the specified key.
// Returns a nil value if the key is not set.
func (d *Dict) Get(key Name) Object {
	val, has := d.dict[key]
	if !has {
		return nil
	}
	return val
}

// GetString is a helper for Get that returns a string value.
// Returns false if the key is missing or the value is not a string.
func (d *Dict) GetString(key Name) (string, bool) {
	val, ok := d.dict[key].(*String)
	if !ok {
		return "", false
	}
	return val.Str(), true
}

// Keys returns the list of keys in the dictionary.
// If `d` is nil returns a nil slice.
func (d *Dict) Keys() []Name {
	if d == nil {
		return nil
	}
	return d.keys
}

// Clear resets the dictionary to an empty state.
func (d *Dict) Clear() {
	d.keys = []Name{}
	d.dict = map[Name]Object{}
}

// Remove removes an element specified by key.
func (d *Dict) Remove(key Name) {
	idx := -1
	for i, k := range d.keys {
		if k == key {
			idx = i
			break
		}
	}

	if idx >= 0 {
		d.keys = append(d.keys[:idx], d.keys[idx+1:]...)
		delete(d.dict, key)
	}
}

// SetIfNotNil sets the dictionary's key -> val mapping entry -IF- val is
// not nil. A type switch is needed, otherwise a typed nil such as
// (*Array)(nil) would not compare equal to Object(nil) and would get set.
func (d *Dict) SetIfNotNil(key Name, val Object) {
	if val != nil {
		switch t := val.(type) {
		case *Name:
			if t != nil {
				d.Set(key, val)
			}
		case *Dict:
			if t != nil {
				d.Set(key, val)
			}
		case *Stream:
			if t != nil {
				d.Set(key, val)
			}
		case *String:
			if t != nil {
				d.Set(key, val)
			}
		case *Null:
			if t != nil {
				d.Set(key, val)
			}
		case *Integer:
			if t != nil {
				d.Set(key, val)
			}
		case *Array:
			if t != nil {
				d.Set(key, val)
			}
		case *Bool:
			if t != nil {
				d.Set(key, val)
			}
		case *Float:
			if t != nil {
				d.Set(key, val)
			}
		case *Reference:
			if t != nil {
				d.Set(key, val)
			}
		case *Indirect:
			if t != nil {
				d.Set(key, val)
			}
		default:
			common.Log.Error("ERROR: Unknown type: %T - should never happen!", val)
		}
	}
}

// String returns a string describing `ref`.
func (ref *Reference) String() string {
	return fmt.Sprintf("Ref(%d %d)", ref.ObjectNumber, ref.GenerationNumber)
}

// WriteString outputs the object as it is to be written to file.
func (ref *Reference) WriteString() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(ref.ObjectNumber, 10))
	b.WriteString(" ")
	b.WriteString(strconv.FormatInt(ref.GenerationNumber, 10))
	b.WriteString(" R")
	return b.String()
}

// String returns a string describing `ind`.
func (ind *Indirect) String() string {
	// Avoid printing out the contained object, can cause problems with
	// circular references.
	return fmt.Sprintf("IObject:%d", (*ind).ObjectNumber)
}

// WriteString outputs the object as it is to be written to file.
func (ind *Indirect) WriteString() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(ind.ObjectNumber, 10))
	b.WriteString(" 0 R")
	return b.String()
}

// String returns a string describing `stream`.
func (stream *Stream) String() string {
	return fmt.Sprintf("Stream %d: %s", stream.ObjectNumber, stream.Dict)
}

// WriteString outputs the object as it is to be written to file.
func (stream *Stream) WriteString() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(stream.ObjectNumber, 10))
	b.WriteString(" 0 R")
	return b.String()
}

// String returns a string describing `null`.
func (null *Null) String() string {
	return "null"
}

// WriteString outputs the object as it is to be written to file.
func (null *Null) WriteString() string {
	return "null"
}

// traceMaxDepth specifies the maximum indirection depth allowed when
// tracing to a direct object.
const traceMaxDepth = 10

// TraceToDirect traces an Object to a direct object, following references
// and unwrapping indirect containers (possibly multiple levels).
func TraceToDirect(obj Object) Object {
	if ref, isRef := obj.(*Reference); isRef {
		obj = ref.Resolve()
	}

	iobj, isIndirectObj := obj.(*Indirect)
	depth := 0
	for isIndirectObj {
		obj = iobj.Object
		iobj, isIndirectObj = GetIndirect(obj)
		depth++
		if depth > traceMaxDepth {
			common.Log.Error("ERROR: Trace depth level beyond %d - not going deeper!", traceMaxDepth)
			return nil
		}
	}
	return obj
}

// Convenience methods for converting Object to underlying types.

// GetBool returns the *Bool represented by the Object directly or
// indirectly within an indirect object. The bool flag indicates whether
// a match was found.
func GetBool(obj Object) (bo *Bool, found bool) {
	bo, found = TraceToDirect(obj).(*Bool)
	return bo, found
}

// GetBoolVal returns the bool value within a *Bool represented by the
// Object directly or indirectly. If the object does not represent a bool,
// false is returned (found = false also).
func GetBoolVal(obj Object) (b bool, found bool) {
	bo, found := TraceToDirect(obj).(*Bool)
	if found {
		return bool(*bo), true
	}
	return false, false
}

// GetInt returns the *Integer represented by the Object directly or
// indirectly within an indirect object.
func GetInt(obj Object) (into *Integer, found bool) {
	into, found = TraceToDirect(obj).(*Integer)
	return into, found
}

// GetIntVal returns the int value represented by the Object directly or
// indirectly. On type mismatch found is false.
func GetIntVal(obj Object) (val int, found bool) {
	into, found := TraceToDirect(obj).(*Integer)
	if found && into != nil {
		return int(*into), true
	}
	return 0, false
}

// GetFloat returns the *Float represented by the Object directly or
// indirectly within an indirect object.
func GetFloat(obj Object) (fo *Float, found bool) {
	fo, found = TraceToDirect(obj).(*Float)
	return fo, found
}

// GetFloatVal returns the float64 value represented by the Object directly
// or indirectly. On type mismatch found is false.
func GetFloatVal(obj Object) (val float64, found bool) {
	fo, found := TraceToDirect(obj).(*Float)
	if found {
		return fo.val, true
	}
	return 0, false
}

// GetString returns the *String represented by the Object directly or
// indirectly within an indirect object.
func GetString(obj Object) (so *String, found bool) {
	so, found = TraceToDirect(obj).(*String)
	return so, found
}

// GetStringVal returns the string value represented by the Object directly
// or indirectly. On type mismatch found is false.
func GetStringVal(obj Object) (val string, found bool) {
	so, found := TraceToDirect(obj).(*String)
	if found {
		return so.Str(), true
	}
	return
}

// GetStringBytes is like GetStringVal except that it returns the string as
// a byte slice.
func GetStringBytes(obj Object) (val []byte, found bool) {
	so, found := TraceToDirect(obj).(*String)
	if found {
		return so.Bytes(), true
	}
	return
}

// GetName returns the *Name represented by the Object directly or
// indirectly within an indirect object.
func GetName(obj Object) (name *Name, found bool) {
	name, found = TraceToDirect(obj).(*Name)
	return name, found
}

// GetNameVal returns the string value represented by the Object directly
// or indirectly. On type mismatch found is false.
func GetNameVal(obj Object) (val string, found bool) {
	name, found := TraceToDirect(obj).(*Name)
	if found {
		return string(*name), true
	}
	return
}

// GetArray returns the *Array represented by the Object directly or
// indirectly within an indirect object.
func GetArray(obj Object) (arr *Array, found bool) {
	arr, found = TraceToDirect(obj).(*Array)
	return arr, found
}

// GetDict returns the *Dict represented by the Object directly or
// indirectly within an indirect object.
func GetDict(obj Object) (dict *Dict, found bool) {
	dict, found = TraceToDirect(obj).(*Dict)
	return dict, found
}

// GetIndirect returns the *Indirect represented by the Object. On type
// mismatch found is false and a nil pointer is returned.
func GetIndirect(obj Object) (ind *Indirect, found bool) {
	obj = ResolveReference(obj)
	ind, found = obj.(*Indirect)
	return ind, found
}

// GetStream returns the *Stream represented by the Object. On type
// mismatch found is false and a nil pointer is returned.
func GetStream(obj Object) (stream *Stream, found bool) {
	obj = ResolveReference(obj)
	stream, found = obj.(*Stream)
	return stream, found
}

// GetObjectStreams returns the *ObjectStreams represented by the Object.
func GetObjectStreams(obj Object) (objStream *ObjectStreams, found bool) {
	objStream, found = obj.(*ObjectStreams)
	return objStream, found
}

// Append appends Object(s) to the object stream container.
func (streams *ObjectStreams) Append(objects ...Object) {
	if streams == nil {
		common.Log.Debug("Warn - Attempt to append to a nil streams")
		return
	}
	if streams.vec == nil {
		streams.vec = []Object{}
	}
	streams.vec = append(streams.vec, objects...)
}

// Set sets the Object at index i of the container. An error is returned
// if the index is outside bounds.
func (streams *ObjectStreams) Set(i int, obj Object) error {
	if i < 0 || i >= len(streams.vec) {
		return errors.New("outside bounds")
	}
	streams.vec[i] = obj
	return nil
}

// Elements returns a slice of the contained objects.
func (streams *ObjectStreams) Elements() []Object {
	if streams == nil {
		return nil
	}
	return streams.vec
}

// String returns a string describing `streams`.
func (streams *ObjectStreams) String() string {
	return fmt.Sprintf("Object stream %d", streams.ObjectNumber)
}

// Len returns the number of objects in the container.
func (streams *ObjectStreams) Len() int {
	if streams == nil {
		return 0
	}
	return len(streams.vec)
}

// WriteString outputs the object as it is to be written to file.
func (streams *ObjectStreams) WriteString() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(streams.ObjectNumber, 10))
	b.WriteString(" 0 R")
	return b.String()
}
