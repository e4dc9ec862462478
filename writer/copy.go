package writer

import (
	"github.com/pdfmill/pdfmill/common"
	"github.com/pdfmill/pdfmill/core"
)

// copyObject creates a deep copy of a PDF object, filling `copies` so the
// same source object always maps to the same copy. Because the map is
// consulted before recursing, circular references in the source graph are
// reproduced in the copy rather than unrolled — this is also what makes
// copying an object graph out of a foreign document safe.
func (w *Writer) copyObject(obj core.Object, copies map[core.Object]core.Object) core.Object {
	if newObj, ok := copies[obj]; ok {
		return newObj
	}

	newObj := obj
	switch t := obj.(type) {
	case *core.Array:
		arrObj := core.MakeArray()
		newObj = arrObj
		copies[obj] = newObj
		for _, val := range t.Elements() {
			arrObj.Append(w.copyObject(val, copies))
		}
	case *core.ObjectStreams:
		streamsObj := core.MakeObjectStreams()
		newObj = streamsObj
		copies[obj] = newObj
		for _, val := range t.Elements() {
			streamsObj.Append(w.copyObject(val, copies))
		}
	case *core.Stream:
		streamObj := &core.Stream{
			Data:      t.Data,
			Reference: t.Reference,
		}
		newObj = streamObj
		copies[obj] = newObj
		streamObj.Dict = w.copyObject(t.Dict, copies).(*core.Dict)
	case *core.Dict:
		dictObj := core.MakeDict()
		newObj = dictObj
		copies[obj] = newObj
		for _, key := range t.Keys() {
			dictObj.Set(key, w.copyObject(t.Get(key), copies))
		}
	case *core.Indirect:
		if _, isNull := t.Object.(*core.Null); isNull {
			// An indirect null serializes as a direct null: the standard
			// treats them identically and a numbered null object would
			// only waste an xref slot.
			newObj = core.MakeNull()
			copies[obj] = newObj
			return newObj
		}
		indObj := &core.Indirect{
			Reference: t.Reference,
		}
		newObj = indObj
		copies[obj] = newObj
		indObj.Object = w.copyObject(t.Object, copies)
	case *core.String:
		strObj := *t
		newObj = &strObj
		copies[obj] = newObj
	case *core.Name:
		nameObj := *t
		newObj = &nameObj
		copies[obj] = newObj
	case *core.Null:
		newObj = core.MakeNull()
		copies[obj] = newObj
	case *core.Integer:
		intObj := *t
		newObj = &intObj
		copies[obj] = newObj
	case *core.Reference:
		// References are resolved before write; an unresolved one copies
		// as-is and resolves to null later if dangling.
		refObj := *t
		newObj = &refObj
		copies[obj] = newObj
	case *core.Float:
		floatObj := *t
		newObj = &floatObj
		copies[obj] = newObj
	case *core.Bool:
		boolObj := *t
		newObj = &boolObj
		copies[obj] = newObj
	default:
		common.Log.Debug("ERROR: unhandled type in copyObject: %T", obj)
	}

	return newObj
}

// copyObjects deep copies the enqueued object set and rebinds all writer
// state (root, info, encryption object, preserve-mode bookkeeping) to the
// copies.
func (w *Writer) copyObjects() {
	copies := make(map[core.Object]core.Object)
	objects := make([]core.Object, 0, len(w.objects))
	objectsMap := make(map[core.Object]struct{}, len(w.objects))
	for _, obj := range w.objects {
		newObject := w.copyObject(obj, copies)
		if _, isNull := newObject.(*core.Null); isNull {
			// Collapsed indirect null: no longer written standalone.
			continue
		}
		objects = append(objects, newObject)
		objectsMap[newObject] = struct{}{}
	}

	w.objects = objects
	w.objectsMap = objectsMap
	if w.infoObj != nil {
		w.infoObj = w.copyObject(w.infoObj, copies).(*core.Indirect)
	}
	w.root = w.copyObject(w.root, copies).(*core.Indirect)
	w.catalog = w.copyObject(w.catalog, copies).(*core.Dict)
	if w.encryptObj != nil {
		w.encryptObj = w.copyObject(w.encryptObj, copies).(*core.Indirect)
	}

	// Preserve-mode membership follows the objects to their copies.
	sourceCompressed := make(map[core.Object]bool, len(w.sourceCompressed))
	for obj, was := range w.sourceCompressed {
		if objCopy, has := copies[obj]; has {
			sourceCompressed[objCopy] = was
		}
	}
	w.sourceCompressed = sourceCompressed
}
