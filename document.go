// document.go - Ordered document type

package docstore

import (
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Field is a single key/value pair of a Document.
type Field struct {
	Key   string
	Value Value
}

// Document is an ordered set of fields. Keys are unique within a document:
// D and Set keep them unique, and writes reject a literal that repeats a
// top-level key. A nil Document is an empty document.
type Document []Field

// D builds a document from alternating keys and values:
//
//	docstore.D("name", "Ada", "born", 1815)
//
// Values go through ValueOf. D panics on an odd number of arguments,
// a non-string key, or an unsupported value.
func D(pairs ...any) Document {
	if len(pairs)%2 != 0 {
		panic("docstore.D requires an even number of parameters")
	}

	d := make(Document, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("docstore.D: key at position %d is %T, not string", i, pairs[i]))
		}
		v, err := ValueOf(pairs[i+1])
		if err != nil {
			panic(fmt.Sprintf("docstore.D: field %q: %v", key, err))
		}
		d.Set(key, v)
	}
	return d
}

// Len returns the number of fields.
func (d Document) Len() int { return len(d) }

// Keys returns the field names in order.
func (d Document) Keys() []string {
	keys := make([]string, len(d))
	for i, f := range d {
		keys[i] = f.Key
	}
	return keys
}

// Get returns the value of the named top-level field.
func (d Document) Get(key string) (Value, bool) {
	for _, f := range d {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Lookup follows a dotted path through embedded documents and arrays.
func (d Document) Lookup(path string) (Value, bool) {
	parts := strings.Split(path, ".")
	v, ok := d.Get(parts[0])
	for _, p := range parts[1:] {
		if !ok {
			return Value{}, false
		}
		switch v.Kind() {
		case KindDocument:
			v, ok = v.v.(Document).Get(p)
		case KindArray:
			idx, err := strconv.Atoi(p)
			if err != nil {
				return Value{}, false
			}
			arr := v.v.([]Value)
			if idx < 0 || idx >= len(arr) {
				return Value{}, false
			}
			v, ok = arr[idx], true
		default:
			return Value{}, false
		}
	}
	return v, ok
}

// Has reports whether the named top-level field exists.
func (d Document) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Set replaces the named field in place, or appends it.
func (d *Document) Set(key string, v Value) {
	for i := range *d {
		if (*d)[i].Key == key {
			(*d)[i].Value = v
			return
		}
	}
	*d = append(*d, Field{Key: key, Value: v})
}

// Delete removes the named field and reports whether it existed.
func (d *Document) Delete(key string) bool {
	for i := range *d {
		if (*d)[i].Key == key {
			*d = append((*d)[:i], (*d)[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a copy of d that shares no mutable state with it.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	copy(out, d)
	return out
}

// Equal reports whether both documents hold the same fields in the same order.
func (d Document) Equal(other Document) bool {
	if len(d) != len(other) {
		return false
	}
	for i := range d {
		if d[i].Key != other[i].Key || !d[i].Value.Equal(other[i].Value) {
			return false
		}
	}
	return true
}

// Without returns a copy of d lacking the given top-level keys.
func (d Document) Without(keys ...string) Document {
	out := make(Document, 0, len(d))
outer:
	for _, f := range d {
		for _, k := range keys {
			if f.Key == k {
				continue outer
			}
		}
		out = append(out, f)
	}
	return out
}

// String returns the relaxed extended JSON form of d.
func (d Document) String() string {
	b, err := bson.MarshalExtJSON(d.bsonD(), false, false)
	if err != nil {
		return fmt.Sprintf("<document: %v>", err)
	}
	return string(b)
}

// MarshalBSON implements bson.Marshaler.
func (d Document) MarshalBSON() ([]byte, error) {
	return bson.Marshal(d.bsonD())
}

// UnmarshalBSON implements bson.Unmarshaler.
func (d *Document) UnmarshalBSON(data []byte) error {
	doc, err := documentFromRaw(bson.Raw(data))
	if err != nil {
		return err
	}
	*d = doc
	return nil
}

// bsonD converts d to the driver's ordered document type. A nil Document
// becomes an empty one, so it can be used as a match-all filter.
func (d Document) bsonD() bson.D {
	out := make(bson.D, len(d))
	for i, f := range d {
		out[i] = bson.E{Key: f.Key, Value: f.Value.Interface()}
	}
	return out
}

// ensureID returns doc with an _id field, generating an ObjectID placed first
// when the field is missing, plus the id value.
func ensureID(doc Document) (Document, Value) {
	if id, ok := doc.Get("_id"); ok {
		return doc, id
	}
	id := ObjectIDValue(NewObjectID())
	out := make(Document, 0, len(doc)+1)
	out = append(out, Field{Key: "_id", Value: id})
	out = append(out, doc...)
	return out, id
}
