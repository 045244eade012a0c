// convert.go - Conversions between Go values, driver BSON and Value

package docstore

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ValueOf converts a Go value into a Value.
//
// Supported: nil, Value, bool, signed and unsigned integers, floats, string,
// []byte, time.Time, ObjectID, uuid.UUID, Document, the driver's primitive
// types (D, M, A, Binary, DateTime, Decimal128, Timestamp, Regex, JavaScript,
// CodeWithScope, DBPointer, MinKey, MaxKey, Undefined, Symbol), slices,
// maps with string keys (keys sorted), pointers, and structs (encoded with
// their bson tags). Symbols become strings; every other BSON type keeps its
// own Kind, undefined included.
func ValueOf(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return NullValue(), nil
	case Value:
		return v, nil
	case Document:
		return DocumentValue(v), nil
	case []Value:
		return ArrayValue(v...), nil
	case bool:
		return BoolValue(v), nil
	case int:
		if fitsInt32(int64(v)) {
			return Int32Value(int32(v)), nil
		}
		return Int64Value(int64(v)), nil
	case int8:
		return Int32Value(int32(v)), nil
	case int16:
		return Int32Value(int32(v)), nil
	case int32:
		return Int32Value(v), nil
	case int64:
		return Int64Value(v), nil
	case uint8:
		return Int32Value(int32(v)), nil
	case uint16:
		return Int32Value(int32(v)), nil
	case uint32:
		return Int64Value(int64(v)), nil
	case uint:
		return uintValue(uint64(v))
	case uint64:
		return uintValue(v)
	case float32:
		return DoubleValue(float64(v)), nil
	case float64:
		return DoubleValue(v), nil
	case string:
		return StringValue(v), nil
	case []byte:
		return BinaryValue(0, v), nil
	case time.Time:
		return DateTimeValue(v), nil
	case ObjectID:
		return ObjectIDValue(v), nil
	case uuid.UUID:
		return UUID(v), nil
	case primitive.Binary:
		return BinaryValue(v.Subtype, v.Data), nil
	case primitive.DateTime:
		return Value{kind: KindDateTime, v: v}, nil
	case primitive.Decimal128:
		return Decimal128Value(v), nil
	case primitive.Timestamp:
		return TimestampValue(v.T, v.I), nil
	case primitive.Regex:
		return RegexValue(v.Pattern, v.Options), nil
	case primitive.Null:
		return NullValue(), nil
	case primitive.Undefined:
		return UndefinedValue(), nil
	case primitive.MinKey:
		return MinKeyValue(), nil
	case primitive.MaxKey:
		return MaxKeyValue(), nil
	case primitive.JavaScript:
		return JavaScriptValue(string(v)), nil
	case primitive.Symbol:
		return StringValue(string(v)), nil
	case primitive.DBPointer:
		return DBPointerValue(v.DB, v.Pointer), nil
	case primitive.CodeWithScope:
		scope, err := ToDocument(v.Scope)
		if err != nil {
			return Value{}, fmt.Errorf("code scope: %w", err)
		}
		return Value{kind: KindCodeWithScope, v: codeWithScope{code: string(v.Code), scope: scope}}, nil
	case bson.D:
		d := make(Document, 0, len(v))
		for _, e := range v {
			ev, err := ValueOf(e.Value)
			if err != nil {
				return Value{}, fmt.Errorf("field %q: %w", e.Key, err)
			}
			d = append(d, Field{Key: e.Key, Value: ev})
		}
		return Value{kind: KindDocument, v: d}, nil
	case bson.Raw:
		d, err := documentFromRaw(v)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindDocument, v: d}, nil
	}

	return reflectValueOf(reflect.ValueOf(x))
}

func uintValue(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Value{}, fmt.Errorf("unsigned integer %d overflows int64", u)
	}
	return Int64Value(int64(u)), nil
}

// reflectValueOf handles the kinds ValueOf can't switch on directly.
func reflectValueOf(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return NullValue(), nil
		}
		return ValueOf(rv.Elem().Interface())

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return NullValue(), nil
		}
		vals := make([]Value, rv.Len())
		for i := range vals {
			v, err := ValueOf(rv.Index(i).Interface())
			if err != nil {
				return Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			vals[i] = v
		}
		return Value{kind: KindArray, v: vals}, nil

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		if rv.IsNil() {
			return NullValue(), nil
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		d := make(Document, 0, len(keys))
		for _, k := range keys {
			v, err := ValueOf(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
			if err != nil {
				return Value{}, fmt.Errorf("field %q: %w", k, err)
			}
			d = append(d, Field{Key: k, Value: v})
		}
		return Value{kind: KindDocument, v: d}, nil

	case reflect.Struct:
		d, err := documentFromStruct(rv.Interface())
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindDocument, v: d}, nil

	case reflect.String:
		return StringValue(rv.String()), nil
	case reflect.Bool:
		return BoolValue(rv.Bool()), nil
	case reflect.Int64:
		return Int64Value(rv.Int()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		if i := rv.Int(); fitsInt32(i) {
			return Int32Value(int32(i)), nil
		}
		return Int64Value(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return uintValue(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return DoubleValue(rv.Float()), nil
	}

	return Value{}, fmt.Errorf("unsupported type %s", rv.Type())
}

// documentFromStruct encodes a struct (or anything the driver can encode as a
// document) using its bson tags.
func documentFromStruct(x any) (Document, error) {
	data, err := bson.Marshal(x)
	if err != nil {
		return nil, err
	}
	return documentFromRaw(data)
}

// documentFromRaw decodes a BSON document. Strings and binary data are copied,
// so the result doesn't alias raw.
func documentFromRaw(raw bson.Raw) (Document, error) {
	elems, err := raw.Elements()
	if err != nil {
		return nil, err
	}

	d := make(Document, 0, len(elems))
	for _, e := range elems {
		key := e.Key()
		v, err := valueFromRaw(e.Value())
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		d = append(d, Field{Key: key, Value: v})
	}
	return d, nil
}

func valueFromRaw(rv bson.RawValue) (Value, error) {
	switch rv.Type {
	case bson.TypeNull:
		return NullValue(), nil
	case bson.TypeUndefined:
		return UndefinedValue(), nil
	case bson.TypeMinKey:
		return MinKeyValue(), nil
	case bson.TypeMaxKey:
		return MaxKeyValue(), nil
	case bson.TypeJavaScript:
		return JavaScriptValue(rv.JavaScript()), nil
	case bson.TypeCodeWithScope:
		code, raw := rv.CodeWithScope()
		scope, err := documentFromRaw(raw)
		if err != nil {
			return Value{}, fmt.Errorf("code scope: %w", err)
		}
		return Value{kind: KindCodeWithScope, v: codeWithScope{code: code, scope: scope}}, nil
	case bson.TypeDBPointer:
		ns, id := rv.DBPointer()
		return DBPointerValue(ns, id), nil
	case bson.TypeBoolean:
		return BoolValue(rv.Boolean()), nil
	case bson.TypeInt32:
		return Int32Value(rv.Int32()), nil
	case bson.TypeInt64:
		return Int64Value(rv.Int64()), nil
	case bson.TypeDouble:
		return DoubleValue(rv.Double()), nil
	case bson.TypeString:
		return StringValue(rv.StringValue()), nil
	case bson.TypeSymbol:
		return StringValue(rv.Symbol()), nil
	case bson.TypeBinary:
		subtype, data := rv.Binary()
		return Value{kind: KindBinary, v: primitive.Binary{Subtype: subtype, Data: bytes.Clone(data)}}, nil
	case bson.TypeObjectID:
		return ObjectIDValue(rv.ObjectID()), nil
	case bson.TypeDateTime:
		return Value{kind: KindDateTime, v: primitive.DateTime(rv.DateTime())}, nil
	case bson.TypeDecimal128:
		return Decimal128Value(rv.Decimal128()), nil
	case bson.TypeTimestamp:
		t, i := rv.Timestamp()
		return TimestampValue(t, i), nil
	case bson.TypeRegex:
		pattern, options := rv.Regex()
		return RegexValue(pattern, options), nil
	case bson.TypeEmbeddedDocument:
		d, err := documentFromRaw(rv.Document())
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindDocument, v: d}, nil
	case bson.TypeArray:
		raws, err := rv.Array().Values()
		if err != nil {
			return Value{}, err
		}
		vals := make([]Value, len(raws))
		for i, r := range raws {
			if vals[i], err = valueFromRaw(r); err != nil {
				return Value{}, fmt.Errorf("element %d: %w", i, err)
			}
		}
		return Value{kind: KindArray, v: vals}, nil
	}

	return Value{}, fmt.Errorf("unsupported BSON type %s", rv.Type)
}

// ToDocument converts anything ValueOf accepts, such as a struct, a bson.M or a
// bson.D, into a Document. nil converts to a nil Document.
func ToDocument(x any) (Document, error) {
	if d, ok := x.(Document); ok {
		return d, nil
	}
	v, err := ValueOf(x)
	if err != nil {
		return nil, err
	}
	if v.IsNull() {
		return nil, nil
	}
	d, ok := v.v.(Document)
	if !ok || v.kind != KindDocument {
		return nil, fmt.Errorf("%T is not a document", x)
	}
	return d, nil
}

// pipelineBSON converts aggregation stages for the driver.
func pipelineBSON(stages []Document) bson.A {
	out := make(bson.A, len(stages))
	for i, s := range stages {
		out[i] = s.bsonD()
	}
	return out
}

// decodeDocument unmarshals d into v, a pointer to a struct with bson tags or a map.
func decodeDocument(d Document, v any) error {
	data, err := bson.Marshal(d)
	if err != nil {
		return err
	}
	return bson.Unmarshal(data, v)
}

// Decode unmarshals d into v, typically a pointer to a struct with bson tags.
func (d Document) Decode(v any) error {
	return decodeDocument(d, v)
}
