// value.go - Tagged value union for document fields

package docstore

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ObjectID is the 12-byte document identifier.
type ObjectID = primitive.ObjectID

// NewObjectID generates a new ObjectID.
func NewObjectID() ObjectID {
	return primitive.NewObjectID()
}

// Kind identifies the type held by a Value.
type Kind int

// Value kinds. The zero Value is Null.
const (
	KindNull Kind = iota
	KindBool
	KindInt32
	KindInt64
	KindDouble
	KindString
	KindBinary
	KindArray
	KindDocument
	KindDateTime
	KindObjectID
	KindDecimal128
	KindTimestamp
	KindRegex
	KindJavaScript
	KindCodeWithScope
	KindDBPointer
	KindMinKey
	KindMaxKey
	KindUndefined
)

var kindNames = [...]string{
	KindNull:          "null",
	KindBool:          "bool",
	KindInt32:         "int32",
	KindInt64:         "int64",
	KindDouble:        "double",
	KindString:        "string",
	KindBinary:        "binary",
	KindArray:         "array",
	KindDocument:      "document",
	KindDateTime:      "datetime",
	KindObjectID:      "objectId",
	KindDecimal128:    "decimal128",
	KindTimestamp:     "timestamp",
	KindRegex:         "regex",
	KindJavaScript:    "javascript",
	KindCodeWithScope: "codeWithScope",
	KindDBPointer:     "dbPointer",
	KindMinKey:        "minKey",
	KindMaxKey:        "maxKey",
	KindUndefined:     "undefined",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Value is a dynamically typed document field value.
// Values are immutable once built; construct them with the *Value functions or ValueOf.
type Value struct {
	kind Kind
	v    any
}

// NullValue returns the null value.
func NullValue() Value { return Value{} }

// BoolValue wraps a boolean.
func BoolValue(b bool) Value { return Value{kind: KindBool, v: b} }

// Int32Value wraps a 32-bit integer.
func Int32Value(i int32) Value { return Value{kind: KindInt32, v: i} }

// Int64Value wraps a 64-bit integer.
func Int64Value(i int64) Value { return Value{kind: KindInt64, v: i} }

// DoubleValue wraps a float.
func DoubleValue(f float64) Value { return Value{kind: KindDouble, v: f} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: KindString, v: s} }

// BinaryValue wraps binary data with the given subtype. The data is copied.
func BinaryValue(subtype byte, data []byte) Value {
	return Value{kind: KindBinary, v: primitive.Binary{Subtype: subtype, Data: bytes.Clone(data)}}
}

// UUID wraps a UUID as binary subtype 4.
func UUID(id uuid.UUID) Value {
	return BinaryValue(bsontype.BinaryUUID, id[:])
}

// ArrayValue wraps a list of values.
func ArrayValue(vals ...Value) Value {
	arr := make([]Value, len(vals))
	copy(arr, vals)
	return Value{kind: KindArray, v: arr}
}

// DocumentValue wraps an embedded document.
func DocumentValue(d Document) Value {
	return Value{kind: KindDocument, v: d.Clone()}
}

// DateTimeValue wraps a point in time with millisecond precision.
func DateTimeValue(t time.Time) Value {
	return Value{kind: KindDateTime, v: primitive.NewDateTimeFromTime(t)}
}

// ObjectIDValue wraps an ObjectID.
func ObjectIDValue(id ObjectID) Value { return Value{kind: KindObjectID, v: id} }

// Decimal128Value wraps a decimal.
func Decimal128Value(d primitive.Decimal128) Value { return Value{kind: KindDecimal128, v: d} }

// TimestampValue wraps an internal replication timestamp.
func TimestampValue(t, i uint32) Value {
	return Value{kind: KindTimestamp, v: primitive.Timestamp{T: t, I: i}}
}

// RegexValue wraps a regular expression.
func RegexValue(pattern, options string) Value {
	return Value{kind: KindRegex, v: primitive.Regex{Pattern: pattern, Options: options}}
}

// JavaScriptValue returns a JavaScript code value.
func JavaScriptValue(code string) Value { return Value{kind: KindJavaScript, v: code} }

// codeWithScope holds the scope as a Document so values stay comparable.
type codeWithScope struct {
	code  string
	scope Document
}

// CodeWithScopeValue returns a JavaScript code value with its scope document.
func CodeWithScopeValue(code string, scope Document) Value {
	return Value{kind: KindCodeWithScope, v: codeWithScope{code: code, scope: scope.Clone()}}
}

// DBPointerValue returns a deprecated DBPointer value.
func DBPointerValue(ns string, id ObjectID) Value {
	return Value{kind: KindDBPointer, v: primitive.DBPointer{DB: ns, Pointer: id}}
}

// MinKeyValue returns the value that sorts before every other value.
func MinKeyValue() Value { return Value{kind: KindMinKey, v: primitive.MinKey{}} }

// MaxKeyValue returns the value that sorts after every other value.
func MaxKeyValue() Value { return Value{kind: KindMaxKey, v: primitive.MaxKey{}} }

// UndefinedValue returns the deprecated undefined value. It is kept distinct
// from null so documents read from the server round-trip unchanged.
func UndefinedValue() Value { return Value{kind: KindUndefined, v: primitive.Undefined{}} }

// Kind returns the kind of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) {
	b, ok := v.v.(bool)
	return b, ok && v.kind == KindBool
}

// AsInt32 returns the int32 held by v.
func (v Value) AsInt32() (int32, bool) {
	i, ok := v.v.(int32)
	return i, ok && v.kind == KindInt32
}

// AsInt64 returns the int64 held by v.
func (v Value) AsInt64() (int64, bool) {
	i, ok := v.v.(int64)
	return i, ok && v.kind == KindInt64
}

// AsDouble returns the float held by v.
func (v Value) AsDouble() (float64, bool) {
	f, ok := v.v.(float64)
	return f, ok && v.kind == KindDouble
}

// AsNumber returns any numeric kind as float64.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindInt32:
		return float64(v.v.(int32)), true
	case KindInt64:
		return float64(v.v.(int64)), true
	case KindDouble:
		return v.v.(float64), true
	}
	return 0, false
}

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) {
	s, ok := v.v.(string)
	return s, ok && v.kind == KindString
}

// AsBinary returns the subtype and a copy of the data held by v.
func (v Value) AsBinary() (byte, []byte, bool) {
	b, ok := v.v.(primitive.Binary)
	if !ok || v.kind != KindBinary {
		return 0, nil, false
	}
	return b.Subtype, bytes.Clone(b.Data), true
}

// AsUUID returns the UUID held by a binary subtype 4 value.
func (v Value) AsUUID() (uuid.UUID, bool) {
	subtype, data, ok := v.AsBinary()
	if !ok || subtype != bsontype.BinaryUUID {
		return uuid.Nil, false
	}
	id, err := uuid.FromBytes(data)
	return id, err == nil
}

// AsArray returns a copy of the elements held by v.
func (v Value) AsArray() ([]Value, bool) {
	arr, ok := v.v.([]Value)
	if !ok || v.kind != KindArray {
		return nil, false
	}
	out := make([]Value, len(arr))
	copy(out, arr)
	return out, true
}

// AsDocument returns a copy of the embedded document held by v.
func (v Value) AsDocument() (Document, bool) {
	d, ok := v.v.(Document)
	if !ok || v.kind != KindDocument {
		return nil, false
	}
	return d.Clone(), true
}

// AsDateTime returns the time held by v in UTC.
func (v Value) AsDateTime() (time.Time, bool) {
	dt, ok := v.v.(primitive.DateTime)
	if !ok || v.kind != KindDateTime {
		return time.Time{}, false
	}
	return dt.Time().UTC(), true
}

// AsObjectID returns the ObjectID held by v.
func (v Value) AsObjectID() (ObjectID, bool) {
	id, ok := v.v.(ObjectID)
	return id, ok && v.kind == KindObjectID
}

// AsDecimal128 returns the decimal held by v.
func (v Value) AsDecimal128() (primitive.Decimal128, bool) {
	d, ok := v.v.(primitive.Decimal128)
	return d, ok && v.kind == KindDecimal128
}

// AsTimestamp returns the timestamp held by v.
func (v Value) AsTimestamp() (primitive.Timestamp, bool) {
	ts, ok := v.v.(primitive.Timestamp)
	return ts, ok && v.kind == KindTimestamp
}

// AsRegex returns the pattern and options held by v.
func (v Value) AsRegex() (string, string, bool) {
	re, ok := v.v.(primitive.Regex)
	return re.Pattern, re.Options, ok && v.kind == KindRegex
}

// AsJavaScript returns the code of a JavaScript or code-with-scope value.
func (v Value) AsJavaScript() (string, bool) {
	switch c := v.v.(type) {
	case string:
		return c, v.kind == KindJavaScript
	case codeWithScope:
		return c.code, v.kind == KindCodeWithScope
	}
	return "", false
}

// AsCodeWithScope returns the code and a copy of the scope of a code-with-scope value.
func (v Value) AsCodeWithScope() (string, Document, bool) {
	c, ok := v.v.(codeWithScope)
	if !ok || v.kind != KindCodeWithScope {
		return "", nil, false
	}
	return c.code, c.scope.Clone(), true
}

// AsDBPointer returns the namespace and id of a DBPointer value.
func (v Value) AsDBPointer() (string, ObjectID, bool) {
	p, ok := v.v.(primitive.DBPointer)
	return p.DB, p.Pointer, ok && v.kind == KindDBPointer
}

// Equal reports whether v and other have the same kind and payload.
// Doubles compare with ==, so NaN never equals itself.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}

	switch v.kind {
	case KindNull:
		return true
	case KindBinary:
		a, b := v.v.(primitive.Binary), other.v.(primitive.Binary)
		return a.Subtype == b.Subtype && bytes.Equal(a.Data, b.Data)
	case KindArray:
		a, b := v.v.([]Value), other.v.([]Value)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].Equal(b[i]) {
				return false
			}
		}
		return true
	case KindDocument:
		return v.v.(Document).Equal(other.v.(Document))
	case KindCodeWithScope:
		a, b := v.v.(codeWithScope), other.v.(codeWithScope)
		return a.code == b.code && a.scope.Equal(b.scope)
	default:
		return v.v == other.v
	}
}

// Interface returns the driver-native representation of v.
func (v Value) Interface() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindArray:
		arr := v.v.([]Value)
		out := make(bson.A, len(arr))
		for i, e := range arr {
			out[i] = e.Interface()
		}
		return out
	case KindDocument:
		return v.v.(Document).bsonD()
	case KindJavaScript:
		return primitive.JavaScript(v.v.(string))
	case KindCodeWithScope:
		c := v.v.(codeWithScope)
		return primitive.CodeWithScope{Code: primitive.JavaScript(c.code), Scope: c.scope.bsonD()}
	default:
		return v.v
	}
}

// String returns the extended JSON form of v.
func (v Value) String() string {
	b, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: v.Interface()}}, false, false)
	if err != nil {
		return fmt.Sprintf("<%s: %v>", v.kind, err)
	}
	// strip the {"v": ...} wrapper
	s := string(b)
	return s[len(`{"v":`) : len(s)-1]
}

// MarshalBSONValue implements bson.ValueMarshaler.
func (v Value) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.MarshalValue(v.Interface())
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (v *Value) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	val, err := valueFromRaw(bson.RawValue{Type: t, Value: data})
	if err != nil {
		return err
	}
	*v = val
	return nil
}

func fitsInt32(i int64) bool {
	return i >= math.MinInt32 && i <= math.MaxInt32
}
