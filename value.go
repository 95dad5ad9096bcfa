package lwm2m

import "fmt"

// ValueKind tags which field of Value is populated.
type ValueKind byte

const (
	KindNull ValueKind = iota
	KindBytes
	KindString
	KindInt
	KindUInt
	KindFloat
	KindBool
	KindObjlnk
	KindTime
	KindExternal
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindBytes:
		return "Bytes"
	case KindString:
		return "String"
	case KindInt:
		return "Int"
	case KindUInt:
		return "UInt"
	case KindFloat:
		return "Float"
	case KindBool:
		return "Bool"
	case KindObjlnk:
		return "Objlnk"
	case KindTime:
		return "Time"
	case KindExternal:
		return "External"
	default:
		return "Unknown"
	}
}

// Objlnk is an Object-Link value: a reference to an Object Instance (or
// 65535/65535 for "no target").
type Objlnk struct {
	ObjectID   uint16
	InstanceID uint16
}

func (o Objlnk) String() string { return fmt.Sprintf("%d:%d", o.ObjectID, o.InstanceID) }

// Value is the typed union every Resource and Resource Instance reads and
// writes through. Only the field matching Kind is meaningful.
type Value struct {
	Kind ValueKind

	Bytes    []byte
	Str      string
	Int      int64
	UInt     uint64
	Float    float64
	Bool     bool
	Link     Objlnk
	Time     int64 // seconds since epoch, per LwM2M Time resource type
	External string // opaque URI for the External (blob-reference) type
}

func NullValue() Value           { return Value{Kind: KindNull} }
func BytesValue(b []byte) Value  { return Value{Kind: KindBytes, Bytes: b} }
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func IntValue(v int64) Value     { return Value{Kind: KindInt, Int: v} }
func UIntValue(v uint64) Value   { return Value{Kind: KindUInt, UInt: v} }
func FloatValue(v float64) Value { return Value{Kind: KindFloat, Float: v} }
func BoolValue(v bool) Value     { return Value{Kind: KindBool, Bool: v} }
func ObjlnkValue(v Objlnk) Value { return Value{Kind: KindObjlnk, Link: v} }
func TimeValue(v int64) Value    { return Value{Kind: KindTime, Time: v} }
func ExternalValue(uri string) Value {
	return Value{Kind: KindExternal, External: uri}
}

// String renders a human-readable form for logging; not a codec.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "<null>"
	case KindBytes:
		return fmt.Sprintf("bytes[%d]", len(v.Bytes))
	case KindString:
		return v.Str
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindUInt:
		return fmt.Sprintf("%d", v.UInt)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindObjlnk:
		return v.Link.String()
	case KindTime:
		return fmt.Sprintf("time:%d", v.Time)
	case KindExternal:
		return v.External
	default:
		return "<unknown>"
	}
}
