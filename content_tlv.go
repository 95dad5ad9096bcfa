package lwm2m

import (
	"encoding/binary"
	"math"
)

// tlvCodec is the legacy LwM2M-TLV format (OMA-TS-LightweightM2M-V1_0_2
// §6.4.3, content format 11542). Accept-only: a client built against
// this core never emits TLV, only decodes it from older servers, per the
// format's deprecation in LwM2M 1.1+.
type tlvCodec struct{}

func (tlvCodec) ContentFormat() int { return ContentFormatLwm2mTLV }

const (
	tlvTypeObjectInstance  byte = 0
	tlvTypeResourceInst    byte = 1
	tlvTypeMultipleRes     byte = 2
	tlvTypeResource        byte = 3
)

type tlvEntry struct {
	typeOfID byte
	id       uint16
	value    []byte
	children []tlvEntry
}

func (tlvCodec) Encode(nodes []Node) ([]byte, error) {
	return nil, NewOpError(KindNotAcceptable, nil) // accept-only format
}

func (tlvCodec) Decode(base Path, body []byte) ([]Node, error) {
	entries, err := parseTLVEntries(body)
	if err != nil {
		return nil, err
	}
	var nodes []Node
	for _, e := range entries {
		flattenTLV(base, e, &nodes)
	}
	return nodes, nil
}

func flattenTLV(base Path, e tlvEntry, out *[]Node) {
	switch e.typeOfID {
	case tlvTypeObjectInstance:
		child := base.Child(e.id)
		for _, c := range e.children {
			flattenTLV(child, c, out)
		}
	case tlvTypeMultipleRes:
		child := base.Child(e.id)
		for _, c := range e.children {
			flattenTLV(child, c, out)
		}
	case tlvTypeResource, tlvTypeResourceInst:
		*out = append(*out, Node{Path: base.Child(e.id), Value: BytesValue(e.value)})
	}
}

func parseTLVEntries(raw []byte) ([]tlvEntry, error) {
	var entries []tlvEntry
	pos := 0
	for pos < len(raw) {
		e, n, err := parseOneTLV(raw[pos:])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		pos += n
	}
	return entries, nil
}

func parseOneTLV(raw []byte) (tlvEntry, int, error) {
	if len(raw) < 1 {
		return tlvEntry{}, 0, NewOpError(KindBadRequest, nil)
	}
	typeOfID := (raw[0] >> 6) & 0x03
	pos := 1

	var id uint16
	if (raw[0]>>5)&0x01 == 0 {
		if len(raw) < pos+1 {
			return tlvEntry{}, 0, NewOpError(KindBadRequest, nil)
		}
		id = uint16(raw[pos])
		pos++
	} else {
		if len(raw) < pos+2 {
			return tlvEntry{}, 0, NewOpError(KindBadRequest, nil)
		}
		id = binary.BigEndian.Uint16(raw[pos : pos+2])
		pos += 2
	}

	lengthType := (raw[0] >> 3) & 0x03
	var length uint32
	switch lengthType {
	case 0:
		length = uint32(raw[0] & 0x07)
	case 1:
		if len(raw) < pos+1 {
			return tlvEntry{}, 0, NewOpError(KindBadRequest, nil)
		}
		length = uint32(raw[pos])
		pos++
	case 2:
		if len(raw) < pos+2 {
			return tlvEntry{}, 0, NewOpError(KindBadRequest, nil)
		}
		length = uint32(binary.BigEndian.Uint16(raw[pos : pos+2]))
		pos += 2
	case 3:
		if len(raw) < pos+3 {
			return tlvEntry{}, 0, NewOpError(KindBadRequest, nil)
		}
		length = binary.BigEndian.Uint32(append([]byte{0}, raw[pos:pos+3]...))
		pos += 3
	}

	if len(raw) < pos+int(length) {
		return tlvEntry{}, 0, NewOpError(KindBadRequest, nil)
	}
	value := append([]byte(nil), raw[pos:pos+int(length)]...)
	pos += int(length)

	e := tlvEntry{typeOfID: typeOfID, id: id, value: value}
	if typeOfID == tlvTypeObjectInstance || typeOfID == tlvTypeMultipleRes {
		children, err := parseTLVEntries(value)
		if err != nil {
			return tlvEntry{}, 0, err
		}
		e.children = children
	}
	return e, pos, nil
}

// TLVValueAs coerces a raw TLV leaf value (decoded generically as Bytes)
// into the Value kind the addressed Resource actually declares, mirroring
// the legacy codec's type-directed byte-width parsing.
func TLVValueAs(raw []byte, kind ValueKind) Value {
	switch kind {
	case KindInt, KindTime:
		var n int64
		switch len(raw) {
		case 1:
			n = int64(int8(raw[0]))
		case 2:
			n = int64(int16(binary.BigEndian.Uint16(raw)))
		case 4:
			n = int64(int32(binary.BigEndian.Uint32(raw)))
		case 8:
			n = int64(binary.BigEndian.Uint64(raw))
		}
		if kind == KindTime {
			return TimeValue(n)
		}
		return IntValue(n)
	case KindFloat:
		switch len(raw) {
		case 4:
			return FloatValue(float64(math.Float32frombits(binary.BigEndian.Uint32(raw))))
		case 8:
			return FloatValue(math.Float64frombits(binary.BigEndian.Uint64(raw)))
		}
		return FloatValue(0)
	case KindBool:
		return BoolValue(len(raw) > 0 && raw[0] == 1)
	case KindObjlnk:
		if len(raw) < 4 {
			return ObjlnkValue(Objlnk{})
		}
		return ObjlnkValue(Objlnk{
			ObjectID:   binary.BigEndian.Uint16(raw[0:2]),
			InstanceID: binary.BigEndian.Uint16(raw[2:4]),
		})
	case KindString:
		return StringValue(string(raw))
	default:
		return BytesValue(raw)
	}
}
