package lwm2m

import "strconv"

// plainTextCodec is the Plain Text content format (RFC7252 12.3, id 0):
// a single Resource's value rendered as its natural string form. Only
// valid for a single-value Read/Write, never for a composite operation.
type plainTextCodec struct{}

func (plainTextCodec) ContentFormat() int { return ContentFormatText }

func (plainTextCodec) Encode(nodes []Node) ([]byte, error) {
	if len(nodes) != 1 {
		return nil, NewOpError(KindNotAcceptable, nil)
	}
	v := nodes[0].Value
	switch v.Kind {
	case KindString:
		return []byte(v.Str), nil
	case KindInt:
		return []byte(strconv.FormatInt(v.Int, 10)), nil
	case KindUInt:
		return []byte(strconv.FormatUint(v.UInt, 10)), nil
	case KindFloat:
		return []byte(strconv.FormatFloat(v.Float, 'g', -1, 64)), nil
	case KindBool:
		if v.Bool {
			return []byte("1"), nil
		}
		return []byte("0"), nil
	case KindTime:
		return []byte(strconv.FormatInt(v.Time, 10)), nil
	case KindObjlnk:
		return []byte(v.Link.String()), nil
	default:
		return nil, NewOpError(KindNotAcceptable, nil)
	}
}

func (plainTextCodec) Decode(base Path, body []byte) ([]Node, error) {
	if !base.IsResource() {
		return nil, NewOpError(KindBadRequest, nil)
	}
	return []Node{{Path: base, Value: StringValue(string(body))}}, nil
}
