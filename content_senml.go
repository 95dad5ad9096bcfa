package lwm2m

import "strings"

// senMLCBORCodec is SenML-CBOR (RFC8428 + RFC8949, content format 112),
// the composite format used for Read-Composite, Write-Composite, Send,
// and multi-instance notifications. Each record is a CBOR map keyed by
// the SenML integer labels; only the subset LwM2M actually emits is
// handled: bn (-2, base name), n (0, name), v/vs/vb/vd (2/3/4/8, value
// variants), and the LwM2M Objlnk extension vlo (label 66). Time labels
// (bt, t) are neither emitted nor read.
type senMLCBORCodec struct{}

func (senMLCBORCodec) ContentFormat() int { return ContentFormatSenMLCBOR }

const (
	senmlLabelBaseName = -2
	senmlLabelBaseTime = -3
	senmlLabelName     = 0
	senmlLabelValue    = 2
	senmlLabelStringV  = 3
	senmlLabelBoolV    = 4
	senmlLabelTime     = 6
	senmlLabelDataV    = 8
	senmlLabelObjlnkV  = 66 // OMA TS LwM2M-Core, LwM2M-specific SenML extension
)

func (senMLCBORCodec) Encode(nodes []Node) ([]byte, error) {
	base := commonPathPrefix(nodes)
	var out []byte
	out = append(out, cborEncodeArrayHead(len(nodes))...)
	for i, n := range nodes {
		fields := 0
		if i == 0 && base != "" {
			fields++
		}
		name := strings.TrimPrefix(n.Path.String(), base)
		fields++ // n
		var valField int
		switch n.Value.Kind {
		case KindInt, KindUInt, KindFloat, KindTime:
			valField = senmlLabelValue
		case KindString:
			valField = senmlLabelStringV
		case KindBool:
			valField = senmlLabelBoolV
		case KindBytes:
			valField = senmlLabelDataV
		case KindObjlnk:
			valField = senmlLabelObjlnkV
		default:
			return nil, NewOpError(KindNotAcceptable, nil)
		}
		fields++

		out = append(out, cborEncodeMapHead(fields)...)
		if i == 0 && base != "" {
			out = append(out, cborEncodeInt(senmlLabelBaseName)...)
			out = append(out, cborEncodeText(base)...)
		}
		out = append(out, cborEncodeInt(senmlLabelName)...)
		out = append(out, cborEncodeText(name)...)
		out = append(out, cborEncodeInt(int64(valField))...)
		out = append(out, encodeSenmlValue(n.Value)...)
	}
	return out, nil
}

func encodeSenmlValue(v Value) []byte {
	switch v.Kind {
	case KindInt:
		return cborEncodeInt(v.Int)
	case KindUInt:
		return cborEncodeUint(v.UInt)
	case KindTime:
		return cborEncodeInt(v.Time)
	case KindFloat:
		return cborEncodeFloat64(v.Float)
	case KindString:
		return cborEncodeText(v.Str)
	case KindBool:
		return cborEncodeBool(v.Bool)
	case KindBytes:
		return cborEncodeBytes(v.Bytes)
	case KindObjlnk:
		return cborEncodeText(v.Link.String())
	default:
		return cborEncodeNull()
	}
}

// commonPathPrefix returns the longest ancestor path (as a string) shared
// by every node, used as the SenML Base Name; empty if there's no shared
// ancestor deeper than root.
func commonPathPrefix(nodes []Node) string {
	if len(nodes) < 2 {
		return ""
	}
	prefix := nodes[0].Path
	for _, n := range nodes[1:] {
		for prefix.Depth() > 0 && !prefix.IsPrefixOf(n.Path) {
			prefix = prefix.Parent()
		}
	}
	if prefix.IsRoot() {
		return ""
	}
	return prefix.String()
}

func (senMLCBORCodec) Decode(base Path, body []byte) ([]Node, error) {
	item, _, err := cborDecodeOne(body)
	if err != nil {
		return nil, err
	}
	if item.major != cborMajorArray {
		return nil, NewOpError(KindBadRequest, nil)
	}
	baseName := ""
	var nodes []Node
	for _, rec := range item.items {
		if rec.major != cborMajorMap {
			return nil, NewOpError(KindBadRequest, nil)
		}
		name := ""
		var val Value
		haveVal := false
		for _, p := range rec.pairs {
			label := p.key.asInt64()
			switch label {
			case senmlLabelBaseName:
				baseName = p.val.sval
			case senmlLabelName:
				name = p.val.sval
			case senmlLabelValue:
				if p.val.major == cborMajorSimple {
					val = FloatValue(p.val.fval)
				} else {
					val = IntValue(p.val.asInt64())
				}
				haveVal = true
			case senmlLabelStringV:
				val = StringValue(p.val.sval)
				haveVal = true
			case senmlLabelBoolV:
				val = BoolValue(p.val.bool_)
				haveVal = true
			case senmlLabelDataV:
				val = BytesValue(p.val.bval)
				haveVal = true
			case senmlLabelObjlnkV:
				val = StringValue(p.val.sval) // resolved to Objlnk by coerceWriteValue, which knows the target resource's declared type
				haveVal = true
			}
		}
		if !haveVal {
			return nil, NewOpError(KindBadRequest, nil)
		}
		full := baseName + name
		path, perr := parseSenmlPath(base, full)
		if perr != nil {
			return nil, perr
		}
		nodes = append(nodes, Node{Path: path, Value: val})
	}
	return nodes, nil
}

func parseSenmlPath(base Path, full string) (Path, error) {
	if full == "" {
		return base, nil
	}
	segs := strings.Split(strings.Trim(full, "/"), "/")
	return ParsePathSegments(segs)
}
