package lwm2m

// lwm2mCBORCodec is LwM2M-CBOR (OMA TS LwM2M-Core Appendix, content
// format 11544): a single CBOR map nested by path segment (OID -> IID ->
// RID -> RIID -> value), generalizing the legacy TLV codec's nested
// Object/Instance/Resource framing to CBOR map keys instead of TLV
// type/id/length triples.
type lwm2mCBORCodec struct{}

func (lwm2mCBORCodec) ContentFormat() int { return ContentFormatLwm2mCBOR }

// cborTree is an intermediate nested-map form keyed by path segment id,
// with leaves holding a Value.
type cborTree struct {
	children map[uint16]*cborTree
	leaf     *Value
}

func newCborTree() *cborTree { return &cborTree{children: map[uint16]*cborTree{}} }

func (t *cborTree) insert(ids []uint16, v Value) {
	if len(ids) == 0 {
		t.leaf = &v
		return
	}
	child, ok := t.children[ids[0]]
	if !ok {
		child = newCborTree()
		t.children[ids[0]] = child
	}
	child.insert(ids[1:], v)
}

func (lwm2mCBORCodec) Encode(nodes []Node) ([]byte, error) {
	root := newCborTree()
	for _, n := range nodes {
		ids := pathIDs(n.Path)
		root.insert(ids, n.Value)
	}
	return encodeCborTree(root), nil
}

func pathIDs(p Path) []uint16 {
	ids := make([]uint16, 0, p.Depth())
	if p.Depth() >= 1 {
		ids = append(ids, p.OID())
	}
	if p.Depth() >= 2 {
		ids = append(ids, p.IID())
	}
	if p.Depth() >= 3 {
		ids = append(ids, p.RID())
	}
	if p.Depth() >= 4 {
		ids = append(ids, p.RIID())
	}
	return ids
}

func encodeCborTree(t *cborTree) []byte {
	if t.leaf != nil {
		return encodeSenmlValue(*t.leaf)
	}
	keys := make([]uint16, 0, len(t.children))
	for k := range t.children {
		keys = append(keys, k)
	}
	sortUint16s(keys)

	out := cborEncodeMapHead(len(keys))
	for _, k := range keys {
		out = append(out, cborEncodeUint(uint64(k))...)
		out = append(out, encodeCborTree(t.children[k])...)
	}
	return out
}

func sortUint16s(ids []uint16) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

func (lwm2mCBORCodec) Decode(base Path, body []byte) ([]Node, error) {
	item, _, err := cborDecodeOne(body)
	if err != nil {
		return nil, err
	}
	if item.major != cborMajorMap {
		return nil, NewOpError(KindBadRequest, nil)
	}
	var nodes []Node
	if err := walkCborMap(item, base, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

func walkCborMap(item cborItem, prefix Path, out *[]Node) error {
	for _, p := range item.pairs {
		if p.key.major != cborMajorUint {
			return NewOpError(KindBadRequest, nil)
		}
		if p.key.uval > 65534 {
			return NewOpError(KindBadRequest, nil)
		}
		child := prefix.Child(uint16(p.key.uval))
		if p.val.major == cborMajorMap {
			if err := walkCborMap(p.val, child, out); err != nil {
				return err
			}
			continue
		}
		*out = append(*out, Node{Path: child, Value: cborItemToValue(p.val)})
	}
	return nil
}

func cborItemToValue(it cborItem) Value {
	switch it.major {
	case cborMajorUint, cborMajorNegInt:
		return IntValue(it.asInt64())
	case cborMajorText:
		return StringValue(it.sval)
	case cborMajorBytes:
		return BytesValue(it.bval)
	case cborMajorSimple:
		return FloatValue(it.fval)
	default:
		return NullValue()
	}
}
