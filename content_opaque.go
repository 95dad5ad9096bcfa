package lwm2m

// opaqueCodec is the Opaque content format (RFC7252 12.3, id 42): the raw
// bytes of a single Resource, uninterpreted.
type opaqueCodec struct{}

func (opaqueCodec) ContentFormat() int { return ContentFormatOpaque }

func (opaqueCodec) Encode(nodes []Node) ([]byte, error) {
	if len(nodes) != 1 || nodes[0].Value.Kind != KindBytes {
		return nil, NewOpError(KindNotAcceptable, nil)
	}
	return nodes[0].Value.Bytes, nil
}

func (opaqueCodec) Decode(base Path, body []byte) ([]Node, error) {
	if !base.IsResource() {
		return nil, NewOpError(KindBadRequest, nil)
	}
	return []Node{{Path: base, Value: BytesValue(append([]byte(nil), body...))}}, nil
}
