package lwm2m

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupCodecKnownAndUnknownFormats(t *testing.T) {
	for _, f := range []int{ContentFormatText, ContentFormatOpaque, ContentFormatSenMLCBOR, ContentFormatLwm2mCBOR, ContentFormatLinkFormat, ContentFormatLwm2mTLV} {
		_, ok := LookupCodec(f)
		assert.True(t, ok, "format %d should be registered", f)
	}
	_, ok := LookupCodec(9999)
	assert.False(t, ok)
}

func TestPlainTextRoundTrip(t *testing.T) {
	c, _ := LookupCodec(ContentFormatText)

	body, err := c.Encode([]Node{{Path: ResourcePath(3303, 0, 5700), Value: FloatValue(21.5)}})
	require.NoError(t, err)
	assert.Equal(t, "21.5", string(body))

	nodes, err := c.Decode(ResourcePath(3303, 0, 5700), []byte("hello"))
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "hello", nodes[0].Value.Str)
}

func TestPlainTextEncodeRejectsMultipleNodes(t *testing.T) {
	c, _ := LookupCodec(ContentFormatText)
	_, err := c.Encode([]Node{
		{Path: ResourcePath(3303, 0, 5700), Value: FloatValue(1)},
		{Path: ResourcePath(3303, 0, 5701), Value: FloatValue(2)},
	})
	require.Error(t, err)
	assert.Equal(t, KindNotAcceptable, AsOpError(err).Kind)
}

func TestPlainTextDecodeRejectsNonResourceBase(t *testing.T) {
	c, _ := LookupCodec(ContentFormatText)
	_, err := c.Decode(InstancePath(3303, 0), []byte("x"))
	require.Error(t, err)
	assert.Equal(t, KindBadRequest, AsOpError(err).Kind)
}

func TestOpaqueRoundTrip(t *testing.T) {
	c, _ := LookupCodec(ContentFormatOpaque)
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	body, err := c.Encode([]Node{{Path: ResourcePath(3, 0, 1), Value: BytesValue(raw)}})
	require.NoError(t, err)
	assert.Equal(t, raw, body)

	nodes, err := c.Decode(ResourcePath(3, 0, 1), raw)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, raw, nodes[0].Value.Bytes)
}

func TestOpaqueEncodeRejectsWrongKind(t *testing.T) {
	c, _ := LookupCodec(ContentFormatOpaque)
	_, err := c.Encode([]Node{{Path: ResourcePath(3, 0, 1), Value: StringValue("nope")}})
	require.Error(t, err)
	assert.Equal(t, KindNotAcceptable, AsOpError(err).Kind)
}

func TestSenMLCBORRoundTripSingleValue(t *testing.T) {
	c, _ := LookupCodec(ContentFormatSenMLCBOR)
	nodes := []Node{{Path: ResourcePath(3303, 0, 5700), Value: FloatValue(21.5)}}

	body, err := c.Encode(nodes)
	require.NoError(t, err)

	decoded, err := c.Decode(RootPath(), body)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, ResourcePath(3303, 0, 5700), decoded[0].Path)
	assert.Equal(t, 21.5, decoded[0].Value.Float)
}

func TestSenMLCBORRoundTripMultiValueWithBaseName(t *testing.T) {
	c, _ := LookupCodec(ContentFormatSenMLCBOR)
	nodes := []Node{
		{Path: ResourcePath(3303, 0, 5700), Value: FloatValue(21.5)},
		{Path: ResourcePath(3303, 0, 5701), Value: StringValue("Cel")},
	}

	body, err := c.Encode(nodes)
	require.NoError(t, err)

	decoded, err := c.Decode(RootPath(), body)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, ResourcePath(3303, 0, 5700), decoded[0].Path)
	assert.Equal(t, 21.5, decoded[0].Value.Float)
	assert.Equal(t, ResourcePath(3303, 0, 5701), decoded[1].Path)
	assert.Equal(t, "Cel", decoded[1].Value.Str)
}

func TestSenMLCBOREncodeRejectsUnsupportedKind(t *testing.T) {
	c, _ := LookupCodec(ContentFormatSenMLCBOR)
	_, err := c.Encode([]Node{{Path: ResourcePath(3, 0, 1), Value: ExternalValue("http://x")}})
	require.Error(t, err)
	assert.Equal(t, KindNotAcceptable, AsOpError(err).Kind)
}

func TestSenMLCBORDecodeRejectsNonArray(t *testing.T) {
	c, _ := LookupCodec(ContentFormatSenMLCBOR)
	_, err := c.Decode(RootPath(), cborEncodeMapHead(0))
	require.Error(t, err)
}

func TestLwm2mCBORRoundTrip(t *testing.T) {
	c, _ := LookupCodec(ContentFormatLwm2mCBOR)
	nodes := []Node{
		{Path: ResourcePath(3303, 0, 5700), Value: FloatValue(21.5)},
		{Path: ResourcePath(3303, 0, 5701), Value: StringValue("Cel")},
	}

	body, err := c.Encode(nodes)
	require.NoError(t, err)

	decoded, err := c.Decode(RootPath(), body)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	byRID := map[uint16]Node{}
	for _, n := range decoded {
		byRID[n.Path.RID()] = n
	}
	assert.Equal(t, 21.5, byRID[5700].Value.Float)
	assert.Equal(t, "Cel", byRID[5701].Value.Str)
}

func TestLwm2mCBORDecodeRejectsNonMap(t *testing.T) {
	c, _ := LookupCodec(ContentFormatLwm2mCBOR)
	_, err := c.Decode(RootPath(), cborEncodeArrayHead(0))
	require.Error(t, err)
	assert.Equal(t, KindBadRequest, AsOpError(err).Kind)
}

func TestCoreLinkFormatRoundTrip(t *testing.T) {
	entries := []LinkEntry{
		{Path: ObjectPath(1), Attrs: map[string]string{"ver": "1.1"}},
		{Path: InstancePath(3303, 0), Attrs: map[string]string{}},
	}
	body := EncodeLinkFormat(entries)
	assert.Equal(t, "</1>;ver=1.1,</3303/0>", string(body))

	decoded, err := DecodeLinkFormat(body)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, ObjectPath(1), decoded[0].Path)
	assert.Equal(t, "1.1", decoded[0].Attrs["ver"])
	assert.Equal(t, InstancePath(3303, 0), decoded[1].Path)
}

func TestCoreLinkFormatDecodeRejectsMalformedEntry(t *testing.T) {
	_, err := DecodeLinkFormat([]byte("no-angle-brackets"))
	require.Error(t, err)
	assert.Equal(t, KindBadRequest, AsOpError(err).Kind)
}

func TestTLVDecodeNestedInstanceAndMultipleResource(t *testing.T) {
	c, _ := LookupCodec(ContentFormatLwm2mTLV)

	// Object Instance 0 holding Resource 1 (single, 1-byte length, value
	// 0x2A), followed by Multiple Resource 6 holding Resource Instance 0
	// with the same byte.
	resource := []byte{0xC1, 0x01, 0x2A} // type=Resource(3), short id, len=1
	instance := []byte{0x08, 0x00, byte(len(resource))}
	instance = append(instance, resource...)

	resInst := []byte{0x41, 0x00, 0x2A} // type=ResourceInstance(1), id 0, len 1
	multiRes := []byte{0x88, 0x06, byte(len(resInst))} // type=MultipleRes(2), short id, separate length byte
	multiRes = append(multiRes, resInst...)

	raw := append(append([]byte{}, instance...), multiRes...)

	nodes, err := c.Decode(ObjectPath(3303), raw)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
}

func TestTLVEncodeIsNotAcceptable(t *testing.T) {
	c, _ := LookupCodec(ContentFormatLwm2mTLV)
	_, err := c.Encode([]Node{{Path: ResourcePath(3, 0, 1), Value: IntValue(1)}})
	require.Error(t, err)
	assert.Equal(t, KindNotAcceptable, AsOpError(err).Kind)
}

func TestTLVValueAsCoercesDeclaredType(t *testing.T) {
	assert.Equal(t, int64(42), TLVValueAs([]byte{42}, KindInt).Int)
	assert.Equal(t, "hi", TLVValueAs([]byte("hi"), KindString).Str)
	assert.True(t, TLVValueAs([]byte{1}, KindBool).Bool)
}
