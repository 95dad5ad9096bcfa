package lwm2m

// Content-Format identifiers. RFC7252 12.3 registry, OMA TS LwM2M-Core
// §6.4 for the LwM2M-specific entries.
const (
	ContentFormatText        = 0
	ContentFormatOpaque      = 42
	ContentFormatCBOR        = 60
	ContentFormatLinkFormat  = 40
	ContentFormatLwm2mTLV    = 11542
	ContentFormatLwm2mJSON   = 11543
	ContentFormatSenMLJSON   = 110
	ContentFormatSenMLCBOR   = 112
	ContentFormatLwm2mCBOR   = 11544
)

// Node is one flattened (path, value) pair as produced by a Reader or
// consumed by a Writer. Composite formats (SenML, LwM2M-CBOR, TLV) carry
// many Nodes per message; single-value formats (plain text, opaque)
// carry exactly one.
type Node struct {
	Path  Path
	Value Value
}

// Encoder renders a set of Nodes into a content-format payload. Encoders
// are single-shot: the full Node set is known up front (the engine has
// already read every addressed value from the registry) so no streaming
// state is needed on the write side beyond block-pagination, which the
// exchange manager (C9) handles by slicing the finished buffer.
type Encoder interface {
	Encode(nodes []Node) ([]byte, error)
}

// Decoder parses a content-format payload into Nodes, relative to base
// (the request's addressed Path; SenML/TLV/CBOR record names relative to
// it). Block1-reassembled payloads are decoded only once the full body
// has arrived; partial bodies are never handed to a Decoder.
type Decoder interface {
	Decode(base Path, body []byte) ([]Node, error)
}

// Codec bundles both directions for one content format.
type Codec interface {
	Encoder
	Decoder
	ContentFormat() int
}

var codecs = map[int]Codec{}

func registerCodec(c Codec) { codecs[c.ContentFormat()] = c }

// LookupCodec returns the codec for a Content-Format id, or
// (nil, false) if this core doesn't support it.
func LookupCodec(format int) (Codec, bool) {
	c, ok := codecs[format]
	return c, ok
}

func init() {
	registerCodec(plainTextCodec{})
	registerCodec(opaqueCodec{})
	registerCodec(senMLCBORCodec{})
	registerCodec(lwm2mCBORCodec{})
	registerCodec(coreLinkCodec{})
	registerCodec(tlvCodec{}) // accept-only, per legacy-format note
}
