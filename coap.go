package lwm2m

import (
	"sort"

	"github.com/funahara/lwm2mcore/pkg/log"
)

var coapLog = log.WithComponent("coap")

// CoapType is the CoAP message type. RFC7252 3. Message Format.
type CoapType byte

const (
	CoapTypeConfirmable     CoapType = 0
	CoapTypeNonConfirmable  CoapType = 1
	CoapTypeAcknowledgement CoapType = 2
	CoapTypeReset           CoapType = 3
)

func (t CoapType) String() string {
	switch t {
	case CoapTypeConfirmable:
		return "CON"
	case CoapTypeNonConfirmable:
		return "NON"
	case CoapTypeAcknowledgement:
		return "ACK"
	case CoapTypeReset:
		return "RST"
	default:
		return "???"
	}
}

// CoapCode is a CoAP method or response code, (class<<5)|detail.
type CoapCode byte

func NewCoapCode(class, detail byte) CoapCode { return CoapCode(class<<5 | detail) }

// Method codes. RFC7252 12.1.1. Fetch/Patch/iPatch are RFC8132; LwM2M uses
// Fetch and iPatch (Read-/Write-Composite), Patch is unused by LwM2M but
// kept for a complete frame codec.
const (
	CoapCodeGet    CoapCode = 1
	CoapCodePost   CoapCode = 2
	CoapCodePut    CoapCode = 3
	CoapCodeDelete CoapCode = 4
	CoapCodeFetch  CoapCode = 5
	CoapCodePatch  CoapCode = 6
	CoapCodeIPatch CoapCode = 7
)

// Response codes. RFC7252 12.1.2, RFC7959 2.9.3.
const (
	CoapCodeEmpty    CoapCode = 0  // 0.00
	CoapCodeCreated  CoapCode = 65 // 2.01
	CoapCodeDeleted  CoapCode = 66 // 2.02
	CoapCodeValid    CoapCode = 67 // 2.03
	CoapCodeChanged  CoapCode = 68 // 2.04
	CoapCodeContent  CoapCode = 69 // 2.05
	CoapCodeContinue CoapCode = 95 // 2.31

	CoapCodeBadRequest               CoapCode = 128 // 4.00
	CoapCodeUnauthorized             CoapCode = 129 // 4.01
	CoapCodeBadOption                CoapCode = 130 // 4.02
	CoapCodeForbidden                CoapCode = 131 // 4.03
	CoapCodeNotFound                 CoapCode = 132 // 4.04
	CoapCodeNotAllowed               CoapCode = 133 // 4.05
	CoapCodeNotAcceptable            CoapCode = 134 // 4.06
	CoapCodeRequestEntityIncomplete  CoapCode = 136 // 4.08
	CoapCodePreconditionFailed       CoapCode = 140 // 4.12
	CoapCodeRequestEntityTooLarge    CoapCode = 141 // 4.13
	CoapCodeUnsupportedContentFormat CoapCode = 143 // 4.15

	CoapCodeInternalServerError CoapCode = 160 // 5.00
	CoapCodeNotImplemented      CoapCode = 161 // 5.01
)

func (c CoapCode) Class() byte       { return byte(c) >> 5 }
func (c CoapCode) Detail() byte      { return byte(c) & 0x1F }
func (c CoapCode) IsRequest() bool   { return c.Class() == 0 && c != 0 }
func (c CoapCode) IsSuccess() bool   { return c.Class() == 2 }
func (c CoapCode) IsClientErr() bool { return c.Class() == 4 }
func (c CoapCode) IsServerErr() bool { return c.Class() == 5 }
func (c CoapCode) IsError() bool     { return c.Class() == 4 || c.Class() == 5 }

// Option numbers this core understands. RFC7252 12.2, RFC7959, RFC7641.
const (
	OptIfMatch       uint = 1
	OptUriHost       uint = 3
	OptETag          uint = 4
	OptIfNoneMatch   uint = 5
	OptObserve       uint = 6
	OptUriPort       uint = 7
	OptLocationPath  uint = 8
	OptUriPath       uint = 11
	OptContentFormat uint = 12
	OptMaxAge        uint = 14
	OptUriQuery      uint = 15
	OptAccept        uint = 17
	OptLocationQuery uint = 20
	OptBlock2        uint = 23
	OptBlock1        uint = 27
	OptSize2         uint = 28
	OptSize1         uint = 60
)

// repeatableOptions may legally appear more than once in a frame.
var repeatableOptions = map[uint]bool{
	OptUriPath:       true,
	OptUriQuery:      true,
	OptETag:          true,
	OptLocationPath:  true,
	OptLocationQuery: true,
	OptIfMatch:       true,
}

const (
	optCodeExtByte = 13
	optCodeExtWord = 14
	optByteBase    = 13
	optWordBase    = 269
)

// CoapOption is one decoded option: a number and its opaque wire value.
type CoapOption struct {
	No    uint
	Value []byte
}

func OptStr(num uint, s string) CoapOption    { return CoapOption{num, []byte(s)} }
func OptUint(num uint, v uint) CoapOption     { return CoapOption{num, encodeOptUint(v)} }
func OptBytes(num uint, b []byte) CoapOption  { return CoapOption{num, b} }
func OptEmpty(num uint) CoapOption            { return CoapOption{num, nil} }

func encodeOptUint(v uint) []byte {
	if v == 0 {
		return nil
	}
	var b []byte
	for v > 0 {
		b = append([]byte{byte(v & 0xFF)}, b...)
		v >>= 8
	}
	return b
}

// AsUint decodes an option value as a big-endian unsigned integer.
func (o CoapOption) AsUint() uint {
	var v uint
	for _, b := range o.Value {
		v = v<<8 | uint(b)
	}
	return v
}

func (o CoapOption) AsString() string { return string(o.Value) }

// Message is a decoded CoAP-over-UDP frame. RFC7252 3.
type Message struct {
	Type      CoapType
	Code      CoapCode
	MessageID uint16
	Token     []byte
	Options   []CoapOption
	Payload   []byte
}

// BlockValue is the decoded form of a Block1/Block2 option. RFC7959 2.2.
type BlockValue struct {
	Num  uint32
	More bool
	Size uint16 // 16..1024, power of two
}

const maxBlockSZX = 6 // szx 7 is reserved

func szxToSize(szx byte) uint16 { return uint16(16) << szx }

func sizeToSZX(size uint16) byte {
	szx := byte(0)
	for s := uint16(16); s < size && szx < maxBlockSZX; s <<= 1 {
		szx++
	}
	return szx
}

// EncodeBlock packs a BlockValue into its option wire form.
func EncodeBlock(b BlockValue) []byte {
	szx := sizeToSZX(b.Size)
	v := b.Num<<4 | uint32(boolBit(b.More))<<3 | uint32(szx)
	return encodeOptUint(uint(v))
}

func boolBit(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// DecodeBlock unpacks a Block1/Block2 option value.
func DecodeBlock(raw []byte) (BlockValue, error) {
	v := CoapOption{Value: raw}.AsUint()
	szx := byte(v & 0x07)
	if szx > maxBlockSZX {
		return BlockValue{}, NewOpError(KindBadOption, nil)
	}
	return BlockValue{
		Num:  uint32(v >> 4),
		More: (v>>3)&0x01 == 1,
		Size: szxToSize(szx),
	}, nil
}

// Find returns the first option with the given number, or false.
func (m *Message) Find(num uint) (CoapOption, bool) {
	for _, o := range m.Options {
		if o.No == num {
			return o, true
		}
	}
	return CoapOption{}, false
}

// FindAll returns every option with the given number, in wire order.
func (m *Message) FindAll(num uint) []CoapOption {
	var out []CoapOption
	for _, o := range m.Options {
		if o.No == num {
			out = append(out, o)
		}
	}
	return out
}

// UriPathSegments returns the decoded Uri-Path option values, in order.
func (m *Message) UriPathSegments() []string {
	var segs []string
	for _, o := range m.FindAll(OptUriPath) {
		segs = append(segs, o.AsString())
	}
	return segs
}

// UriQuery returns the decoded Uri-Query options as raw "key=value" (or
// bare "key") strings.
func (m *Message) UriQuery() []string {
	var qs []string
	for _, o := range m.FindAll(OptUriQuery) {
		qs = append(qs, o.AsString())
	}
	return qs
}

// HasObserve reports whether an Observe option is present.
func (m *Message) HasObserve() bool {
	_, ok := m.Find(OptObserve)
	return ok
}

// ObserveValue decodes the Observe option: 0 (register) / 1 (deregister)
// on requests, the sequence counter on notifications.
func (m *Message) ObserveValue() (uint32, bool) {
	o, ok := m.Find(OptObserve)
	if !ok {
		return 0, false
	}
	return uint32(o.AsUint()), true
}

// ContentFormat returns the Content-Format option value, or -1 if absent.
func (m *Message) ContentFormat() int {
	o, ok := m.Find(OptContentFormat)
	if !ok {
		return -1
	}
	return int(o.AsUint())
}

// Accept returns the Accept option value, or -1 if absent.
func (m *Message) Accept() int {
	o, ok := m.Find(OptAccept)
	if !ok {
		return -1
	}
	return int(o.AsUint())
}

// DecodeError classifies why ParseMessage failed at the framing level
// (RFC7252 3, 12.2) rather than at the LwM2M operation level; the caller
// should answer with RST rather than a coded response.
type DecodeError struct{ Reason string }

func (e *DecodeError) Error() string { return "coap: malformed frame: " + e.Reason }

// ParseMessage decodes a CoAP-over-UDP datagram. A *DecodeError means the
// frame itself is unparseable (truncated, bad version, bad token length);
// an *OpError(KindBadOption) means an unrecognized critical option was
// present.
func ParseMessage(raw []byte) (*Message, error) {
	if len(raw) < 4 {
		return nil, &DecodeError{"frame shorter than 4-byte header"}
	}
	if raw[0]>>6 != 1 {
		return nil, &DecodeError{"unsupported version"}
	}
	tkl := raw[0] & 0x0F
	if tkl > 8 {
		return nil, &DecodeError{"token length > 8"}
	}
	if len(raw) < 4+int(tkl) {
		return nil, &DecodeError{"truncated token"}
	}
	m := &Message{
		Type:      CoapType((raw[0] >> 4) & 0x03),
		Code:      CoapCode(raw[1]),
		MessageID: uint16(raw[2])<<8 | uint16(raw[3]),
	}
	m.Token = append([]byte(nil), raw[4:4+tkl]...)

	rest := raw[4+tkl:]
	optLen, err := parseOptions(m, rest)
	if err != nil {
		return nil, err
	}
	if optLen < len(rest) {
		if rest[optLen] != 0xFF {
			return nil, &DecodeError{"expected payload marker"}
		}
		if optLen+1 >= len(rest) {
			return nil, NewOpError(KindBadRequest, nil)
		}
		m.Payload = append([]byte(nil), rest[optLen+1:]...)
	}
	return m, nil
}

func parseOptions(m *Message, raw []byte) (int, error) {
	length := 0
	var base uint
	seen := map[uint]int{}
	for length < len(raw) && raw[length] != 0xFF {
		opt, n, err := parseOneOption(raw[length:], base)
		if err != nil {
			return 0, err
		}
		if seen[opt.No] > 0 && !repeatableOptions[opt.No] && opt.No%2 == 1 {
			return 0, NewOpError(KindBadOption, nil)
		}
		seen[opt.No]++
		if !knownOption(opt.No) && opt.No%2 == 1 {
			return 0, NewOpError(KindBadOption, nil)
		}
		m.Options = append(m.Options, opt)
		length += n
		base = opt.No
	}
	return length, nil
}

func knownOption(num uint) bool {
	switch num {
	case OptIfMatch, OptUriHost, OptETag, OptIfNoneMatch, OptObserve, OptUriPort,
		OptLocationPath, OptUriPath, OptContentFormat, OptMaxAge, OptUriQuery,
		OptAccept, OptLocationQuery, OptBlock2, OptBlock1, OptSize1, OptSize2:
		return true
	default:
		return false
	}
}

func parseOneOption(raw []byte, base uint) (CoapOption, int, error) {
	if len(raw) < 1 {
		return CoapOption{}, 0, &DecodeError{"truncated option header"}
	}
	deltaNib := uint(raw[0]) >> 4
	lenNib := uint(raw[0]) & 0x0F
	pos := 1

	delta, n, err := extendField(deltaNib, raw, pos)
	if err != nil {
		return CoapOption{}, 0, err
	}
	pos += n

	length, n, err := extendField(lenNib, raw, pos)
	if err != nil {
		return CoapOption{}, 0, err
	}
	pos += n

	if len(raw) < pos+int(length) {
		return CoapOption{}, 0, &DecodeError{"truncated option value"}
	}
	opt := CoapOption{No: base + delta, Value: append([]byte(nil), raw[pos:pos+int(length)]...)}
	return opt, pos + int(length), nil
}

func extendField(nibble uint, raw []byte, pos int) (uint, int, error) {
	switch nibble {
	case optCodeExtByte:
		if len(raw) < pos+1 {
			return 0, 0, &DecodeError{"truncated extended option field"}
		}
		return optByteBase + uint(raw[pos]), 1, nil
	case optCodeExtWord:
		if len(raw) < pos+2 {
			return 0, 0, &DecodeError{"truncated extended option field"}
		}
		return optWordBase + uint(raw[pos])<<8 + uint(raw[pos+1]), 2, nil
	case 15:
		return 0, 0, &DecodeError{"reserved option nibble 15"}
	default:
		return nibble, 0, nil
	}
}

// Encode serializes m canonically: options sorted by number ascending,
// each using the shortest valid delta/length encoding. RFC7252 3.1.
func (m *Message) Encode() []byte {
	out := make([]byte, 4)
	out[0] = 1<<6 | byte(m.Type)<<4 | byte(len(m.Token))
	out[1] = byte(m.Code)
	out[2] = byte(m.MessageID >> 8)
	out[3] = byte(m.MessageID)
	out = append(out, m.Token...)
	out = append(out, encodeOptions(m.Options)...)
	if len(m.Payload) > 0 {
		out = append(out, 0xFF)
		out = append(out, m.Payload...)
	}
	return out
}

func encodeOptions(opts []CoapOption) []byte {
	sorted := append([]CoapOption(nil), opts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].No < sorted[j].No })

	var out []byte
	var base uint
	for _, o := range sorted {
		out = append(out, encodeOneOption(o, base)...)
		base = o.No
	}
	return out
}

func encodeOneOption(o CoapOption, base uint) []byte {
	delta := o.No - base
	length := uint(len(o.Value))

	deltaNib, deltaExt := packField(delta)
	lenNib, lenExt := packField(length)

	out := append([]byte{deltaNib<<4 | lenNib}, deltaExt...)
	out = append(out, lenExt...)
	out = append(out, o.Value...)
	return out
}

// packField returns the 4-bit nibble plus any extension bytes for a
// delta or length field. RFC7252 3.1.
func packField(v uint) (byte, []byte) {
	switch {
	case v < optByteBase:
		return byte(v), nil
	case v < optWordBase:
		return optCodeExtByte, []byte{byte(v - optByteBase)}
	default:
		ext := v - optWordBase
		return optCodeExtWord, []byte{byte(ext >> 8), byte(ext)}
	}
}
