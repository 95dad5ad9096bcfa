package lwm2m

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// persistMagic/persistVersion tag the on-disk session snapshot (§6.7):
// registration location and registration time survive a process restart so the
// client can resume without a fresh Register.
var persistMagic = [4]byte{'L', 'W', '2', 'P'}

const persistVersion uint16 = 1

// ClientState is the client's place in the registration lifecycle.
type ClientState byte

const (
	StateUnregistered ClientState = iota
	StateBootstrapping
	StateRegistering
	StateRegistered
	StateUpdating
	StateDeregistering
)

// Client is the top-level single-threaded LwM2M client: one Registry of
// Objects, the C7 engine that answers server requests against it, and
// the registration/bootstrap state machine that drives outbound
// requests. Every state transition happens inside Step, driven by
// injected time and an optional inbound frame -- no goroutines, no
// background timers.
type Client struct {
	Config   *ClientConfig
	Registry *Registry
	Observe  *ObserveRegistry
	Exchange *ExchangeManager
	Engine   *Engine

	state ClientState

	nextMessageID uint16
	sessionTag    string // uuid generated by NewClient; not written to logs, metrics or the Persist output

	pendingToken []byte
	pendingKind  OperationKind

	location        string
	registeredAt    time.Time
	lastLifetimeSec int

	lastEvict time.Time
}

func NewClient(cfg *ClientConfig, reg *Registry) *Client {
	obs := NewObserveRegistry()
	ex := NewExchangeManager()
	return &Client{
		Config:        cfg,
		Registry:      reg,
		Observe:       obs,
		Exchange:      ex,
		Engine:        NewEngine(reg, obs, ex),
		state:         StateUnregistered,
		nextMessageID: uint16(rand.Intn(65536)),
		sessionTag:    uuid.NewString(),
	}
}

func (c *Client) nextMID() uint16 {
	c.nextMessageID = (c.nextMessageID + 1) & 0xFFFF
	return c.nextMessageID
}

func newToken() []byte {
	t := make([]byte, 8)
	rand.Read(t)
	return t
}

// Step advances the client by one tick: it processes an inbound frame
// (if any), then runs the periodic housekeeping (registration renewal,
// observe evaluation, block exchange eviction) for now, and returns
// every outbound frame produced, in emission order.
func (c *Client) Step(now time.Time, inbound []byte) [][]byte {
	var out [][]byte

	if inbound != nil {
		out = append(out, c.handleInbound(inbound, now)...)
	}
	out = append(out, c.tick(now)...)
	return out
}

func (c *Client) handleInbound(raw []byte, now time.Time) [][]byte {
	msg, err := ParseMessage(raw)
	if err != nil {
		if _, isDecode := err.(*DecodeError); isDecode {
			return [][]byte{resetFor(raw).Encode()} // malformed framing: reject with RST
		}
		// The header and token were valid, so answer with a coded response
		// (e.g. 4.02 for an unrecognized critical option).
		hdr := resetFor(raw)
		hdr.Token = append([]byte(nil), raw[4:4+int(raw[0]&0x0F)]...)
		return [][]byte{errorResponse(hdr, AsOpError(err)).Encode()}
	}

	if msg.Type == CoapTypeAcknowledgement || msg.Type == CoapTypeReset {
		return c.handleLifecycleResponse(msg, now)
	}

	op, err := Classify(msg, RoleClient)
	if err != nil {
		return [][]byte{errorResponse(msg, AsOpError(err)).Encode()}
	}
	if op.Kind == OpUnknown {
		return [][]byte{{}} // no frame: request didn't match any known surface
	}
	resp := c.Engine.Handle(msg, op, now)
	return [][]byte{resp.Encode()}
}

func resetFor(raw []byte) *Message {
	var mid uint16
	if len(raw) >= 4 {
		mid = uint16(raw[2])<<8 | uint16(raw[3])
	}
	return &Message{Type: CoapTypeReset, Code: CoapCodeEmpty, MessageID: mid}
}

// handleLifecycleResponse routes an ACK/RST for a pending
// Register/Update/Deregister/Bootstrap request that Step itself sent
// (identified by pendingToken); anything else is a notification ACK or
// a stray and is dropped.
func (c *Client) handleLifecycleResponse(msg *Message, now time.Time) [][]byte {
	if c.pendingToken == nil || !bytes.Equal(msg.Token, c.pendingToken) {
		return nil
	}
	if msg.Type == CoapTypeReset || msg.Code.IsError() {
		c.state = StateUnregistered
		c.pendingToken = nil
		coapLog.Warn().Str("kind", c.pendingKind.String()).Msg("lifecycle request rejected")
		return nil
	}

	switch c.pendingKind {
	case OpRegister:
		c.location = ParseLocationPath(msg)
		c.state = StateRegistered
		c.registeredAt = now
	case OpUpdate:
		c.state = StateRegistered
		c.registeredAt = now
	case OpDeregister:
		c.state = StateUnregistered
		c.location = ""
	case OpBootstrapRequest:
		c.state = StateBootstrapping
	case OpBootstrapFinish:
		c.state = StateUnregistered // fall through to a normal Register next tick
	}
	c.pendingToken = nil
	return nil
}

// tick runs the periodic, time-driven half of Step: registration
// renewal, observe attribute evaluation, and exchange eviction.
func (c *Client) tick(now time.Time) [][]byte {
	var out [][]byte

	if c.lastEvict.IsZero() || now.Sub(c.lastEvict) > time.Second {
		c.Exchange.Evict(now)
		c.lastEvict = now
	}

	switch c.state {
	case StateUnregistered:
		out = append(out, c.startRegister(now))
	case StateRegistered:
		lifetime := c.Config.Lifetime
		if lifetime <= 0 {
			lifetime = DefaultLifetime
		}
		renewAt := time.Duration(lifetime) * time.Second / 2
		if now.Sub(c.registeredAt) >= renewAt {
			out = append(out, c.startUpdate(now))
		}
	}

	for _, obs := range c.Observe.All() {
		if notif, fire := c.Engine.Notify(obs, now); fire {
			notif.MessageID = c.nextMID()
			out = append(out, notif.Encode())
		}
	}
	return out
}

func (c *Client) startRegister(now time.Time) []byte {
	token := newToken()
	c.pendingToken = token
	c.pendingKind = OpRegister
	c.state = StateRegistering
	lifetime := c.Config.Lifetime
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	req := BuildRegisterRequest(token, c.nextMID(), c.Config.EndpointClientName, lifetime, c.Registry)
	return req.Encode()
}

func (c *Client) startUpdate(now time.Time) []byte {
	token := newToken()
	c.pendingToken = token
	c.pendingKind = OpUpdate
	c.state = StateUpdating
	req := BuildUpdateRequest(token, c.nextMID(), c.location, 0, nil)
	return req.Encode()
}

// Deregister issues a Deregister request immediately, bypassing the tick
// schedule (used at shutdown).
func (c *Client) Deregister() []byte {
	if c.state != StateRegistered {
		return nil
	}
	token := newToken()
	c.pendingToken = token
	c.pendingKind = OpDeregister
	c.state = StateDeregistering
	return BuildDeregisterRequest(token, c.nextMID(), c.location).Encode()
}

// Send issues a client-initiated Send operation (LwM2M 1.1 §5.6) for the
// given paths, read fresh from the Registry, encoded as SenML-CBOR on
// "/dp".
func (c *Client) Send(paths []Path, now time.Time) ([]byte, error) {
	var nodes []Node
	for _, p := range paths {
		sub, err := collectDescendants(c.Registry, p)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, sub...)
	}
	codec, _ := LookupCodec(ContentFormatSenMLCBOR)
	body, err := codec.Encode(nodes)
	if err != nil {
		return nil, err
	}
	token := newToken()
	msg := &Message{
		Type:      CoapTypeConfirmable,
		Code:      CoapCodePost,
		MessageID: c.nextMID(),
		Token:     token,
		Options: []CoapOption{
			OptStr(OptUriPath, "dp"),
			OptUint(OptContentFormat, ContentFormatSenMLCBOR),
		},
		Payload: body,
	}
	return msg.Encode(), nil
}

// Persist serializes registration session state: magic, version, state
// byte, location length-prefixed string, registration time (uint32 Unix
// seconds).
func (c *Client) Persist() []byte {
	var buf bytes.Buffer
	buf.Write(persistMagic[:])
	binary.Write(&buf, binary.BigEndian, persistVersion)
	buf.WriteByte(byte(c.state))
	loc := []byte(c.location)
	binary.Write(&buf, binary.BigEndian, uint16(len(loc)))
	buf.Write(loc)
	binary.Write(&buf, binary.BigEndian, uint32(c.registeredAt.Unix()))
	return buf.Bytes()
}

// Restore reconstructs registration session state from a prior Persist
// call; an unrecognized magic or version is reported as an error rather
// than silently starting fresh, so the caller can decide.
func (c *Client) Restore(data []byte) error {
	if len(data) < 6 || !bytes.Equal(data[:4], persistMagic[:]) {
		return NewOpError(KindBadRequest, nil)
	}
	version := binary.BigEndian.Uint16(data[4:6])
	if version != persistVersion {
		return NewOpError(KindNotImplemented, nil)
	}
	pos := 6
	if len(data) < pos+1 {
		return NewOpError(KindBadRequest, nil)
	}
	c.state = ClientState(data[pos])
	pos++
	if len(data) < pos+2 {
		return NewOpError(KindBadRequest, nil)
	}
	locLen := int(binary.BigEndian.Uint16(data[pos : pos+2]))
	pos += 2
	if len(data) < pos+locLen+4 {
		return NewOpError(KindBadRequest, nil)
	}
	c.location = string(data[pos : pos+locLen])
	pos += locLen
	c.registeredAt = time.Unix(int64(binary.BigEndian.Uint32(data[pos:pos+4])), 0)
	return nil
}
