package lwm2m

import (
	"strconv"
	"time"

	"github.com/funahara/lwm2mcore/pkg/metrics"
)

// DefaultBlockSize is the Block2 page size this core offers when a
// server doesn't express a preference, 1024 bytes (szx 6), the largest
// RFC7959 allows.
const DefaultBlockSize uint16 = 1024

// Engine is the C7 operation engine: it turns a classified Operation
// into data-model calls against a Registry, staging Write and
// Write-Composite values through a Transaction (Create calls
// CreateInstance directly), producing a response
// Message whose code follows the failure-semantics table in §7.
type Engine struct {
	Registry *Registry
	Observe  *ObserveRegistry
	Exchange *ExchangeManager
}

func NewEngine(reg *Registry, obs *ObserveRegistry, ex *ExchangeManager) *Engine {
	return &Engine{Registry: reg, Observe: obs, Exchange: ex}
}

// Handle dispatches one inbound request addressed to the data model
// (everything Classify routes through classifyClientInitiated's "rd"/"bs"
// paths is handled by the registration/bootstrap state machines instead;
// Handle only sees Operation kinds the data model itself answers).
func (e *Engine) Handle(req *Message, op Operation, now time.Time) *Message {
	var code CoapCode
	var respOpts []CoapOption
	var payload []byte
	var err error

	switch op.Kind {
	case OpRead:
		payload, respOpts, err = e.handleRead(req, op.Path)
		code = CoapCodeContent
	case OpReadComposite:
		payload, respOpts, err = e.handleReadComposite(req, op.Path)
		code = CoapCodeContent
	case OpDiscover:
		payload, err = e.handleDiscover(op.Path)
		code = CoapCodeContent
		respOpts = []CoapOption{OptUint(OptContentFormat, ContentFormatLinkFormat)}
	case OpWriteReplace:
		err = e.handleWrite(req, op.Path, true)
		code = CoapCodeChanged
	case OpWritePartialUpdate:
		err = e.handleWrite(req, op.Path, false)
		code = CoapCodeChanged
	case OpWriteComposite:
		err = e.handleWriteComposite(req, op.Path)
		code = CoapCodeChanged
	case OpWriteAttributes:
		err = e.handleWriteAttributes(req, op.Path)
		code = CoapCodeChanged
	case OpExecute:
		err = e.handleExecute(req, op.Path)
		code = CoapCodeChanged
	case OpCreate:
		var loc Path
		loc, err = e.handleCreate(req, op.Path)
		code = CoapCodeCreated
		if err == nil {
			respOpts = locationPathOptions(loc)
		}
	case OpDelete:
		err = e.handleDelete(op.Path)
		code = CoapCodeDeleted
	case OpObserveStart:
		payload, respOpts, err = e.handleObserveStart(req, op.Path, now)
		code = CoapCodeContent
	case OpObserveCancel:
		e.Observe.Cancel(req.Token)
		payload, respOpts, err = e.handleRead(req, op.Path)
		code = CoapCodeContent
	case OpBootstrapPack:
		payload = e.handleBootstrapPack()
		code = CoapCodeContent
		respOpts = []CoapOption{OptUint(OptContentFormat, ContentFormatLinkFormat)}
	default:
		err = NewOpError(KindNotImplemented, nil)
	}

	if err != nil {
		oe := AsOpError(err)
		coapLog.Debug().Str("op", op.Kind.String()).Str("path", op.Path.String()).
			Str("kind", oe.Kind.String()).Msg("operation failed")
		metrics.OperationsTotal.WithLabelValues(op.Kind.String(), "error").Inc()
		return errorResponse(req, oe)
	}
	metrics.OperationsTotal.WithLabelValues(op.Kind.String(), "ok").Inc()
	return &Message{
		Type:      CoapTypeAcknowledgement,
		Code:      code,
		MessageID: req.MessageID,
		Token:     req.Token,
		Options:   respOpts,
		Payload:   payload,
	}
}

func errorResponse(req *Message, oe *OpError) *Message {
	return &Message{
		Type:      CoapTypeAcknowledgement,
		Code:      oe.Kind.CoAPCode(),
		MessageID: req.MessageID,
		Token:     req.Token,
	}
}

// locationPathOptions renders p's segments as Location-Path options, per
// RFC7252 5.10.7 (one option per path segment, not a single slashed
// string).
func locationPathOptions(p Path) []CoapOption {
	opts := make([]CoapOption, 0, p.Depth())
	for i := 0; i < p.Depth(); i++ {
		opts = append(opts, OptStr(OptLocationPath, strconv.Itoa(int(idAt(p, i)))))
	}
	return opts
}

// collectDescendants reads every Resource/Resource-Instance value rooted
// at p (p itself if p is already a Resource/Resource-Instance).
func collectDescendants(reg *Registry, p Path) ([]Node, error) {
	obj, err := reg.Resolve(p)
	if err != nil {
		return nil, err
	}
	var nodes []Node
	switch {
	case p.IsResInstance():
		v, err := obj.Read(p.IID(), p.RID(), p.RIID())
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, Node{Path: p, Value: v})
	case p.IsResource():
		def, _ := obj.Definition().Resource(p.RID())
		if def.Multiple {
			riids, err := obj.ResourceInstanceIDs(p.IID(), p.RID())
			if err != nil {
				return nil, err
			}
			for _, riid := range riids {
				v, err := obj.Read(p.IID(), p.RID(), riid)
				if err != nil {
					return nil, err
				}
				nodes = append(nodes, Node{Path: p.Child(riid), Value: v})
			}
		} else {
			v, err := obj.Read(p.IID(), p.RID(), 0)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, Node{Path: p, Value: v})
		}
	case p.IsInstance():
		for _, rd := range obj.Definition().Resources {
			if !rd.Ops.Has(OpRead) {
				continue
			}
			sub, err := collectDescendants(reg, p.Child(rd.RID))
			if err != nil {
				continue
			}
			nodes = append(nodes, sub...)
		}
	case p.IsObject():
		for _, iid := range obj.InstanceIDs() {
			sub, err := collectDescendants(reg, p.Child(iid))
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, sub...)
		}
	}
	return nodes, nil
}

func (e *Engine) handleRead(req *Message, p Path) ([]byte, []CoapOption, error) {
	nodes, err := collectDescendants(e.Registry, p)
	if err != nil {
		return nil, nil, err
	}
	format := negotiateReadFormat(req, p)
	if req.Accept() < 0 && format == ContentFormatText && len(nodes) == 1 && nodes[0].Value.Kind == KindBytes {
		format = ContentFormatOpaque
	}
	codec, ok := LookupCodec(format)
	if !ok {
		return nil, nil, NewOpError(KindNotAcceptable, nil)
	}
	body, err := codec.Encode(nodes)
	if err != nil {
		return nil, nil, err
	}
	return body, []CoapOption{OptUint(OptContentFormat, uint(format))}, nil
}

func negotiateReadFormat(req *Message, p Path) int {
	if accept := req.Accept(); accept >= 0 {
		return accept
	}
	if p.IsResource() || p.IsResInstance() {
		return ContentFormatText
	}
	return ContentFormatSenMLCBOR
}

func (e *Engine) handleReadComposite(req *Message, base Path) ([]byte, []CoapOption, error) {
	format := req.ContentFormat()
	if format < 0 {
		format = ContentFormatSenMLCBOR
	}
	codec, ok := LookupCodec(format)
	if !ok {
		return nil, nil, NewOpError(KindUnsupportedContentFormat, nil)
	}
	requested, err := codec.Decode(base, req.Payload)
	if err != nil {
		return nil, nil, err
	}
	var nodes []Node
	for _, n := range requested {
		sub, err := collectDescendants(e.Registry, n.Path)
		if err != nil {
			continue
		}
		nodes = append(nodes, sub...)
	}
	respFormat := negotiateReadFormat(req, base)
	respCodec, _ := LookupCodec(respFormat)
	body, err := respCodec.Encode(nodes)
	if err != nil {
		return nil, nil, err
	}
	return body, []CoapOption{OptUint(OptContentFormat, uint(respFormat))}, nil
}

func (e *Engine) handleDiscover(p Path) ([]byte, error) {
	obj, err := e.Registry.Resolve(p)
	if err != nil {
		return nil, err
	}
	var entries []LinkEntry
	switch {
	case p.IsObject():
		for _, iid := range obj.InstanceIDs() {
			entries = append(entries, LinkEntry{Path: p.Child(iid)})
		}
	case p.IsInstance():
		for _, rd := range obj.Definition().Resources {
			entries = append(entries, LinkEntry{Path: p.Child(rd.RID)})
		}
	default:
		entries = append(entries, LinkEntry{Path: p})
	}
	return EncodeLinkFormat(entries), nil
}

// bspackObjectIDs restricts a Bootstrap-Pack response to the objects a
// bootstrap server needs to decide what still has to be provisioned.
var bspackObjectIDs = []uint16{lwm2mObjectIDSecurity, lwm2mObjectIDServer, lwm2mObjectIDAccessCtrl}

// handleBootstrapPack renders GET /bspack: object and instance links for
// Security/Server/AccessControl only, a narrower sibling of Discover
// aimed at bootstrap servers rather than the management server.
func (e *Engine) handleBootstrapPack() []byte {
	var entries []LinkEntry
	for _, oid := range bspackObjectIDs {
		obj, ok := e.Registry.Lookup(oid)
		if !ok {
			continue
		}
		entries = append(entries, LinkEntry{Path: ObjectPath(oid)})
		for _, iid := range obj.InstanceIDs() {
			entries = append(entries, LinkEntry{Path: ObjectPath(oid).Child(iid)})
		}
	}
	return EncodeLinkFormat(entries)
}

// handleWrite applies a Write-Replace or Write-Partial-Update. Both pass
// every decoded node through the same staged transaction; Replace
// additionally stages a clear (applied against the same shadow snapshot,
// so it rolls back with everything else) of whatever the payload leaves
// unmentioned -- every writable Resource of the target Instance for an
// Instance-level Replace, or the stale Resource Instances of a
// multi-instance Resource for a Resource-level Replace.
func (e *Engine) handleWrite(req *Message, p Path, replace bool) error {
	format := req.ContentFormat()
	if format < 0 {
		format = ContentFormatText
	}
	codec, ok := LookupCodec(format)
	if !ok {
		return NewOpError(KindUnsupportedContentFormat, nil)
	}
	nodes, err := codec.Decode(p, req.Payload)
	if err != nil {
		return err
	}
	tx := BeginTransaction(e.Registry)
	if replace {
		if err := tx.StageReplace(p, nodes); err != nil {
			return err
		}
	}
	for _, n := range nodes {
		v := n.Value
		if format == ContentFormatLwm2mTLV && v.Kind == KindBytes {
			v = coerceTLVValue(e.Registry, n.Path, v)
		}
		if err := tx.Stage(n.Path, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func coerceTLVValue(reg *Registry, p Path, v Value) Value {
	obj, err := reg.Resolve(p)
	if err != nil || !p.IsResource() {
		return v
	}
	def, ok := obj.Definition().Resource(p.RID())
	if !ok {
		return v
	}
	return TLVValueAs(v.Bytes, def.Type)
}

func (e *Engine) handleWriteComposite(req *Message, base Path) error {
	format := req.ContentFormat()
	if format < 0 {
		format = ContentFormatSenMLCBOR
	}
	codec, ok := LookupCodec(format)
	if !ok {
		return NewOpError(KindUnsupportedContentFormat, nil)
	}
	nodes, err := codec.Decode(base, req.Payload)
	if err != nil {
		return err
	}
	tx := BeginTransaction(e.Registry)
	for _, n := range nodes {
		if err := tx.Stage(n.Path, n.Value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (e *Engine) handleExecute(req *Message, p Path) error {
	if !p.IsResource() {
		return NewOpError(KindBadRequest, nil)
	}
	obj, err := e.Registry.Resolve(p)
	if err != nil {
		return err
	}
	def, ok := obj.Definition().Resource(p.RID())
	if !ok || !def.Ops.Has(OpExecute) {
		return NewOpError(KindMethodNotAllowed, nil)
	}
	return obj.Execute(p.IID(), p.RID(), req.Payload)
}

func (e *Engine) handleCreate(req *Message, p Path) (Path, error) {
	if !p.IsObject() {
		return Path{}, NewOpError(KindMethodNotAllowed, nil)
	}
	obj, ok := e.Registry.Lookup(p.OID())
	if !ok {
		return Path{}, NewOpError(KindNotFound, nil)
	}
	format := req.ContentFormat()
	if format < 0 {
		format = ContentFormatSenMLCBOR
	}
	codec, ok := LookupCodec(format)
	if !ok {
		return Path{}, NewOpError(KindUnsupportedContentFormat, nil)
	}
	nodes, err := codec.Decode(p, req.Payload)
	if err != nil {
		return Path{}, err
	}
	if len(nodes) == 0 || (!nodes[0].Path.IsResource() && !nodes[0].Path.IsInstance()) {
		return Path{}, NewOpError(KindBadRequest, nil)
	}
	iid := nextFreeInstance(obj.InstanceIDs())
	initial := map[uint16]Value{}
	for _, n := range nodes {
		if n.Path.IsResource() {
			initial[n.Path.RID()] = n.Value
		}
	}
	if err := obj.CreateInstance(iid, initial); err != nil {
		return Path{}, err
	}
	return p.Child(iid), nil
}

func nextFreeInstance(existing []uint16) uint16 {
	used := map[uint16]bool{}
	for _, id := range existing {
		used[id] = true
	}
	for i := uint16(0); i < InvalidID; i++ {
		if !used[i] {
			return i
		}
	}
	return InvalidID
}

func (e *Engine) handleDelete(p Path) error {
	if !p.IsInstance() {
		return NewOpError(KindMethodNotAllowed, nil)
	}
	obj, err := e.Registry.Resolve(p)
	if err != nil {
		return err
	}
	return obj.DeleteInstance(p.IID())
}

func (e *Engine) handleWriteAttributes(req *Message, p Path) error {
	attrs, err := parseAttributeQuery(req.UriQuery())
	if err != nil {
		return err
	}
	e.Observe.SetAttributes(p, attrs)
	return nil
}

func parseAttributeQuery(qs []string) (Attributes, error) {
	var a Attributes
	for _, q := range qs {
		key, val := splitQuery(q)
		switch key {
		case "pmin":
			d, err := parseSeconds(val)
			if err != nil {
				return a, err
			}
			a.Pmin = &d
		case "pmax":
			d, err := parseSeconds(val)
			if err != nil {
				return a, err
			}
			a.Pmax = &d
		case "epmin":
			d, err := parseSeconds(val)
			if err != nil {
				return a, err
			}
			a.Epmin = &d
		case "epmax":
			d, err := parseSeconds(val)
			if err != nil {
				return a, err
			}
			a.Epmax = &d
		case "hqmax":
			d, err := parseSeconds(val)
			if err != nil {
				return a, err
			}
			a.Hqmax = &d
		case "lt":
			f, err := parseFloatAttr(val)
			if err != nil {
				return a, err
			}
			a.Lt = &f
		case "gt":
			f, err := parseFloatAttr(val)
			if err != nil {
				return a, err
			}
			a.Gt = &f
		case "st":
			f, err := parseFloatAttr(val)
			if err != nil {
				return a, err
			}
			a.St = &f
		case "con":
			con := val == "1"
			a.Con = &con
		default:
			return a, NewOpError(KindBadOption, nil)
		}
	}
	return a, nil
}

func splitQuery(q string) (string, string) {
	for i, c := range q {
		if c == '=' {
			return q[:i], q[i+1:]
		}
	}
	return q, ""
}

func parseSeconds(s string) (time.Duration, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, NewOpError(KindBadRequest, err)
	}
	return time.Duration(n) * time.Second, nil
}

func parseFloatAttr(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, NewOpError(KindBadRequest, err)
	}
	return f, nil
}

func (e *Engine) handleObserveStart(req *Message, p Path, now time.Time) ([]byte, []CoapOption, error) {
	if !p.IsResource() && !p.IsInstance() && !p.IsObject() {
		return nil, nil, NewOpError(KindBadRequest, nil)
	}
	obs := e.Observe.Start(p, req.Token, now)
	nodes, err := collectDescendants(e.Registry, p)
	if err != nil {
		e.Observe.Cancel(req.Token)
		return nil, nil, err
	}
	if len(nodes) == 1 {
		obs.LastValue = nodes[0].Value
		obs.haveLast = true
	}
	format := negotiateReadFormat(req, p)
	codec, _ := LookupCodec(format)
	body, err := codec.Encode(nodes)
	if err != nil {
		return nil, nil, err
	}
	return body, []CoapOption{
		OptUint(OptContentFormat, uint(format)),
		OptUint(OptObserve, uint(obs.nextSeqNum())),
	}, nil
}

// Notify builds a notification Message for obs (NON, or CON when the con
// attribute is set) if ShouldNotify says the current value warrants one;
// returns (nil, false) otherwise.
func (e *Engine) Notify(obs *Observation, now time.Time) (*Message, bool) {
	nodes, err := collectDescendants(e.Registry, obs.Path)
	if err != nil || len(nodes) == 0 {
		return nil, false
	}
	var latest Value
	if len(nodes) == 1 {
		latest = nodes[0].Value
	}
	reason, fire := obs.ShouldNotify(latest, now)
	if !fire {
		return nil, false
	}
	format := ContentFormatSenMLCBOR
	if obs.Path.IsResource() {
		format = ContentFormatText
	}
	codec, _ := LookupCodec(format)
	body, err := codec.Encode(nodes)
	if err != nil {
		return nil, false
	}
	obs.Record(latest, now, reason)
	return &Message{
		Type:      notifyMsgType(obs),
		Code:      CoapCodeContent,
		MessageID: 0, // filled by Client.tick when it assigns the next message id
		Token:     obs.Token,
		Options: []CoapOption{
			OptUint(OptContentFormat, uint(format)),
			OptUint(OptObserve, uint(obs.SeqNum)),
		},
		Payload: body,
	}, true
}

func notifyMsgType(obs *Observation) CoapType {
	if obs.Attrs.Con != nil && *obs.Attrs.Con {
		return CoapTypeConfirmable
	}
	return CoapTypeNonConfirmable
}
