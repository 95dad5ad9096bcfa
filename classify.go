package lwm2m

// OperationKind enumerates every LwM2M operation the engine (C7) knows
// how to dispatch. Classification (C3) maps a decoded request to exactly
// one of these.
type OperationKind byte

const (
	OpUnknown OperationKind = iota
	OpBootstrapRequest
	OpBootstrapPack
	OpBootstrapWrite
	OpBootstrapDiscover
	OpBootstrapDelete
	OpBootstrapFinish
	OpRegister
	OpUpdate
	OpDeregister
	OpSend
	OpObserveStart
	OpObserveCancel
	OpDiscover
	OpRead
	OpReadComposite
	OpWriteReplace
	OpWritePartialUpdate
	OpWriteComposite
	OpWriteAttributes
	OpExecute
	OpCreate
	OpDelete
)

func (k OperationKind) String() string {
	names := map[OperationKind]string{
		OpBootstrapRequest:   "BootstrapRequest",
		OpBootstrapPack:      "BootstrapPack",
		OpBootstrapWrite:     "BootstrapWrite",
		OpBootstrapDiscover:  "BootstrapDiscover",
		OpBootstrapDelete:    "BootstrapDelete",
		OpBootstrapFinish:    "BootstrapFinish",
		OpRegister:           "Register",
		OpUpdate:             "Update",
		OpDeregister:         "Deregister",
		OpSend:               "Send",
		OpObserveStart:       "ObserveStart",
		OpObserveCancel:      "ObserveCancel",
		OpDiscover:           "Discover",
		OpRead:               "Read",
		OpReadComposite:      "ReadComposite",
		OpWriteReplace:       "WriteReplace",
		OpWritePartialUpdate: "WritePartialUpdate",
		OpWriteComposite:     "WriteComposite",
		OpWriteAttributes:    "WriteAttributes",
		OpExecute:            "Execute",
		OpCreate:             "Create",
		OpDelete:             "Delete",
	}
	if s, ok := names[k]; ok {
		return s
	}
	return "Unknown"
}

// Operation is the classified shape of an inbound request: what the
// engine should do, and the addressing/path it applies to.
type Operation struct {
	Kind OperationKind
	Path Path
}

// Classify maps a decoded request Message to an Operation. For RoleServer
// the first Uri-Path segment "bs"/"rd"/"dp" selects bootstrap/registration/
// Send framing. For RoleClient a leading "bspack" selects Bootstrap-Pack;
// everything else (an absent Uri-Path being the root) is addressed against
// the data model by its path depth and method.
func Classify(m *Message, role EndpointRole) (Operation, error) {
	segs := m.UriPathSegments()

	if role == RoleClient {
		return classifyServerInitiated(m, segs)
	}
	return classifyClientInitiated(m, segs)
}

// EndpointRole distinguishes which side of the exchange this classify
// call is being run on; bootstrap/registration requests are sent BY the
// client but their acknowledgement framing is classified as the client
// receiving a response, not as a fresh request.
type EndpointRole byte

const (
	RoleClient EndpointRole = iota // inbound requests addressed to us (Read/Write/Observe/Execute/...)
	RoleServer                     // outbound requests we send (Register/Update/Send/...) -- classified for test/logging symmetry
)

func classifyServerInitiated(m *Message, segs []string) (Operation, error) {
	switch {
	case len(segs) >= 1 && segs[0] == "bspack":
		return Operation{Kind: OpBootstrapPack}, nil
	default:
		p, err := ParsePathSegments(segs)
		if err != nil {
			return Operation{}, err
		}
		return classifyByMethod(m, p)
	}
}

func classifyByMethod(m *Message, p Path) (Operation, error) {
	switch m.Code {
	case CoapCodeGet:
		if num, isObs := m.ObserveValue(); isObs {
			if num == 0 {
				return Operation{Kind: OpObserveStart, Path: p}, nil
			}
			return Operation{Kind: OpObserveCancel, Path: p}, nil
		}
		if _, ok := m.Find(OptAccept); ok && m.Accept() == ContentFormatLinkFormat {
			return Operation{Kind: OpDiscover, Path: p}, nil
		}
		return Operation{Kind: OpRead, Path: p}, nil
	case CoapCodeFetch:
		return Operation{Kind: OpReadComposite, Path: p}, nil
	case CoapCodePut:
		if len(m.Payload) == 0 && hasAttributeQuery(m) {
			return Operation{Kind: OpWriteAttributes, Path: p}, nil
		}
		return Operation{Kind: OpWriteReplace, Path: p}, nil
	case CoapCodePost:
		if p.IsRoot() {
			return Operation{Kind: OpCreate, Path: p}, nil
		}
		if p.IsObject() {
			return Operation{Kind: OpCreate, Path: p}, nil
		}
		if p.IsResource() {
			return Operation{Kind: OpExecute, Path: p}, nil
		}
		return Operation{Kind: OpWritePartialUpdate, Path: p}, nil
	case CoapCodeIPatch:
		return Operation{Kind: OpWriteComposite, Path: p}, nil
	case CoapCodeDelete:
		return Operation{Kind: OpDelete, Path: p}, nil
	default:
		return Operation{}, NewOpError(KindMethodNotAllowed, nil)
	}
}

// hasAttributeQuery reports whether every Uri-Query carries a recognized
// notification-attribute key (pmin/pmax/lt/gt/st/epmin/epmax/con/hqmax),
// per §4.8's attribute set; a WRITE to a path with such queries and no
// payload is Write-Attributes rather than Write.
func hasAttributeQuery(m *Message) bool {
	qs := m.UriQuery()
	if len(qs) == 0 {
		return false
	}
	for _, q := range qs {
		key := q
		for i, c := range q {
			if c == '=' {
				key = q[:i]
				break
			}
		}
		if !isAttributeKey(key) {
			return false
		}
	}
	return true
}

func isAttributeKey(key string) bool {
	switch key {
	case "pmin", "pmax", "lt", "gt", "st", "epmin", "epmax", "con", "hqmax":
		return true
	default:
		return false
	}
}

func classifyClientInitiated(m *Message, segs []string) (Operation, error) {
	if len(segs) == 0 {
		return Operation{Kind: OpUnknown}, nil
	}
	switch segs[0] {
	case "bs":
		return Operation{Kind: OpBootstrapRequest}, nil
	case "rd":
		switch m.Code {
		case CoapCodePost:
			if len(segs) >= 2 {
				return Operation{Kind: OpUpdate}, nil
			}
			return Operation{Kind: OpRegister}, nil
		case CoapCodeDelete:
			return Operation{Kind: OpDeregister}, nil
		}
	case "dp":
		return Operation{Kind: OpSend}, nil
	}
	return Operation{Kind: OpUnknown}, nil
}
