package lwm2m

import (
	"strconv"
	"strings"
)

// Registration parameters. OMA-TS-LightweightM2M-Core §5.3.1.
const (
	ProtocolVersion    = "1.1"
	DefaultBindingMode = "U"
	DefaultLifetime    = 86400
)

// BuildRegisterRequest renders the Register operation's CON POST /rd
// request: query parameters (ep, lt, lwm2m, b) plus a CoRE Link Format
// body with one "</oid/iid>" link per registered Object Instance; an
// Object with no Instances is not listed. The Security Object
// (OID 0) is excluded from that list, per §5.3.1's registration rule.
func BuildRegisterRequest(token []byte, mid uint16, endpoint string, lifetime int, reg *Registry) *Message {
	opts := []CoapOption{
		OptStr(OptUriPath, "rd"),
		OptUint(OptContentFormat, ContentFormatLinkFormat),
		OptStr(OptUriQuery, "lwm2m="+ProtocolVersion),
		OptStr(OptUriQuery, "ep="+endpoint),
		OptStr(OptUriQuery, "b="+DefaultBindingMode),
		OptStr(OptUriQuery, "lt="+strconv.Itoa(lifetime)),
	}
	return &Message{
		Type:      CoapTypeConfirmable,
		Code:      CoapCodePost,
		MessageID: mid,
		Token:     token,
		Options:   opts,
		Payload:   RegisterLinkFormat(reg),
	}
}

// RegisterLinkFormat builds the Register/Update body: the root resource
// type declaration plus "</oid/iid>" for every non-Security instance.
func RegisterLinkFormat(reg *Registry) []byte {
	var b strings.Builder
	b.WriteString(`</>;rt="oma.lwm2m";ct=`)
	b.WriteString(strconv.Itoa(ContentFormatLwm2mCBOR))
	for _, oid := range reg.OIDs() {
		if oid == lwm2mObjectIDSecurity {
			continue
		}
		obj, _ := reg.Lookup(oid)
		for _, iid := range obj.InstanceIDs() {
			b.WriteByte(',')
			b.WriteByte('<')
			b.WriteString(ObjectPath(oid).Child(iid).String())
			b.WriteByte('>')
		}
	}
	return []byte(b.String())
}

// BuildUpdateRequest renders the Update operation: CON POST to the
// Location-Path the server assigned at Register time.
func BuildUpdateRequest(token []byte, mid uint16, location string, lifetime int, linkFormat []byte) *Message {
	opts := locationToOptions(location)
	if lifetime > 0 {
		opts = append(opts, OptStr(OptUriQuery, "lt="+strconv.Itoa(lifetime)))
	}
	return &Message{
		Type:      CoapTypeConfirmable,
		Code:      CoapCodePost,
		MessageID: mid,
		Token:     token,
		Options:   opts,
		Payload:   linkFormat,
	}
}

// BuildDeregisterRequest renders the Deregister operation: CON DELETE to
// the registration's Location-Path.
func BuildDeregisterRequest(token []byte, mid uint16, location string) *Message {
	return &Message{
		Type:      CoapTypeConfirmable,
		Code:      CoapCodeDelete,
		MessageID: mid,
		Token:     token,
		Options:   locationToOptions(location),
	}
}

func locationToOptions(location string) []CoapOption {
	segs := strings.Split(strings.Trim(location, "/"), "/")
	opts := make([]CoapOption, 0, len(segs))
	for _, s := range segs {
		if s == "" {
			continue
		}
		opts = append(opts, OptStr(OptUriPath, s))
	}
	return opts
}

// ParseLocationPath extracts the server-assigned registration location
// from a Register/Update response's Location-Path options.
func ParseLocationPath(resp *Message) string {
	var b strings.Builder
	for _, o := range resp.FindAll(OptLocationPath) {
		b.WriteByte('/')
		b.WriteString(o.AsString())
	}
	return b.String()
}
