package lwm2m

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegisterRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(NewSecurityObject("coap://server", false, 1, nil, nil))
	reg.Register(NewServerObject(1, DefaultLifetime))
	reg.Register(NewDeviceObject("acme", "widget", "sn1", "1.0", nil))
	return reg
}

func TestBuildRegisterRequestSetsQueryAndPath(t *testing.T) {
	reg := testRegisterRegistry()
	msg := BuildRegisterRequest([]byte{1}, 10, "node-1", 86400, reg)

	assert.Equal(t, CoapCodePost, msg.Code)
	assert.Equal(t, []string{"rd"}, msg.UriPathSegments())
	qs := msg.UriQuery()
	assert.Contains(t, qs, "ep=node-1")
	assert.Contains(t, qs, "lt=86400")
	assert.Contains(t, qs, "lwm2m="+ProtocolVersion)
}

func TestRegisterLinkFormatExcludesSecurityObject(t *testing.T) {
	reg := testRegisterRegistry()
	body := string(RegisterLinkFormat(reg))

	assert.Contains(t, body, "</1/0>") // Server
	assert.Contains(t, body, "</3/0>") // Device
	assert.NotContains(t, body, "</0/0>", "Security Object must never be listed in a registration body")
}

func TestBuildUpdateRequestTargetsLocationPath(t *testing.T) {
	msg := BuildUpdateRequest([]byte{2}, 11, "/rd/abc123", 120, []byte("</1/0>"))
	assert.Equal(t, CoapCodePost, msg.Code)
	assert.Equal(t, []string{"rd", "abc123"}, msg.UriPathSegments())
	assert.Contains(t, msg.UriQuery(), "lt=120")
}

func TestBuildDeregisterRequestTargetsLocationPath(t *testing.T) {
	msg := BuildDeregisterRequest([]byte{3}, 12, "/rd/abc123")
	assert.Equal(t, CoapCodeDelete, msg.Code)
	assert.Equal(t, []string{"rd", "abc123"}, msg.UriPathSegments())
}

func TestParseLocationPathJoinsSegments(t *testing.T) {
	resp := &Message{Options: []CoapOption{
		OptStr(OptLocationPath, "rd"),
		OptStr(OptLocationPath, "abc123"),
	}}
	loc := ParseLocationPath(resp)
	require.Equal(t, "/rd/abc123", loc)
}
