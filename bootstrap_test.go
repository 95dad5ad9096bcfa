package lwm2m

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBootstrapRegistry mirrors the shape of a client mid-bootstrap: a
// non-bootstrap Security Instance (the DM server it's being provisioned
// for, SSID 101, referencing OSCORE Instance 0) alongside the Bootstrap
// Server's own Instance (referencing OSCORE Instance 1), a Server
// Instance, a Device Instance, and both OSCORE Instances.
func testBootstrapRegistry() *Registry {
	reg := NewRegistry()

	sec := NewSecurityObject("coaps://server_1.example.com", false, 101, nil, nil)
	sec.setDirect(0, ridSecurityOSCORE, ObjlnkValue(Objlnk{ObjectID: lwm2mObjectIDOSCORE, InstanceID: 0}))
	sec.CreateInstance(1, map[uint16]Value{
		ridSecurityURI:       StringValue("coaps://bs.example.com"),
		ridSecurityBootstrap: BoolValue(true),
		ridSecurityOSCORE:    ObjlnkValue(Objlnk{ObjectID: lwm2mObjectIDOSCORE, InstanceID: 1}),
	})
	reg.Register(sec)

	reg.Register(NewServerObject(101, DefaultLifetime))
	reg.Register(NewDeviceObject("acme", "widget", "sn1", "1.0", nil))

	oscore := NewOSCOREObject(0, []byte("secret-0"), []byte("salt-0"))
	oscore.CreateInstance(1, map[uint16]Value{
		ridOSCOREMasterSecret: BytesValue([]byte("secret-1")),
		ridOSCOREMasterSalt:   BytesValue([]byte("salt-1")),
	})
	reg.Register(oscore)
	return reg
}

func TestBuildBootstrapRequestTargetsBsPath(t *testing.T) {
	msg := BuildBootstrapRequest([]byte{1}, 5, "node-1")
	assert.Equal(t, []string{"bs"}, msg.UriPathSegments())
	assert.Contains(t, msg.UriQuery(), "ep=node-1")
}

func TestBootstrapDeleteRootPreservesOnlyBootstrapSecurityInstance(t *testing.T) {
	reg := testBootstrapRegistry()
	require.NoError(t, BootstrapDelete(reg, RootPath()))

	secObj, _ := reg.Lookup(lwm2mObjectIDSecurity)
	assert.Equal(t, []uint16{1}, secObj.InstanceIDs(), "only the Bootstrap-Server Security Instance survives")
	bs, err := secObj.Read(1, ridSecurityBootstrap, 0)
	require.NoError(t, err)
	assert.True(t, bs.Bool)

	oscoreObj, _ := reg.Lookup(lwm2mObjectIDOSCORE)
	assert.Equal(t, []uint16{1}, oscoreObj.InstanceIDs(), "only the OSCORE Instance referenced by the surviving Security Instance survives")

	devObj, _ := reg.Lookup(lwm2mObjectIDDevice)
	assert.NotEmpty(t, devObj.InstanceIDs(), "Device instance must survive a root Bootstrap-Delete")

	srvObj, _ := reg.Lookup(lwm2mObjectIDServer)
	assert.Empty(t, srvObj.InstanceIDs(), "Server instance is not preserved")
}

func TestBootstrapDeleteSpecificInstanceBypassesPreservation(t *testing.T) {
	reg := testBootstrapRegistry()
	require.NoError(t, BootstrapDelete(reg, InstancePath(lwm2mObjectIDDevice, 0)))

	devObj, _ := reg.Lookup(lwm2mObjectIDDevice)
	assert.Empty(t, devObj.InstanceIDs(), "an explicit Instance-path Delete is honored even on a normally-preserved Object")
}

func TestBootstrapWriteCreatesMissingInstanceThenStages(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewServerObject(1, DefaultLifetime))

	err := BootstrapWrite(reg, InstancePath(lwm2mObjectIDServer, 2), []Node{
		{Path: ResourcePath(lwm2mObjectIDServer, 2, ridServerLifetime), Value: IntValue(120)},
	})
	require.NoError(t, err)

	obj, _ := reg.Lookup(lwm2mObjectIDServer)
	assert.ElementsMatch(t, []uint16{0, 2}, obj.InstanceIDs())

	v, err := obj.Read(2, ridServerLifetime, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(120), v.Int)
}

func TestBootstrapWriteUnknownObjectIsNotFound(t *testing.T) {
	reg := NewRegistry()
	err := BootstrapWrite(reg, InstancePath(9999, 0), []Node{{Path: ResourcePath(9999, 0, 1), Value: IntValue(1)}})
	require.Error(t, err)
	assert.Equal(t, KindNotFound, AsOpError(err).Kind)
}

func TestBootstrapDiscoverListsRootAndInstanceLinks(t *testing.T) {
	reg := testBootstrapRegistry()
	body := string(BootstrapDiscover(reg))

	assert.Contains(t, body, "</>;lwm2m=1.2")
	assert.Contains(t, body, `</0/0>;ssid=101;uri="coaps://server_1.example.com"`)
	assert.Contains(t, body, "</0/1>,") // the Bootstrap-Server Instance itself carries no ssid/uri
	assert.Contains(t, body, "</1/0>;ssid=101")
	assert.Contains(t, body, "</3/0>,")
	assert.Contains(t, body, "</21/0>;ssid=101") // referenced by Security Instance 0
	assert.Contains(t, body, "</21/1>") // referenced only by the Bootstrap-Server Instance, which carries no ssid
}
