package lwm2m

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClientConfig() *ClientConfig {
	return &ClientConfig{
		RootPath:           "/tmp/lwm2m-test",
		EndpointClientName: "test-node",
		Lifetime:           3600,
	}
}

func TestNewClientStartsUnregisteredAndStepRegisters(t *testing.T) {
	reg, _ := testSensorRegistry()
	c := NewClient(testClientConfig(), reg)
	assert.Equal(t, StateUnregistered, c.state)

	out := c.Step(time.Now(), nil)
	require.Len(t, out, 1)
	assert.Equal(t, StateRegistering, c.state)

	msg, err := ParseMessage(out[0])
	require.NoError(t, err)
	assert.Equal(t, CoapCodePost, msg.Code)
	assert.Equal(t, []string{"rd"}, msg.UriPathSegments())
}

func TestClientCompletesRegistrationOnAck(t *testing.T) {
	reg, _ := testSensorRegistry()
	c := NewClient(testClientConfig(), reg)
	now := time.Now()

	out := c.Step(now, nil)
	require.Len(t, out, 1)
	req, err := ParseMessage(out[0])
	require.NoError(t, err)

	ack := &Message{
		Type:      CoapTypeAcknowledgement,
		Code:      CoapCodeCreated,
		MessageID: req.MessageID,
		Token:     req.Token,
		Options:   []CoapOption{OptStr(OptLocationPath, "rd"), OptStr(OptLocationPath, "abc123")},
	}
	c.Step(now, ack.Encode())

	assert.Equal(t, StateRegistered, c.state)
	assert.Equal(t, "/rd/abc123", c.location)
}

func TestClientRevertsToUnregisteredOnRejectedRegistration(t *testing.T) {
	reg, _ := testSensorRegistry()
	c := NewClient(testClientConfig(), reg)
	now := time.Now()

	out := c.Step(now, nil)
	req, err := ParseMessage(out[0])
	require.NoError(t, err)

	ack := &Message{
		Type:      CoapTypeAcknowledgement,
		Code:      CoapCodeBadRequest,
		MessageID: req.MessageID,
		Token:     req.Token,
	}
	c.Step(now, ack.Encode())
	assert.Equal(t, StateUnregistered, c.state)
}

func TestClientDeregisterOnlyWhenRegistered(t *testing.T) {
	reg, _ := testSensorRegistry()
	c := NewClient(testClientConfig(), reg)
	assert.Nil(t, c.Deregister(), "not registered yet, nothing to deregister")

	c.state = StateRegistered
	c.location = "/rd/abc123"
	raw := c.Deregister()
	require.NotNil(t, raw)
	msg, err := ParseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, CoapCodeDelete, msg.Code)
	assert.Equal(t, StateDeregistering, c.state)
}

func TestClientHandleInboundReadRequest(t *testing.T) {
	reg, _ := testSensorRegistry()
	c := NewClient(testClientConfig(), reg)

	req := &Message{
		Type:      CoapTypeConfirmable,
		Code:      CoapCodeGet,
		MessageID: 99,
		Token:     []byte{0x01},
		Options: []CoapOption{
			OptStr(OptUriPath, itoa(OIDIPSOTemperature)),
			OptStr(OptUriPath, "0"),
			OptStr(OptUriPath, itoa(ridSensorValue)),
		},
	}
	out := c.Step(time.Now(), req.Encode())
	require.NotEmpty(t, out)

	resp, err := ParseMessage(out[0])
	require.NoError(t, err)
	assert.Equal(t, CoapCodeContent, resp.Code)
	assert.Equal(t, "21.5", string(resp.Payload))
}

func TestClientPersistRestoreRoundTrip(t *testing.T) {
	reg, _ := testSensorRegistry()
	c := NewClient(testClientConfig(), reg)
	c.state = StateRegistered
	c.location = "/rd/xyz789"
	c.registeredAt = time.Unix(1700000000, 0)

	data := c.Persist()

	c2 := NewClient(testClientConfig(), reg)
	require.NoError(t, c2.Restore(data))
	assert.Equal(t, StateRegistered, c2.state)
	assert.Equal(t, "/rd/xyz789", c2.location)
	assert.Equal(t, int64(1700000000), c2.registeredAt.Unix())
}

func TestClientRestoreRejectsBadMagic(t *testing.T) {
	reg, _ := testSensorRegistry()
	c := NewClient(testClientConfig(), reg)
	err := c.Restore([]byte("not-a-valid-snapshot"))
	require.Error(t, err)
	assert.Equal(t, KindBadRequest, AsOpError(err).Kind)
}

func TestClientRestoreRejectsUnknownVersion(t *testing.T) {
	reg, _ := testSensorRegistry()
	c := NewClient(testClientConfig(), reg)
	other := NewClient(testClientConfig(), reg)
	other.state = StateRegistered
	data := other.Persist()
	data[4] = 0xFF // corrupt the version field
	err := c.Restore(data)
	require.Error(t, err)
	assert.Equal(t, KindNotImplemented, AsOpError(err).Kind)
}

func TestClientSendEncodesSenMLCBORToDpPath(t *testing.T) {
	reg, _ := testSensorRegistry()
	c := NewClient(testClientConfig(), reg)
	raw, err := c.Send([]Path{ResourcePath(OIDIPSOTemperature, 0, ridSensorValue)}, time.Now())
	require.NoError(t, err)

	msg, err := ParseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"dp"}, msg.UriPathSegments())
	assert.Equal(t, CoapCodePost, msg.Code)
}
