package lwm2m

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSensorRegistry() (*Registry, *SimpleObject) {
	reg := NewRegistry()
	sensor := NewIPSOSensorObject(OIDIPSOTemperature, "Cel", 21.5)
	reg.Register(sensor)
	return reg, sensor
}

func TestRegistryOIDsAreSortedAscending(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewDeviceObject("m", "mdl", "sn", "1.0", nil))
	reg.Register(NewServerObject(1, DefaultLifetime))
	reg.Register(NewSecurityObject("coap://x", false, 1, nil, nil))

	assert.Equal(t, []uint16{lwm2mObjectIDSecurity, lwm2mObjectIDServer, lwm2mObjectIDDevice}, reg.OIDs())
}

func TestRegistryResolveMissingObject(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Resolve(ObjectPath(3303))
	require.Error(t, err)
	assert.Equal(t, KindNotFound, AsOpError(err).Kind)
}

func TestRegistryResolveMissingInstance(t *testing.T) {
	reg, _ := testSensorRegistry()
	_, err := reg.Resolve(InstancePath(OIDIPSOTemperature, 5))
	require.Error(t, err)
	assert.Equal(t, KindNotFound, AsOpError(err).Kind)
}

func TestRegistryResolveMissingResource(t *testing.T) {
	reg, _ := testSensorRegistry()
	_, err := reg.Resolve(ResourcePath(OIDIPSOTemperature, 0, 9999))
	require.Error(t, err)
	assert.Equal(t, KindNotFound, AsOpError(err).Kind)
}

func TestRegistryResolveRootIsBadRequest(t *testing.T) {
	reg, _ := testSensorRegistry()
	_, err := reg.Resolve(RootPath())
	require.Error(t, err)
	assert.Equal(t, KindBadRequest, AsOpError(err).Kind)
}

func TestSimpleObjectCreateDeleteInstance(t *testing.T) {
	reg, _ := testSensorRegistry()
	obj, _ := reg.Lookup(OIDIPSOTemperature)

	err := obj.CreateInstance(1, map[uint16]Value{ridSensorValue: FloatValue(10)})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint16{0, 1}, obj.InstanceIDs())

	v, err := obj.Read(1, ridSensorValue, 0)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v.Float)

	require.NoError(t, obj.DeleteInstance(1))
	assert.ElementsMatch(t, []uint16{0}, obj.InstanceIDs())
}

func TestSimpleObjectWriteRejectsReadOnlyResource(t *testing.T) {
	reg, _ := testSensorRegistry()
	obj, _ := reg.Lookup(OIDIPSOTemperature)
	err := obj.Write(0, ridSensorValue, 0, FloatValue(1))
	require.Error(t, err)
	assert.Equal(t, KindMethodNotAllowed, AsOpError(err).Kind)
}

func TestSimpleObjectWriteCoercesStringToDeclaredKind(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewServerObject(1, 300))
	obj, _ := reg.Lookup(lwm2mObjectIDServer)

	require.NoError(t, obj.Write(0, ridServerLifetime, 0, StringValue("120")))
	v, err := obj.Read(0, ridServerLifetime, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(120), v.Int)
}

func TestSimpleObjectWriteRejectsIncompatibleKind(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewServerObject(1, 300))
	obj, _ := reg.Lookup(lwm2mObjectIDServer)

	err := obj.Write(0, ridServerLifetime, 0, BoolValue(true))
	require.Error(t, err)
	assert.Equal(t, KindBadRequest, AsOpError(err).Kind)

	v, readErr := obj.Read(0, ridServerLifetime, 0)
	require.NoError(t, readErr)
	assert.Equal(t, int64(300), v.Int, "rejected write must not overwrite the prior value")
}

func TestUpdateSensorValueRollsMinMax(t *testing.T) {
	_, sensor := testSensorRegistry()
	sensor.UpdateSensorValue(5)
	sensor.UpdateSensorValue(30)

	min, _ := sensor.Read(0, ridSensorMinValue, 0)
	max, _ := sensor.Read(0, ridSensorMaxValue, 0)
	assert.Equal(t, 5.0, min.Float)
	assert.Equal(t, 30.0, max.Float)
}
