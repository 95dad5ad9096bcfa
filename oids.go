package lwm2m

// Standard Object IDs. OMA-TS-LightweightM2M-Core §E, OMA LwM2M Object
// registry.
const (
	lwm2mObjectIDSecurity    uint16 = 0
	lwm2mObjectIDServer      uint16 = 1
	lwm2mObjectIDAccessCtrl  uint16 = 2
	lwm2mObjectIDDevice      uint16 = 3
	lwm2mObjectIDConnMonitor uint16 = 4
	lwm2mObjectIDFirmware    uint16 = 5
	lwm2mObjectIDLocation    uint16 = 6
	lwm2mObjectIDConnStats   uint16 = 7
	lwm2mObjectIDOSCORE      uint16 = 21
)

// Security Object (0) Resource IDs.
const (
	ridSecurityURI            uint16 = 0
	ridSecurityBootstrap      uint16 = 1
	ridSecurityMode           uint16 = 2
	ridSecurityPublicKey      uint16 = 3
	ridSecurityServerKey      uint16 = 4
	ridSecuritySecretKey      uint16 = 5
	ridSecurityShortServerID  uint16 = 10
	ridSecurityOSCORE         uint16 = 17
)

// OSCORE Object (21) Resource IDs.
const (
	ridOSCOREMasterSecret uint16 = 0
	ridOSCOREMasterSalt   uint16 = 1
)

// Server Object (1) Resource IDs.
const (
	ridServerShortID  uint16 = 0
	ridServerLifetime uint16 = 1
	ridServerBinding  uint16 = 7
)

// Device Object (3) Resource IDs (the subset this core populates).
const (
	ridDeviceManufacturer uint16 = 0
	ridDeviceModelNumber  uint16 = 1
	ridDeviceSerialNumber uint16 = 2
	ridDeviceFirmware     uint16 = 3
	ridDeviceReboot       uint16 = 4
	ridDeviceErrorCode    uint16 = 11
	ridDeviceCurrentTime  uint16 = 13
	ridDeviceBindings     uint16 = 16
)

// IPSO sensor Object IDs supplied as reference implementations.
const (
	OIDIPSOGenericSensor uint16 = 3300
	OIDIPSOTemperature   uint16 = 3303
)

// IPSO Basic-Sensor Resource IDs, shared by every 33xx sensor object.
const (
	ridSensorValue    uint16 = 5700
	ridSensorUnits    uint16 = 5701
	ridSensorMinValue uint16 = 5601
	ridSensorMaxValue uint16 = 5602
)
