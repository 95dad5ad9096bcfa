package lwm2m

import (
	"sort"
	"strconv"
	"strings"
)

// instanceRecord holds one Object Instance's resource values, keyed by
// RID then RIID (RIID 0 for single-instance resources).
type instanceRecord struct {
	values map[uint16]map[uint16]Value
}

func newInstanceRecord() *instanceRecord {
	return &instanceRecord{values: map[uint16]map[uint16]Value{}}
}

func cloneInstanceRecord(rec *instanceRecord) *instanceRecord {
	clone := newInstanceRecord()
	for rid, riids := range rec.values {
		m := make(map[uint16]Value, len(riids))
		for riid, v := range riids {
			m[riid] = v
		}
		clone.values[rid] = m
	}
	return clone
}

// txnSnapshot is a shadow copy of every Instance SimpleObject holds at
// Begin, mutated in place by StageWrite/StageClear and only swapped into
// the live instances map on Commit -- this is what makes C6 atomicity
// real for a SimpleObject instead of a direct-write passthrough.
type txnSnapshot struct {
	instances map[uint16]*instanceRecord
	order     []uint16
}

func cloneInstances(instances map[uint16]*instanceRecord, order []uint16) *txnSnapshot {
	snap := &txnSnapshot{
		instances: make(map[uint16]*instanceRecord, len(instances)),
		order:     append([]uint16(nil), order...),
	}
	for iid, rec := range instances {
		snap.instances[iid] = cloneInstanceRecord(rec)
	}
	return snap
}

// SimpleObject is a reference Object implementation backed by an
// in-memory map, sufficient for every standard Object this core ships
// (Security, Server, Device) and for IPSO sensor Objects. A server- or
// file-backed Object would implement the same Object interface directly
// instead of through this helper. It also implements Transactional
// (C6): Begin snapshots the current instances, every StageWrite/StageClear
// mutates only the snapshot, and Commit swaps it in -- Rollback (or a
// Transaction never reaching Commit) just discards it.
type SimpleObject struct {
	def       *ObjectDef
	instances map[uint16]*instanceRecord
	order     []uint16
	onExecute func(iid, rid uint16, args []byte) error

	pending map[TxnHandle]*txnSnapshot
	txnSeq  uint64
}

func NewSimpleObject(def *ObjectDef) *SimpleObject {
	return &SimpleObject{def: def, instances: map[uint16]*instanceRecord{}, pending: map[TxnHandle]*txnSnapshot{}}
}

func (o *SimpleObject) Definition() *ObjectDef { return o.def }

func (o *SimpleObject) InstanceIDs() []uint16 {
	ids := append([]uint16(nil), o.order...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (o *SimpleObject) ResourceInstanceIDs(iid, rid uint16) ([]uint16, error) {
	inst, ok := o.instances[iid]
	if !ok {
		return nil, NewOpError(KindNotFound, nil)
	}
	riids := make([]uint16, 0, len(inst.values[rid]))
	for riid := range inst.values[rid] {
		riids = append(riids, riid)
	}
	sort.Slice(riids, func(i, j int) bool { return riids[i] < riids[j] })
	return riids, nil
}

func (o *SimpleObject) Read(iid, rid, riid uint16) (Value, error) {
	inst, ok := o.instances[iid]
	if !ok {
		return Value{}, NewOpError(KindNotFound, nil)
	}
	v, ok := inst.values[rid][riid]
	if !ok {
		return Value{}, NewOpError(KindNotFound, nil)
	}
	return v, nil
}

func (o *SimpleObject) Write(iid, rid, riid uint16, v Value) error {
	inst, ok := o.instances[iid]
	if !ok {
		return NewOpError(KindNotFound, nil)
	}
	def, ok := o.def.Resource(rid)
	if !ok || !def.Ops.Has(OpWrite) {
		return NewOpError(KindMethodNotAllowed, nil)
	}
	coerced, err := coerceWriteValue(def, v)
	if err != nil {
		return err
	}
	if inst.values[rid] == nil {
		inst.values[rid] = map[uint16]Value{}
	}
	inst.values[rid][riid] = coerced
	return nil
}

// ClearResource drops the Resource Instances under rid that keep doesn't
// name; an empty/nil keep drops the whole Resource. Used directly (this
// path, not StageClear) only if some future Object wraps SimpleObject
// without going through the Transaction's Transactional branch.
func (o *SimpleObject) ClearResource(iid, rid uint16, keep map[uint16]bool) error {
	inst, ok := o.instances[iid]
	if !ok {
		return NewOpError(KindNotFound, nil)
	}
	clearResourceInstances(inst, rid, keep)
	return nil
}

func clearResourceInstances(inst *instanceRecord, rid uint16, keep map[uint16]bool) {
	if len(keep) == 0 {
		delete(inst.values, rid)
		return
	}
	for riid := range inst.values[rid] {
		if !keep[riid] {
			delete(inst.values[rid], riid)
		}
	}
}

func (o *SimpleObject) Execute(iid, rid uint16, args []byte) error {
	if o.onExecute == nil {
		return NewOpError(KindMethodNotAllowed, nil)
	}
	return o.onExecute(iid, rid, args)
}

func (o *SimpleObject) CreateInstance(iid uint16, initial map[uint16]Value) error {
	if _, exists := o.instances[iid]; exists {
		return NewOpError(KindBadRequest, nil)
	}
	rec := newInstanceRecord()
	for rid, v := range initial {
		rec.values[rid] = map[uint16]Value{0: v}
	}
	o.instances[iid] = rec
	o.order = append(o.order, iid)
	return nil
}

func (o *SimpleObject) DeleteInstance(iid uint16) error {
	if _, ok := o.instances[iid]; !ok {
		return NewOpError(KindNotFound, nil)
	}
	delete(o.instances, iid)
	for i, id := range o.order {
		if id == iid {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	return nil
}

// Begin snapshots the current Instance set into a new shadow copy and
// returns the handle the rest of this transaction's calls address it by.
func (o *SimpleObject) Begin() (TxnHandle, error) {
	o.txnSeq++
	h := TxnHandle(o.txnSeq)
	o.pending[h] = cloneInstances(o.instances, o.order)
	return h, nil
}

func (o *SimpleObject) snapshot(tx TxnHandle) (*txnSnapshot, error) {
	snap, ok := o.pending[tx]
	if !ok {
		return nil, NewOpError(KindInternalServerError, nil)
	}
	return snap, nil
}

func (o *SimpleObject) StageWrite(tx TxnHandle, iid, rid, riid uint16, v Value) error {
	snap, err := o.snapshot(tx)
	if err != nil {
		return err
	}
	inst, ok := snap.instances[iid]
	if !ok {
		return NewOpError(KindNotFound, nil)
	}
	def, ok := o.def.Resource(rid)
	if !ok || !def.Ops.Has(OpWrite) {
		return NewOpError(KindMethodNotAllowed, nil)
	}
	coerced, err := coerceWriteValue(def, v)
	if err != nil {
		return err
	}
	if inst.values[rid] == nil {
		inst.values[rid] = map[uint16]Value{}
	}
	inst.values[rid][riid] = coerced
	return nil
}

func (o *SimpleObject) StageClear(tx TxnHandle, iid, rid uint16, keep map[uint16]bool) error {
	snap, err := o.snapshot(tx)
	if err != nil {
		return err
	}
	inst, ok := snap.instances[iid]
	if !ok {
		return NewOpError(KindNotFound, nil)
	}
	clearResourceInstances(inst, rid, keep)
	return nil
}

// Validate has nothing beyond per-write checks (already enforced by
// StageWrite/StageClear) to confirm, so it always succeeds; it exists so
// a future Object with cross-resource consistency rules has somewhere to
// put them without changing the Transactional contract.
func (o *SimpleObject) Validate(tx TxnHandle) error {
	_, err := o.snapshot(tx)
	return err
}

// Commit swaps the shadow snapshot in as the live Instance set and
// discards the pending entry.
func (o *SimpleObject) Commit(tx TxnHandle) error {
	snap, err := o.snapshot(tx)
	if err != nil {
		return err
	}
	o.instances = snap.instances
	o.order = snap.order
	delete(o.pending, tx)
	return nil
}

// Rollback discards the shadow snapshot without ever touching the live
// Instance set, leaving it exactly as it was before Begin.
func (o *SimpleObject) Rollback(tx TxnHandle) {
	delete(o.pending, tx)
}

// setDirect is a construction-time convenience for seeding an Instance's
// resources without going through the Write-ops check, used by the
// NewXxxObject constructors below.
func (o *SimpleObject) setDirect(iid, rid uint16, v Value) {
	rec, ok := o.instances[iid]
	if !ok {
		rec = newInstanceRecord()
		o.instances[iid] = rec
		o.order = append(o.order, iid)
	}
	if rec.values[rid] == nil {
		rec.values[rid] = map[uint16]Value{}
	}
	rec.values[rid][0] = v
}

// NewSecurityObject returns the Security Object (0) pre-seeded with one
// Instance describing the device management (or bootstrap) server this
// client talks to.
func NewSecurityObject(serverURI string, isBootstrap bool, shortServerID uint16, identity, secretKey []byte) *SimpleObject {
	def := &ObjectDef{
		OID: lwm2mObjectIDSecurity, Name: "Security", Multiple: true, Mandatory: true,
		Resources: []ResourceDef{
			{RID: ridSecurityURI, Name: "LWM2MServerURI", Ops: OpRead, Type: KindString},
			{RID: ridSecurityBootstrap, Name: "BootstrapServer", Ops: OpRead, Type: KindBool},
			{RID: ridSecurityMode, Name: "SecurityMode", Ops: OpRead, Type: KindInt},
			{RID: ridSecurityPublicKey, Name: "PublicKeyOrIdentity", Ops: OpRead, Type: KindBytes},
			{RID: ridSecurityServerKey, Name: "ServerPublicKey", Ops: OpRead, Type: KindBytes},
			{RID: ridSecuritySecretKey, Name: "SecretKey", Ops: OpRead, Type: KindBytes},
			{RID: ridSecurityShortServerID, Name: "ShortServerID", Ops: OpRead, Type: KindInt},
			{RID: ridSecurityOSCORE, Name: "OSCORESecurityMode", Ops: OpRead, Type: KindObjlnk},
		},
	}
	o := NewSimpleObject(def)
	o.setDirect(0, ridSecurityURI, StringValue(serverURI))
	o.setDirect(0, ridSecurityBootstrap, BoolValue(isBootstrap))
	o.setDirect(0, ridSecurityMode, IntValue(0)) // 0 = PSK, per OMA security mode enumeration
	o.setDirect(0, ridSecurityPublicKey, BytesValue(identity))
	o.setDirect(0, ridSecuritySecretKey, BytesValue(secretKey))
	o.setDirect(0, ridSecurityShortServerID, IntValue(int64(shortServerID)))
	return o
}

// NewServerObject returns the Server Object (1) pre-seeded with one
// Instance carrying the registration lifetime and binding mode.
func NewServerObject(shortServerID uint16, lifetime int) *SimpleObject {
	def := &ObjectDef{
		OID: lwm2mObjectIDServer, Name: "Server", Multiple: true, Mandatory: true,
		Resources: []ResourceDef{
			{RID: ridServerShortID, Name: "ShortServerID", Ops: OpRead, Type: KindInt},
			{RID: ridServerLifetime, Name: "Lifetime", Ops: OpRead | OpWrite, Type: KindInt},
			{RID: ridServerBinding, Name: "Binding", Ops: OpRead | OpWrite, Type: KindString},
		},
	}
	o := NewSimpleObject(def)
	o.setDirect(0, ridServerShortID, IntValue(int64(shortServerID)))
	o.setDirect(0, ridServerLifetime, IntValue(int64(lifetime)))
	o.setDirect(0, ridServerBinding, StringValue(DefaultBindingMode))
	return o
}

// NewDeviceObject returns the Device Object (3), with Reboot wired to
// onReboot.
func NewDeviceObject(manufacturer, model, serial, firmware string, onReboot func() error) *SimpleObject {
	def := &ObjectDef{
		OID: lwm2mObjectIDDevice, Name: "Device", Multiple: false, Mandatory: true,
		Resources: []ResourceDef{
			{RID: ridDeviceManufacturer, Name: "Manufacturer", Ops: OpRead, Type: KindString},
			{RID: ridDeviceModelNumber, Name: "ModelNumber", Ops: OpRead, Type: KindString},
			{RID: ridDeviceSerialNumber, Name: "SerialNumber", Ops: OpRead, Type: KindString},
			{RID: ridDeviceFirmware, Name: "FirmwareVersion", Ops: OpRead, Type: KindString},
			{RID: ridDeviceReboot, Name: "Reboot", Ops: OpExecute, Type: KindNull},
			{RID: ridDeviceErrorCode, Name: "ErrorCode", Multiple: true, Ops: OpRead, Type: KindInt},
			{RID: ridDeviceCurrentTime, Name: "CurrentTime", Ops: OpRead | OpWrite, Type: KindTime},
			{RID: ridDeviceBindings, Name: "SupportedBindingAndModes", Ops: OpRead, Type: KindString},
		},
	}
	o := NewSimpleObject(def)
	o.setDirect(0, ridDeviceManufacturer, StringValue(manufacturer))
	o.setDirect(0, ridDeviceModelNumber, StringValue(model))
	o.setDirect(0, ridDeviceSerialNumber, StringValue(serial))
	o.setDirect(0, ridDeviceFirmware, StringValue(firmware))
	o.setDirect(0, ridDeviceErrorCode, IntValue(0))
	o.setDirect(0, ridDeviceBindings, StringValue(DefaultBindingMode))
	o.onExecute = func(iid, rid uint16, args []byte) error {
		if rid == ridDeviceReboot {
			if onReboot != nil {
				return onReboot()
			}
			return nil
		}
		return NewOpError(KindMethodNotAllowed, nil)
	}
	return o
}

// NewIPSOSensorObject returns a single-Instance IPSO Basic-Sensor Object
// (e.g. 3303 Temperature), grounded on the IPSO Basic-Sensor resource set
// (Sensor Value, Units, Min/Max Measured Value): read-only measurement plus
// a Write-capable unit string. UpdateSensorValue refreshes the measured
// value and its min/max envelope.
func NewIPSOSensorObject(oid uint16, units string, initial float64) *SimpleObject {
	def := &ObjectDef{
		OID: oid, Name: "IPSOSensor", Multiple: true,
		Resources: []ResourceDef{
			{RID: ridSensorValue, Name: "SensorValue", Ops: OpRead, Type: KindFloat},
			{RID: ridSensorUnits, Name: "SensorUnits", Ops: OpRead | OpWrite, Type: KindString},
			{RID: ridSensorMinValue, Name: "MinMeasuredValue", Ops: OpRead, Type: KindFloat},
			{RID: ridSensorMaxValue, Name: "MaxMeasuredValue", Ops: OpRead, Type: KindFloat},
		},
	}
	o := NewSimpleObject(def)
	o.setDirect(0, ridSensorValue, FloatValue(initial))
	o.setDirect(0, ridSensorUnits, StringValue(units))
	o.setDirect(0, ridSensorMinValue, FloatValue(initial))
	o.setDirect(0, ridSensorMaxValue, FloatValue(initial))
	return o
}

// UpdateSensorValue refreshes Instance 0's measured value and rolls the
// min/max envelope, the way a poller in the Client's Step loop would
// call it each tick.
func (o *SimpleObject) UpdateSensorValue(v float64) {
	o.setDirect(0, ridSensorValue, FloatValue(v))
	if min, err := o.Read(0, ridSensorMinValue, 0); err == nil && v < min.Float {
		o.setDirect(0, ridSensorMinValue, FloatValue(v))
	}
	if max, err := o.Read(0, ridSensorMaxValue, 0); err == nil && v > max.Float {
		o.setDirect(0, ridSensorMaxValue, FloatValue(v))
	}
}

// NewOSCOREObject returns the OSCORE Object (21), the channel-security
// counterpart a Security Instance's OSCORE-Security-Mode resource links
// to instead of carrying a PSK/RPK/cert directly. This core treats it the
// same opaque way it treats Security's own key material: present so
// Bootstrap-Delete/Discover can address it, not interpreted.
func NewOSCOREObject(iid uint16, masterSecret, masterSalt []byte) *SimpleObject {
	def := &ObjectDef{
		OID: lwm2mObjectIDOSCORE, Name: "OSCORE", Multiple: true, Mandatory: false,
		Resources: []ResourceDef{
			{RID: ridOSCOREMasterSecret, Name: "OSCOREMasterSecret", Ops: OpRead, Type: KindBytes},
			{RID: ridOSCOREMasterSalt, Name: "OSCOREMasterSalt", Ops: OpRead, Type: KindBytes},
		},
	}
	o := NewSimpleObject(def)
	o.setDirect(iid, ridOSCOREMasterSecret, BytesValue(masterSecret))
	o.setDirect(iid, ridOSCOREMasterSalt, BytesValue(masterSalt))
	return o
}

// coerceWriteValue enforces spec Invariant 2 (a Resource's value-type is
// fixed) against an incoming write. Plain-Text decoding always produces a
// String regardless of the target Resource's declared type (§ see
// content_plaintext.go), so a String input is parsed into the declared
// Kind rather than rejected outright; every other Kind mismatch fails the
// operation instead of silently storing the wrong type.
func coerceWriteValue(def ResourceDef, v Value) (Value, error) {
	if v.Kind == def.Type {
		return v, nil
	}
	if v.Kind != KindString {
		return Value{}, NewOpError(KindBadRequest, nil)
	}
	switch def.Type {
	case KindInt:
		n, err := asInt64(v.Str)
		if err != nil {
			return Value{}, NewOpError(KindBadRequest, err)
		}
		return IntValue(n), nil
	case KindUInt:
		n, err := strconv.ParseUint(v.Str, 10, 64)
		if err != nil {
			return Value{}, NewOpError(KindBadRequest, err)
		}
		return UIntValue(n), nil
	case KindFloat:
		f, err := asFloat64(v.Str)
		if err != nil {
			return Value{}, NewOpError(KindBadRequest, err)
		}
		return FloatValue(f), nil
	case KindBool:
		b, err := asBool(v.Str)
		if err != nil {
			return Value{}, NewOpError(KindBadRequest, err)
		}
		return BoolValue(b), nil
	case KindTime:
		n, err := asInt64(v.Str)
		if err != nil {
			return Value{}, NewOpError(KindBadRequest, err)
		}
		return TimeValue(n), nil
	case KindObjlnk:
		oidStr, iidStr, found := strings.Cut(v.Str, ":")
		if !found {
			return Value{}, NewOpError(KindBadRequest, nil)
		}
		oid, oidErr := strconv.ParseUint(oidStr, 10, 16)
		iid, iidErr := strconv.ParseUint(iidStr, 10, 16)
		if oidErr != nil || iidErr != nil {
			return Value{}, NewOpError(KindBadRequest, nil)
		}
		return ObjlnkValue(Objlnk{ObjectID: uint16(oid), InstanceID: uint16(iid)}), nil
	case KindString:
		return v, nil
	default:
		return Value{}, NewOpError(KindInternalServerError, nil)
	}
}

func asInt64(s string) (int64, error)     { return strconv.ParseInt(s, 10, 64) }
func asFloat64(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

func asBool(s string) (bool, error) {
	switch s {
	case "1", "true", "True", "TRUE":
		return true, nil
	case "0", "false", "False", "FALSE":
		return false, nil
	default:
		return strconv.ParseBool(s)
	}
}
