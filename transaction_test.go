package lwm2m

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTxnObject is a minimal Transactional Object used to exercise
// Transaction's begin/stage/validate/commit/rollback sequencing.
type fakeTxnObject struct {
	def          *ObjectDef
	committed    map[uint16]Value
	staged       map[uint16]Value
	failValidate bool
	rolledBack   bool
}

func newFakeTxnObject(oid uint16, failValidate bool) *fakeTxnObject {
	return &fakeTxnObject{
		def:          &ObjectDef{OID: oid, Resources: []ResourceDef{{RID: 1, Ops: OpRead | OpWrite, Type: KindInt}}},
		committed:    map[uint16]Value{},
		failValidate: failValidate,
	}
}

func (o *fakeTxnObject) Definition() *ObjectDef                                   { return o.def }
func (o *fakeTxnObject) InstanceIDs() []uint16                                    { return []uint16{0} }
func (o *fakeTxnObject) ResourceInstanceIDs(iid, rid uint16) ([]uint16, error)    { return nil, nil }
func (o *fakeTxnObject) Read(iid, rid, riid uint16) (Value, error)                { return o.committed[rid], nil }
func (o *fakeTxnObject) Write(iid, rid, riid uint16, v Value) error               { o.committed[rid] = v; return nil }
func (o *fakeTxnObject) Execute(iid, rid uint16, args []byte) error               { return nil }
func (o *fakeTxnObject) CreateInstance(iid uint16, initial map[uint16]Value) error { return nil }
func (o *fakeTxnObject) DeleteInstance(iid uint16) error                          { return nil }
func (o *fakeTxnObject) ClearResource(iid, rid uint16, keep map[uint16]bool) error {
	delete(o.committed, rid)
	return nil
}

func (o *fakeTxnObject) Begin() (TxnHandle, error) {
	o.staged = map[uint16]Value{}
	return TxnHandle(1), nil
}

func (o *fakeTxnObject) StageWrite(tx TxnHandle, iid, rid, riid uint16, v Value) error {
	o.staged[rid] = v
	return nil
}

func (o *fakeTxnObject) StageClear(tx TxnHandle, iid, rid uint16, keep map[uint16]bool) error {
	delete(o.staged, rid)
	return nil
}

func (o *fakeTxnObject) Validate(tx TxnHandle) error {
	if o.failValidate {
		return NewOpError(KindBadRequest, nil)
	}
	return nil
}

func (o *fakeTxnObject) Commit(tx TxnHandle) error {
	for rid, v := range o.staged {
		o.committed[rid] = v
	}
	return nil
}

func (o *fakeTxnObject) Rollback(tx TxnHandle) {
	o.rolledBack = true
	o.staged = nil
}

func TestTransactionCommitsAcrossTransactionalObject(t *testing.T) {
	reg := NewRegistry()
	obj := newFakeTxnObject(100, false)
	reg.Register(obj)

	tx := BeginTransaction(reg)
	require.NoError(t, tx.Stage(ResourcePath(100, 0, 1), IntValue(42)))
	require.NoError(t, tx.Commit())

	assert.Equal(t, IntValue(42), obj.committed[1])
	assert.False(t, obj.rolledBack)
}

func TestTransactionRollsBackOnValidateFailure(t *testing.T) {
	reg := NewRegistry()
	obj := newFakeTxnObject(100, true)
	reg.Register(obj)

	tx := BeginTransaction(reg)
	require.NoError(t, tx.Stage(ResourcePath(100, 0, 1), IntValue(1)))
	err := tx.Commit()

	require.Error(t, err)
	assert.True(t, obj.rolledBack)
	assert.Empty(t, obj.committed)
}

func TestTransactionCommitsThroughSimpleObjectShadowStaging(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewDeviceObject("m", "mdl", "sn", "1.0", nil))

	tx := BeginTransaction(reg)
	require.NoError(t, tx.Stage(ResourcePath(lwm2mObjectIDDevice, 0, ridDeviceCurrentTime), TimeValue(1700000000)))
	require.NoError(t, tx.Commit())

	v, err := reg.objects[lwm2mObjectIDDevice].Read(0, ridDeviceCurrentTime, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), v.Time)
}

// TestTransactionWriteFailureLeavesSimpleObjectUnchanged is the
// atomicity guarantee against a real (not test-double) Object: a
// multi-resource write whose second entry fails must leave the first
// entry's value exactly as it was before the write began.
func TestTransactionWriteFailureLeavesSimpleObjectUnchanged(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewServerObject(1, 300))

	tx := BeginTransaction(reg)
	require.NoError(t, tx.Stage(ResourcePath(lwm2mObjectIDServer, 0, ridServerLifetime), IntValue(120)))
	require.NoError(t, tx.Stage(ResourcePath(lwm2mObjectIDServer, 0, ridServerBinding), IntValue(5)))
	err := tx.Commit()

	require.Error(t, err)
	obj, _ := reg.Lookup(lwm2mObjectIDServer)
	v, readErr := obj.Read(0, ridServerLifetime, 0)
	require.NoError(t, readErr)
	assert.Equal(t, int64(300), v.Int, "first entry's pre-operation value must survive a later entry's failure")
}

func TestTransactionStageRejectsObjectAndRootPaths(t *testing.T) {
	reg := NewRegistry()
	tx := BeginTransaction(reg)
	assert.Error(t, tx.Stage(ObjectPath(3), IntValue(1)))
	assert.Error(t, tx.Stage(RootPath(), IntValue(1)))
}

func TestTransactionCannotBeReused(t *testing.T) {
	reg, _ := testSensorRegistry()
	tx := BeginTransaction(reg)
	require.NoError(t, tx.Commit())
	assert.Error(t, tx.Commit())
	assert.Error(t, tx.Stage(ResourcePath(OIDIPSOTemperature, 0, ridSensorUnits), StringValue("x")))
}
