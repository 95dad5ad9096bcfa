package lwm2m

import "sort"

// Operations a Resource supports. RFC/OMA TS §5.4.1 object definition
// ACL-less access model: the core does not enforce ACLs, only whether an
// operation is defined at all.
type ResourceOps byte

const (
	OpRead ResourceOps = 1 << iota
	OpWrite
	OpExecute
)

func (o ResourceOps) Has(op ResourceOps) bool { return o&op != 0 }

// ResourceDef describes one Resource's shape within an Object definition:
// cardinality (single/multiple instance), mandatory/optional, and which
// operations apply.
type ResourceDef struct {
	RID        uint16
	Name       string
	Multiple   bool
	Mandatory  bool
	Ops        ResourceOps
	Type       ValueKind
}

// ObjectDef is the static shape of an Object: its identity and the shape
// of every Resource it may carry. Handler behavior is supplied separately
// by an Object implementation.
type ObjectDef struct {
	OID         uint16
	Name        string
	Multiple    bool // object itself may have >1 instance
	Mandatory   bool
	Resources   []ResourceDef
}

func (d *ObjectDef) Resource(rid uint16) (ResourceDef, bool) {
	for _, r := range d.Resources {
		if r.RID == rid {
			return r, true
		}
	}
	return ResourceDef{}, false
}

// Object is the capability set a component must implement to participate
// in the data model registry (C5). It replaces the original vtable /
// container-of dispatch with Go interface polymorphism.
type Object interface {
	Definition() *ObjectDef

	// InstanceIDs returns the currently present instance ids, ascending.
	InstanceIDs() []uint16

	// ResourceInstanceIDs returns the populated resource-instance ids for
	// a multiple-instance resource, ascending. Single-instance resources
	// are addressed directly and never call this.
	ResourceInstanceIDs(iid, rid uint16) ([]uint16, error)

	Read(iid, rid, riid uint16) (Value, error)
	Write(iid, rid, riid uint16, v Value) error
	Execute(iid, rid uint16, args []byte) error

	// ClearResource drops every Resource Instance under rid within iid
	// that isn't a key of keep (a nil/empty keep clears the whole
	// Resource). Write-Replace uses this to implement the lifecycle rule
	// that Resource-Instances and Resources absent from a Replace payload
	// are destroyed, not merely left untouched as a Partial-Update would.
	ClearResource(iid, rid uint16, keep map[uint16]bool) error

	CreateInstance(iid uint16, initial map[uint16]Value) error
	DeleteInstance(iid uint16) error
}

// Transactional is implemented by Objects that need explicit staging for
// atomic multi-resource writes (C6). Objects that don't implement it are
// written through directly, with no rollback possible beyond the single
// call that failed.
type Transactional interface {
	Begin() (TxnHandle, error)
	StageWrite(tx TxnHandle, iid, rid, riid uint16, v Value) error
	// StageClear is StageWrite's counterpart for replace-semantics
	// clearing: it is applied against the same shadow snapshot, so it
	// rolls back with everything else if the transaction fails later.
	StageClear(tx TxnHandle, iid, rid uint16, keep map[uint16]bool) error
	Validate(tx TxnHandle) error
	Commit(tx TxnHandle) error
	Rollback(tx TxnHandle)
}

// TxnHandle opaquely identifies one in-flight staged transaction.
type TxnHandle uint64

// Registry is the C5 data model: every Object known to this client,
// keyed by OID, with deterministic ascending iteration for Discover and
// Register payload generation.
type Registry struct {
	objects map[uint16]Object
}

func NewRegistry() *Registry {
	return &Registry{objects: make(map[uint16]Object)}
}

// Register adds or replaces the Object implementation for oid.
func (r *Registry) Register(obj Object) {
	r.objects[obj.Definition().OID] = obj
}

// Unregister removes the Object for oid, if present.
func (r *Registry) Unregister(oid uint16) {
	delete(r.objects, oid)
}

func (r *Registry) Lookup(oid uint16) (Object, bool) {
	o, ok := r.objects[oid]
	return o, ok
}

// OIDs returns every registered Object ID, ascending.
func (r *Registry) OIDs() []uint16 {
	ids := make([]uint16, 0, len(r.objects))
	for oid := range r.objects {
		ids = append(ids, oid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Resolve maps a Path to its Object, returning NotFound if the Object (or,
// for deeper paths, the addressed Instance/Resource) doesn't exist.
func (r *Registry) Resolve(p Path) (Object, error) {
	if p.IsRoot() {
		return nil, NewOpError(KindBadRequest, nil)
	}
	obj, ok := r.Lookup(p.OID())
	if !ok {
		return nil, NewOpError(KindNotFound, nil)
	}
	if p.Depth() >= 2 {
		if !containsID(obj.InstanceIDs(), p.IID()) {
			return nil, NewOpError(KindNotFound, nil)
		}
	}
	if p.Depth() >= 3 {
		if _, ok := obj.Definition().Resource(p.RID()); !ok {
			return nil, NewOpError(KindNotFound, nil)
		}
	}
	return obj, nil
}

func containsID(ids []uint16, id uint16) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
