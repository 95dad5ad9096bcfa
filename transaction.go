package lwm2m

import "github.com/funahara/lwm2mcore/pkg/metrics"

// WriteOp is one staged write within a transaction.
type WriteOp struct {
	Path  Path
	Value Value
}

// clearOp is one staged Write-Replace clear: every Resource Instance
// under (OID,IID,RID) not named by Keep is destroyed.
type clearOp struct {
	OID, IID, RID uint16
	Keep          map[uint16]bool
}

// Transaction coordinates begin/validate/commit/rollback across every
// Object touched by a single Write (Replace or Partial-Update),
// Write-Composite, or Bootstrap-Write; Create does not go through one.
// Objects that implement Transactional get proper
// staging; Objects that don't are written through directly on Commit and
// cannot be rolled back past their own failure (spec §4.6 partial-object
// durability note).
type Transaction struct {
	registry *Registry
	ops      []WriteOp
	clears   []clearOp
	handles  map[uint16]TxnHandle // oid -> handle, for Transactional objects
	done     bool
}

// BeginTransaction opens a new transaction against reg.
func BeginTransaction(reg *Registry) *Transaction {
	return &Transaction{registry: reg, handles: make(map[uint16]TxnHandle)}
}

// Stage records a pending write. It does not touch the Object yet; that
// happens in Commit, after every op in the transaction has been staged
// and Validate has passed on every participating Transactional Object.
func (t *Transaction) Stage(p Path, v Value) error {
	if t.done {
		return NewOpError(KindInternalServerError, nil)
	}
	if !p.IsResource() && !p.IsResInstance() && !p.IsInstance() {
		return NewOpError(KindBadRequest, nil)
	}
	t.ops = append(t.ops, WriteOp{Path: p, Value: v})
	return nil
}

// StageReplace records the Write-Replace clearing a Write to base implies:
// an Instance-level Replace clears every writable Resource not present in
// nodes (and, within a multi-instance Resource it does include, the
// Resource Instances nodes doesn't name); a Resource-level Replace on a
// multi-instance Resource clears only the Resource Instances nodes
// doesn't name. Like Stage, this only records intent -- the clear itself
// happens in Commit, against the same shadow snapshot as every other
// staged write, so it rolls back along with them.
func (t *Transaction) StageReplace(base Path, nodes []Node) error {
	if t.done {
		return NewOpError(KindInternalServerError, nil)
	}
	obj, err := t.registry.Resolve(base)
	if err != nil {
		return err
	}
	incoming := map[uint16]map[uint16]bool{}
	for _, n := range nodes {
		rid, riid := n.Path.RID(), n.Path.RIID()
		if incoming[rid] == nil {
			incoming[rid] = map[uint16]bool{}
		}
		incoming[rid][riid] = true
	}
	switch {
	case base.IsInstance():
		for _, rd := range obj.Definition().Resources {
			if !rd.Ops.Has(OpWrite) {
				continue
			}
			t.clears = append(t.clears, clearOp{OID: base.OID(), IID: base.IID(), RID: rd.RID, Keep: incoming[rd.RID]})
		}
	case base.IsResource():
		rd, ok := obj.Definition().Resource(base.RID())
		if ok && rd.Multiple {
			t.clears = append(t.clears, clearOp{OID: base.OID(), IID: base.IID(), RID: base.RID(), Keep: incoming[base.RID()]})
		}
	}
	return nil
}

// participants returns the distinct OIDs touched by this transaction, in
// order of first appearance (staged writes, then clears). Begin runs in
// this order; Validate and Commit walk the handles map, whose order is
// not fixed.
func (t *Transaction) participants() []uint16 {
	seen := map[uint16]bool{}
	var oids []uint16
	for _, op := range t.ops {
		if !seen[op.Path.OID()] {
			seen[op.Path.OID()] = true
			oids = append(oids, op.Path.OID())
		}
	}
	for _, c := range t.clears {
		if !seen[c.OID] {
			seen[c.OID] = true
			oids = append(oids, c.OID)
		}
	}
	return oids
}

// Commit begins, stages, validates, and commits against every
// Transactional participant, rolling all of them back if any step fails;
// plain (non-Transactional) Objects are written directly and are not part
// of that all-or-nothing guarantee. Returns the error of the step that
// failed, wrapped with its Kind.
func (t *Transaction) Commit() error {
	if t.done {
		return NewOpError(KindInternalServerError, nil)
	}
	t.done = true

	for _, oid := range t.participants() {
		obj, ok := t.registry.Lookup(oid)
		if !ok {
			t.rollbackAll()
			return NewOpError(KindNotFound, nil)
		}
		if tx, ok := obj.(Transactional); ok {
			h, err := tx.Begin()
			if err != nil {
				t.rollbackAll()
				return NewOpError(KindInternalServerError, err)
			}
			t.handles[oid] = h
		}
	}

	for _, c := range t.clears {
		obj, _ := t.registry.Lookup(c.OID)
		if tx, ok := obj.(Transactional); ok {
			h := t.handles[c.OID]
			if err := tx.StageClear(h, c.IID, c.RID, c.Keep); err != nil {
				t.rollbackAll()
				metrics.TransactionRollbacks.Inc()
				return err
			}
		}
	}

	for _, op := range t.ops {
		obj, _ := t.registry.Lookup(op.Path.OID())
		if tx, ok := obj.(Transactional); ok {
			h := t.handles[op.Path.OID()]
			iid, rid, riid := addressOf(op.Path)
			if err := tx.StageWrite(h, iid, rid, riid, op.Value); err != nil {
				t.rollbackAll()
				metrics.TransactionRollbacks.Inc()
				return err
			}
		}
	}

	for oid, h := range t.handles {
		obj, _ := t.registry.Lookup(oid)
		tx := obj.(Transactional)
		if err := tx.Validate(h); err != nil {
			t.rollbackAll()
			metrics.TransactionRollbacks.Inc()
			return err
		}
	}

	for _, c := range t.clears {
		obj, _ := t.registry.Lookup(c.OID)
		if _, ok := obj.(Transactional); ok {
			continue
		}
		if err := obj.ClearResource(c.IID, c.RID, c.Keep); err != nil {
			t.rollbackAll()
			metrics.TransactionRollbacks.Inc()
			return err
		}
	}

	for _, op := range t.ops {
		obj, _ := t.registry.Lookup(op.Path.OID())
		if _, ok := obj.(Transactional); ok {
			continue
		}
		iid, rid, riid := addressOf(op.Path)
		if err := obj.Write(iid, rid, riid, op.Value); err != nil {
			t.rollbackAll()
			metrics.TransactionRollbacks.Inc()
			return err
		}
	}

	for oid, h := range t.handles {
		obj, _ := t.registry.Lookup(oid)
		obj.(Transactional).Commit(h)
	}
	return nil
}

func (t *Transaction) rollbackAll() {
	for oid, h := range t.handles {
		obj, ok := t.registry.Lookup(oid)
		if !ok {
			continue
		}
		if tx, ok := obj.(Transactional); ok {
			tx.Rollback(h)
		}
	}
}

func addressOf(p Path) (iid, rid, riid uint16) {
	if p.Depth() >= 2 {
		iid = p.IID()
	}
	if p.Depth() >= 3 {
		rid = p.RID()
	}
	if p.Depth() >= 4 {
		riid = p.RIID()
	}
	return
}
