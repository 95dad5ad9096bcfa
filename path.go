package lwm2m

import (
	"strconv"
	"strings"
)

// InvalidID is the reserved, never-valid OID/IID/RID/RIID (65535).
const InvalidID uint16 = 65535

// Path is a typed LwM2M path: Root, Object, Instance, Resource or
// Resource-Instance depth, addressing (OID[/IID[/RID[/RIID]]]).
type Path struct {
	ids   [4]uint16
	depth int // 0..4
}

// RootPath is "/".
func RootPath() Path { return Path{} }

// ObjectPath addresses an Object.
func ObjectPath(oid uint16) Path { return Path{ids: [4]uint16{oid}, depth: 1} }

// InstancePath addresses an Object Instance.
func InstancePath(oid, iid uint16) Path { return Path{ids: [4]uint16{oid, iid}, depth: 2} }

// ResourcePath addresses a Resource.
func ResourcePath(oid, iid, rid uint16) Path {
	return Path{ids: [4]uint16{oid, iid, rid}, depth: 3}
}

// ResourceInstancePath addresses a Resource Instance.
func ResourceInstancePath(oid, iid, rid, riid uint16) Path {
	return Path{ids: [4]uint16{oid, iid, rid, riid}, depth: 4}
}

// Depth is 0 (root) through 4 (resource instance).
func (p Path) Depth() int { return p.depth }

func (p Path) IsRoot() bool       { return p.depth == 0 }
func (p Path) IsObject() bool     { return p.depth == 1 }
func (p Path) IsInstance() bool   { return p.depth == 2 }
func (p Path) IsResource() bool   { return p.depth == 3 }
func (p Path) IsResInstance() bool { return p.depth == 4 }

func (p Path) OID() uint16  { return p.ids[0] }
func (p Path) IID() uint16  { return p.ids[1] }
func (p Path) RID() uint16  { return p.ids[2] }
func (p Path) RIID() uint16 { return p.ids[3] }

// Equal reports whether p and other address the same node.
func (p Path) Equal(other Path) bool {
	if p.depth != other.depth {
		return false
	}
	for i := 0; i < p.depth; i++ {
		if p.ids[i] != other.ids[i] {
			return false
		}
	}
	return true
}

// IsPrefixOf reports whether p is an ancestor of (or equal to) other.
func (p Path) IsPrefixOf(other Path) bool {
	if p.depth > other.depth {
		return false
	}
	for i := 0; i < p.depth; i++ {
		if p.ids[i] != other.ids[i] {
			return false
		}
	}
	return true
}

// Less gives a total order: numeric comparison of shared ids, then by
// depth. A prefix always sorts before its descendants.
func (p Path) Less(other Path) bool {
	n := p.depth
	if other.depth < n {
		n = other.depth
	}
	for i := 0; i < n; i++ {
		if p.ids[i] != other.ids[i] {
			return p.ids[i] < other.ids[i]
		}
	}
	return p.depth < other.depth
}

// Child returns the path one level deeper, addressing id at the next slot.
// Panics if p is already at resource-instance depth.
func (p Path) Child(id uint16) Path {
	if p.depth >= 4 {
		panic("lwm2m: path already at resource-instance depth")
	}
	next := p
	next.ids[next.depth] = id
	next.depth++
	return next
}

// Parent returns the path one level shallower. Panics at root.
func (p Path) Parent() Path {
	if p.depth == 0 {
		panic("lwm2m: root path has no parent")
	}
	next := p
	next.ids[next.depth-1] = 0
	next.depth--
	return next
}

// String renders the canonical "/oid/iid/rid/riid" form ("/" for root).
func (p Path) String() string {
	if p.depth == 0 {
		return "/"
	}
	var b strings.Builder
	for i := 0; i < p.depth; i++ {
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(int(p.ids[i])))
	}
	return b.String()
}

// ParsePathSegments builds a Path from decoded Uri-Path option values (each
// a decimal 0..65534 string; more than 4 segments or a 65535 segment is
// rejected).
func ParsePathSegments(segments []string) (Path, error) {
	if len(segments) > 4 {
		return Path{}, NewOpError(KindNotFound, nil)
	}
	var p Path
	for _, seg := range segments {
		n, err := strconv.Atoi(seg)
		if err != nil || n < 0 || n > 65535 {
			return Path{}, NewOpError(KindBadRequest, err)
		}
		if n == int(InvalidID) {
			return Path{}, NewOpError(KindBadRequest, nil)
		}
		p = p.Child(uint16(n))
	}
	return p, nil
}
