package lwm2m

import "strconv"

// bootstrapDiscoverVersion is the Enabler version BootstrapDiscover
// advertises on its leading root entry.
const bootstrapDiscoverVersion = "1.2"

// BuildBootstrapRequest renders the Bootstrap-Request: CON POST /bs?ep=...
func BuildBootstrapRequest(token []byte, mid uint16, endpoint string) *Message {
	return &Message{
		Type:      CoapTypeConfirmable,
		Code:      CoapCodePost,
		MessageID: mid,
		Token:     token,
		Options: []CoapOption{
			OptStr(OptUriPath, "bs"),
			OptStr(OptUriQuery, "ep="+endpoint),
		},
	}
}

// pruneNonBootstrapSecurityInstances removes every Security Instance
// except the one with Bootstrap-Server=true (§3 Invariant 6: a normal DM
// server's credentials don't survive a factory-reset-to-bootstrap-state
// sweep), returning the OSCORE Instance IDs the surviving Instance's
// OSCORE-Security-Mode resource references, if any.
func pruneNonBootstrapSecurityInstances(secObj Object) map[uint16]bool {
	keepOSCORE := map[uint16]bool{}
	for _, iid := range secObj.InstanceIDs() {
		bs, err := secObj.Read(iid, ridSecurityBootstrap, 0)
		if err != nil || !bs.Bool {
			secObj.DeleteInstance(iid)
			continue
		}
		if link, err := secObj.Read(iid, ridSecurityOSCORE, 0); err == nil && link.Kind == KindObjlnk {
			keepOSCORE[link.Link.InstanceID] = true
		}
	}
	return keepOSCORE
}

// BootstrapDelete applies a Bootstrap-Delete "/" to reg, per §3 Invariant
// 6's preservation rule: the Security Instance flagged Bootstrap-Server
// (and any OSCORE Instance it references) and every Device Instance
// survive; every other Instance of every other Object, including any
// other Security Instance, is removed. A Delete on a specific Instance
// path (not root) bypasses preservation entirely -- the server asked for
// that one, specifically.
func BootstrapDelete(reg *Registry, p Path) error {
	if p.IsRoot() {
		var keepOSCORE map[uint16]bool
		if secObj, ok := reg.Lookup(lwm2mObjectIDSecurity); ok {
			keepOSCORE = pruneNonBootstrapSecurityInstances(secObj)
		}
		for _, oid := range reg.OIDs() {
			switch oid {
			case lwm2mObjectIDSecurity, lwm2mObjectIDDevice:
				continue
			case lwm2mObjectIDOSCORE:
				obj, _ := reg.Lookup(oid)
				for _, iid := range obj.InstanceIDs() {
					if keepOSCORE[iid] {
						continue
					}
					if err := obj.DeleteInstance(iid); err != nil {
						return err
					}
				}
			default:
				obj, _ := reg.Lookup(oid)
				for _, iid := range obj.InstanceIDs() {
					if err := obj.DeleteInstance(iid); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}
	obj, err := reg.Resolve(p)
	if err != nil {
		return err
	}
	if p.IsInstance() {
		return obj.DeleteInstance(p.IID())
	}
	if p.IsObject() {
		for _, iid := range obj.InstanceIDs() {
			if err := obj.DeleteInstance(iid); err != nil {
				return err
			}
		}
		return nil
	}
	return NewOpError(KindBadRequest, nil)
}

// BootstrapWrite applies one Bootstrap-Write payload to reg through the
// same staged Transaction the regular engine uses, creating the target
// Instance first if it doesn't exist yet (bootstrap may address an
// Instance that has never been Created).
func BootstrapWrite(reg *Registry, p Path, nodes []Node) error {
	if p.IsInstance() || p.IsObject() {
		obj, ok := reg.Lookup(p.OID())
		if !ok {
			return NewOpError(KindNotFound, nil)
		}
		if p.IsInstance() && !containsID(obj.InstanceIDs(), p.IID()) {
			if err := obj.CreateInstance(p.IID(), nil); err != nil {
				return err
			}
		}
	}
	tx := BeginTransaction(reg)
	for _, n := range nodes {
		if err := tx.Stage(n.Path, n.Value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// BootstrapDiscover renders a Bootstrap-Discover response: a leading
// </>;lwm2m=X.Y entry naming the supported Enabler version, then one
// entry per Instance in ascending OID-then-IID order -- no separate
// Object-root lines. A non-bootstrap Security Instance carries
// ;ssid=N;uri="..."; a Server Instance carries ;ssid=N; an OSCORE
// Instance carries the ;ssid=N of whichever Security Instance's
// OSCORE-Security-Mode resource references it; every other Instance is a
// bare entry.
func BootstrapDiscover(reg *Registry) []byte {
	entries := []LinkEntry{{Path: RootPath(), Attrs: map[string]string{"lwm2m": bootstrapDiscoverVersion}}}

	oscoreSSID := map[uint16]int64{}
	if secObj, ok := reg.Lookup(lwm2mObjectIDSecurity); ok {
		for _, iid := range secObj.InstanceIDs() {
			bs, _ := secObj.Read(iid, ridSecurityBootstrap, 0)
			if bs.Bool {
				continue
			}
			ssid, err := secObj.Read(iid, ridSecurityShortServerID, 0)
			if err != nil {
				continue
			}
			if link, err := secObj.Read(iid, ridSecurityOSCORE, 0); err == nil && link.Kind == KindObjlnk {
				oscoreSSID[link.Link.InstanceID] = ssid.Int
			}
		}
	}

	for _, oid := range reg.OIDs() {
		obj, _ := reg.Lookup(oid)
		for _, iid := range obj.InstanceIDs() {
			entries = append(entries, LinkEntry{Path: ObjectPath(oid).Child(iid), Attrs: bootstrapDiscoverAttrs(obj, oid, iid, oscoreSSID)})
		}
	}
	return EncodeLinkFormat(entries)
}

func bootstrapDiscoverAttrs(obj Object, oid, iid uint16, oscoreSSID map[uint16]int64) map[string]string {
	attrs := map[string]string{}
	switch oid {
	case lwm2mObjectIDSecurity:
		bs, _ := obj.Read(iid, ridSecurityBootstrap, 0)
		if bs.Bool {
			break
		}
		if ssid, err := obj.Read(iid, ridSecurityShortServerID, 0); err == nil {
			attrs["ssid"] = strconv.FormatInt(ssid.Int, 10)
		}
		if uri, err := obj.Read(iid, ridSecurityURI, 0); err == nil && uri.Str != "" {
			attrs["uri"] = `"` + uri.Str + `"`
		}
	case lwm2mObjectIDServer:
		if ssid, err := obj.Read(iid, ridServerShortID, 0); err == nil {
			attrs["ssid"] = strconv.FormatInt(ssid.Int, 10)
		}
	case lwm2mObjectIDOSCORE:
		if ssid, ok := oscoreSSID[iid]; ok {
			attrs["ssid"] = strconv.FormatInt(ssid, 10)
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// BuildBootstrapFinishRequest renders Bootstrap-Finish: CON POST /bs.
func BuildBootstrapFinishRequest(token []byte, mid uint16) *Message {
	return &Message{
		Type:      CoapTypeConfirmable,
		Code:      CoapCodePost,
		MessageID: mid,
		Token:     token,
		Options:   []CoapOption{OptStr(OptUriPath, "bs")},
	}
}

// bootstrapPackQuery renders the optional ?ep= filter for a
// Bootstrap-Pack GET, when the entity hosts more than one endpoint
// identity.
func bootstrapPackQuery(endpoint string) []CoapOption {
	if endpoint == "" {
		return nil
	}
	return []CoapOption{OptStr(OptUriQuery, "ep="+endpoint)}
}
