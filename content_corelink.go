package lwm2m

import (
	"strings"
)

// coreLinkCodec is the CoRE Link Format (RFC6690, content format 40),
// used for Register payloads, Discover responses, and Bootstrap-Discover
// responses. Nodes carry no Value for link-format output; any attributes
// are looked up by the caller and attached as each LinkEntry's Attrs
// before encoding -- this codec only renders/parses the
// "</path>;attr=val;..." grammar itself.
type coreLinkCodec struct{}

func (coreLinkCodec) ContentFormat() int { return ContentFormatLinkFormat }

// LinkEntry is one "</path>;attr=val..." entry in a link-format document.
type LinkEntry struct {
	Path  Path
	Attrs map[string]string
}

func EncodeLinkFormat(entries []LinkEntry) []byte {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('<')
		b.WriteString(e.Path.String())
		b.WriteByte('>')
		for _, k := range sortedKeys(e.Attrs) {
			b.WriteByte(';')
			b.WriteString(k)
			if v := e.Attrs[k]; v != "" {
				b.WriteByte('=')
				b.WriteString(v)
			}
		}
	}
	return []byte(b.String())
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func DecodeLinkFormat(body []byte) ([]LinkEntry, error) {
	var entries []LinkEntry
	for _, part := range strings.Split(string(body), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		segs := strings.SplitN(part, ">", 2)
		if len(segs) != 2 || !strings.HasPrefix(segs[0], "<") {
			return nil, NewOpError(KindBadRequest, nil)
		}
		pathStr := strings.TrimPrefix(segs[0], "<")
		var segments []string
		if trimmed := strings.Trim(pathStr, "/"); trimmed != "" {
			segments = strings.Split(trimmed, "/")
		}
		p, err := ParsePathSegments(segments)
		if err != nil {
			return nil, err
		}
		attrs := map[string]string{}
		for _, a := range strings.Split(strings.TrimPrefix(segs[1], ";"), ";") {
			if a == "" {
				continue
			}
			kv := strings.SplitN(a, "=", 2)
			if len(kv) == 2 {
				attrs[kv[0]] = strings.Trim(kv[1], "\"")
			} else {
				attrs[kv[0]] = ""
			}
		}
		entries = append(entries, LinkEntry{Path: p, Attrs: attrs})
	}
	return entries, nil
}

// Encode/Decode satisfy the Codec interface for registration purposes,
// though Discover/Register build their payloads through EncodeLinkFormat
// directly (they need per-entry attributes, not bare Nodes).
func (coreLinkCodec) Encode(nodes []Node) ([]byte, error) {
	entries := make([]LinkEntry, len(nodes))
	for i, n := range nodes {
		entries[i] = LinkEntry{Path: n.Path}
	}
	return EncodeLinkFormat(entries), nil
}

func (coreLinkCodec) Decode(base Path, body []byte) ([]Node, error) {
	entries, err := DecodeLinkFormat(body)
	if err != nil {
		return nil, err
	}
	nodes := make([]Node, len(entries))
	for i, e := range entries {
		nodes[i] = Node{Path: e.Path}
	}
	return nodes, nil
}
