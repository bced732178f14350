package engine

import "fmt"

// Protocol names map to wire version IDs. "SSLv2Hello" is a hello-framing
// compatibility name with no version of its own and never participates in
// negotiation.
var protocolVersionIDs = map[string]uint16{
	"SSLv3":   0x0300,
	"TLSv1":   0x0301,
	"TLSv1.1": 0x0302,
	"TLSv1.2": 0x0303,
}

var defaultProtocols = []string{"TLSv1", "TLSv1.1", "TLSv1.2"}

func versionName(v uint16) string {
	for name, id := range protocolVersionIDs {
		if id == v {
			return name
		}
	}
	return fmt.Sprintf("0x%04x", v)
}

// resolveProtocols turns a protocol-name list into the set of enabled wire
// versions. An empty list selects the modern default set.
func resolveProtocols(names []string) ([]uint16, error) {
	if len(names) == 0 {
		names = defaultProtocols
	}
	var versions []uint16
	for _, name := range names {
		if name == "SSLv2Hello" {
			continue
		}
		id, ok := protocolVersionIDs[name]
		if !ok {
			return nil, fmt.Errorf("unknown protocol %q", name)
		}
		if !containsVersion(versions, id) {
			versions = append(versions, id)
		}
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("protocol list %v enables no versions", names)
	}
	return versions, nil
}

func containsVersion(versions []uint16, v uint16) bool {
	for _, have := range versions {
		if have == v {
			return true
		}
	}
	return false
}

func versionBounds(versions []uint16) (min, max uint16) {
	min, max = versions[0], versions[0]
	for _, v := range versions[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// negotiateVersion picks the highest locally enabled version inside the
// peer's offered bounds.
func negotiateVersion(versions []uint16, peerMin, peerMax uint16) (uint16, bool) {
	var best uint16
	found := false
	for _, v := range versions {
		if v >= peerMin && v <= peerMax && (!found || v > best) {
			best = v
			found = true
		}
	}
	return best, found
}
