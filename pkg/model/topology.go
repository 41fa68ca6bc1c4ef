package model

import (
	"encoding/json"
	"fmt"
)

// LinkKind classifies the interconnect between two devices as reported by
// `nvidia-smi topo -m`.
type LinkKind int

// Link kinds, ordered roughly from closest to farthest.
const (
	LinkSelf LinkKind = iota // X: same device
	LinkPIX                  // single PCIe bridge
	LinkPXB                  // multiple PCIe bridges
	LinkPHB                  // PCIe host bridge
	LinkNode                 // same NUMA node
	LinkSys                  // across NUMA nodes (QPI/UPI)
	LinkNVLink               // NVLink, Lanes holds the bonded link count
)

var linkKindNames = [...]string{"X", "PIX", "PXB", "PHB", "NODE", "SYS", "NV"}

// String returns the topo -m token for the kind.
func (k LinkKind) String() string {
	if k < 0 || int(k) >= len(linkKindNames) {
		return fmt.Sprintf("LinkKind(%d)", int(k))
	}
	return linkKindNames[k]
}

// Link is one cell of the topology matrix.
type Link struct {
	Kind  LinkKind `json:"kind"`
	Lanes uint32   `json:"lanes,omitempty"`
}

// Token renders the link the way topo -m prints it, e.g. "PIX" or "NV4".
func (l Link) Token() string {
	if l.Kind == LinkNVLink {
		return fmt.Sprintf("NV%d", l.Lanes)
	}
	return l.Kind.String()
}

// Description returns a short human-readable explanation of the link.
func (l Link) Description() string {
	switch l.Kind {
	case LinkSelf:
		return "Self"
	case LinkPIX:
		return "Single PCIe bridge (fast)"
	case LinkPXB:
		return "Multiple PCIe bridges"
	case LinkPHB:
		return "PCIe Host Bridge"
	case LinkNode:
		return "Same NUMA node"
	case LinkSys:
		return "Cross NUMA (slow)"
	case LinkNVLink:
		return fmt.Sprintf("NVLink x%d", l.Lanes)
	}
	return "Unknown"
}

// MarshalJSON encodes the link as its topo -m token.
func (l Link) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Token())
}

// DeviceTopology is the inter-device link matrix plus per-device CPU and NUMA
// affinity. It is queried once at start-up and never mutated afterwards.
// A nil cell means the column held a token that is not a link type.
type DeviceTopology struct {
	DeviceCount  int       `json:"device_count"`
	Matrix       [][]*Link `json:"matrix"`
	CPUAffinity  []string  `json:"cpu_affinity"`
	NUMAAffinity []string  `json:"numa_affinity"`
}

// LinkBetween returns the link from device a to device b, or nil when the
// cell is absent.
func (t *DeviceTopology) LinkBetween(a, b int) *Link {
	if a < 0 || a >= len(t.Matrix) {
		return nil
	}
	row := t.Matrix[a]
	if b < 0 || b >= len(row) {
		return nil
	}
	return row[b]
}
